// Package snapshot persists the inventory, health and RED documents. Each
// document is replaced as a whole and readers never observe a partial write.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/pkg/config"
)

// Document names
const (
	NameInventory = "istio_apps"
	NameHealth    = "app_health"
	NameRED       = "app_red"
)

// ErrNotFound is returned by a Backend when a document has never been written.
var ErrNotFound = errors.New("snapshot not found")

// MissingSnapshotError reports a read of a document that does not exist yet.
// It is distinct from a document with empty lists.
type MissingSnapshotError struct {
	Name string
}

func (e *MissingSnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s has not been written yet", e.Name)
}

func (e *MissingSnapshotError) Unwrap() error {
	return ErrNotFound
}

// IsMissing reports whether err means the document is absent.
func IsMissing(err error) bool {
	var missing *MissingSnapshotError
	return errors.As(err, &missing) || errors.Is(err, ErrNotFound)
}

// Backend stores opaque document payloads by name. Put must replace the
// previous payload atomically.
type Backend interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Store encodes documents and serializes writers per document.
type Store struct {
	backend Backend
	codec   Codec

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wraps backend with codec.
func New(backend Backend, codec Codec) *Store {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Store{
		backend: backend,
		codec:   codec,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	codec, err := CodecFor(cfg.SnapshotFormat)
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Store {
	case config.StoreFile, "":
		backend, err = NewFileBackend(cfg.DataDir, codec.Ext())
	case config.StoreBadger:
		bcfg := DefaultBadgerConfig()
		bcfg.Path = cfg.DataDir
		backend, err = OpenBadger(bcfg)
	case config.StoreClickHouse:
		backend, err = OpenClickHouse(ctx, cfg.ClickHouseDSN)
	default:
		return nil, fmt.Errorf("unknown snapshot store %q", cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s snapshot store: %w", cfg.Store, err)
	}

	return New(backend, codec), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) write(ctx context.Context, name string, doc interface{}) error {
	data, err := s.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	if err := s.backend.Put(ctx, name, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, name string, out interface{}) error {
	data, err := s.backend.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &MissingSnapshotError{Name: name}
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := s.codec.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// WriteInventory replaces the inventory document.
func (s *Store) WriteInventory(ctx context.Context, inv *models.Inventory) error {
	if inv == nil {
		return errors.New("inventory is nil")
	}
	return s.write(ctx, NameInventory, inv)
}

// ReadInventory returns the inventory or a *MissingSnapshotError.
func (s *Store) ReadInventory(ctx context.Context) (*models.Inventory, error) {
	inv := &models.Inventory{}
	if err := s.read(ctx, NameInventory, inv); err != nil {
		return nil, err
	}
	if inv.Namespaces == nil {
		inv.Namespaces = []models.Namespace{}
	}
	return inv, nil
}

// WriteHealth replaces the health report.
func (s *Store) WriteHealth(ctx context.Context, report *models.HealthReport) error {
	if report == nil {
		return errors.New("health report is nil")
	}
	return s.write(ctx, NameHealth, report)
}

// ReadHealth returns the health report or a *MissingSnapshotError.
func (s *Store) ReadHealth(ctx context.Context) (*models.HealthReport, error) {
	report := &models.HealthReport{}
	if err := s.read(ctx, NameHealth, report); err != nil {
		return nil, err
	}
	if report.Healthy == nil {
		report.Healthy = []models.AppRef{}
	}
	if report.Unhealthy == nil {
		report.Unhealthy = []models.UnhealthyApp{}
	}
	if report.Unknown == nil {
		report.Unknown = []models.AppRef{}
	}
	return report, nil
}

// WriteRED replaces the RED report.
func (s *Store) WriteRED(ctx context.Context, report *models.REDReport) error {
	if report == nil {
		return errors.New("RED report is nil")
	}
	return s.write(ctx, NameRED, report)
}

// ReadRED returns the RED report or a *MissingSnapshotError.
func (s *Store) ReadRED(ctx context.Context) (*models.REDReport, error) {
	report := &models.REDReport{}
	if err := s.read(ctx, NameRED, report); err != nil {
		return nil, err
	}
	if report.Rate == nil {
		report.Rate = []models.RateEntry{}
	}
	if report.Error == nil {
		report.Error = []models.ErrorEntry{}
	}
	if report.Duration == nil {
		report.Duration = []models.DurationEntry{}
	}
	return report, nil
}
