// Package collector discovers mesh-enabled namespaces and their applications,
// and provides the fetch plumbing (retry, worker pool) used by the evaluators.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/metrics"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/pkg/config"
)

const (
	// InjectionLabel marks a namespace for sidecar injection.
	InjectionLabel = "istio-injection"
	// InjectionEnabled is the label value that qualifies a namespace.
	InjectionEnabled = "enabled"

	taskDiscovery = "discovery"
)

// MalformedLabelError reports a namespace whose labels could not be read.
// Discovery treats it as a non-match.
type MalformedLabelError struct {
	Namespace string
	Err       error
}

func (e *MalformedLabelError) Error() string {
	return fmt.Sprintf("namespace %q has malformed labels: %v", e.Namespace, e.Err)
}

func (e *MalformedLabelError) Unwrap() error {
	return e.Err
}

// NamespaceLister lists mesh-enabled namespaces from a source other than
// the mesh API.
type NamespaceLister interface {
	ListMeshNamespaces(ctx context.Context) ([]string, error)
}

// InventoryWriter persists a completed inventory.
type InventoryWriter interface {
	WriteInventory(ctx context.Context, inv *models.Inventory) error
}

// Discoverer builds the application inventory.
type Discoverer struct {
	config     *config.Config
	api        mesh.API
	store      InventoryWriter
	namespaces NamespaceLister
	pool       *WorkerPool
	retry      Retrier
	now        func() time.Time
}

// Option customizes a Discoverer.
type Option func(*Discoverer)

// WithNamespaceLister replaces mesh API namespace discovery.
func WithNamespaceLister(l NamespaceLister) Option {
	return func(d *Discoverer) {
		d.namespaces = l
	}
}

// WithClock overrides the time source used for generated_at.
func WithClock(now func() time.Time) Option {
	return func(d *Discoverer) {
		d.now = now
	}
}

// NewDiscoverer creates a Discoverer. store may be nil when only the Discover
// methods are used.
func NewDiscoverer(cfg *config.Config, api mesh.API, store InventoryWriter, opts ...Option) *Discoverer {
	d := &Discoverer{
		config: cfg,
		api:    api,
		store:  store,
		pool:   NewWorkerPool(cfg.Concurrency),
		retry:  NewRetrier(cfg.FetchRetries),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiscoverNamespaces returns the names of mesh-enabled namespaces in API
// order. Namespaces without the injection label, or with labels that cannot
// be read, are skipped.
func (d *Discoverer) DiscoverNamespaces(ctx context.Context) ([]string, error) {
	if d.namespaces != nil {
		names, err := d.namespaces.ListMeshNamespaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list namespaces: %w", err)
		}
		return d.filterNamespaces(names), nil
	}

	var items []mesh.NamespaceInfo
	err := d.retry.Do(ctx, func() error {
		var fetchErr error
		items, fetchErr = d.api.Namespaces(ctx)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch namespaces: %w", err)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		enabled, err := injectionEnabled(item)
		if err != nil {
			slog.Debug("skipping namespace",
				slog.String("namespace", item.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if enabled {
			names = append(names, item.Name)
		}
	}

	return d.filterNamespaces(names), nil
}

// DiscoverInventory lists the applications of every mesh-enabled namespace.
// Any fetch failure aborts discovery.
func (d *Discoverer) DiscoverInventory(ctx context.Context) (*models.Inventory, error) {
	names, err := d.DiscoverNamespaces(ctx)
	if err != nil {
		return nil, err
	}

	namespaces, err := Map(ctx, d.pool, names, func(ctx context.Context, ns string) (models.Namespace, error) {
		return d.discoverApps(ctx, ns)
	})
	if err != nil {
		return nil, err
	}

	return &models.Inventory{
		GeneratedAt: d.now().UTC(),
		Namespaces:  namespaces,
	}, nil
}

// Run discovers the inventory and replaces the stored one. Nothing is written
// when discovery fails.
func (d *Discoverer) Run(ctx context.Context) (*models.Inventory, error) {
	start := time.Now()

	inv, err := d.DiscoverInventory(ctx)
	if err != nil {
		metrics.RecordRun(taskDiscovery, metrics.StatusError, time.Since(start).Seconds())
		return nil, err
	}

	if d.store != nil {
		if err := d.store.WriteInventory(ctx, inv); err != nil {
			metrics.RecordRun(taskDiscovery, metrics.StatusError, time.Since(start).Seconds())
			return nil, fmt.Errorf("failed to write inventory: %w", err)
		}
	}

	metrics.RecordRun(taskDiscovery, metrics.StatusSuccess, time.Since(start).Seconds())
	metrics.RecordSuccess(taskDiscovery, float64(time.Now().Unix()))
	metrics.SetInventory(len(inv.Namespaces), inv.AppCount())

	slog.Info("inventory updated",
		slog.Int("namespaces", len(inv.Namespaces)),
		slog.Int("apps", inv.AppCount()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return inv, nil
}

func (d *Discoverer) discoverApps(ctx context.Context, namespace string) (models.Namespace, error) {
	var list *mesh.AppList
	err := d.retry.Do(ctx, func() error {
		var fetchErr error
		list, fetchErr = d.api.Apps(ctx, namespace)
		return fetchErr
	})
	if err != nil {
		return models.Namespace{}, fmt.Errorf("failed to fetch apps for namespace %s: %w", namespace, err)
	}

	apps := make([]string, 0, len(list.Applications))
	seen := make(map[string]struct{}, len(list.Applications))
	for _, app := range list.Applications {
		if app.Name == "" {
			continue
		}
		if _, dup := seen[app.Name]; dup {
			continue
		}
		seen[app.Name] = struct{}{}
		if d.config.IsAppExcluded(namespace, app.Name) {
			slog.Debug("app excluded",
				slog.String("namespace", namespace),
				slog.String("app", app.Name),
			)
			continue
		}
		apps = append(apps, app.Name)
	}

	return models.Namespace{Name: namespace, Apps: apps}, nil
}

// filterNamespaces drops empty, duplicate, and excluded names, keeping order.
func (d *Discoverer) filterNamespaces(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if d.config.IsNamespaceExcluded(name) {
			slog.Debug("namespace excluded", slog.String("namespace", name))
			continue
		}
		out = append(out, name)
	}
	return out
}

var errLabelsNotObject = errors.New("labels are not an object")

// injectionEnabled reports whether ns carries istio-injection=enabled.
// Missing labels are a plain non-match; unreadable ones are a MalformedLabelError.
func injectionEnabled(ns mesh.NamespaceInfo) (bool, error) {
	raw := bytes.TrimSpace(ns.Labels)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}

	var labels map[string]interface{}
	if err := json.Unmarshal(raw, &labels); err != nil {
		return false, &MalformedLabelError{Namespace: ns.Name, Err: errLabelsNotObject}
	}

	value, ok := labels[InjectionLabel]
	if !ok {
		return false, nil
	}
	s, ok := value.(string)
	if !ok {
		return false, &MalformedLabelError{
			Namespace: ns.Name,
			Err:       fmt.Errorf("%s label is %T, not a string", InjectionLabel, value),
		}
	}
	return s == InjectionEnabled, nil
}
