// Package baseline records acknowledged findings so repeated reports only
// surface new ones.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/meshspectre/internal/models"
)

const (
	// DefaultPath is used when --update-baseline is enabled without an explicit --baseline path.
	DefaultPath = ".meshspectre-baseline.json"
	fileVersion = 1
)

// Set stores baseline fingerprints.
type Set map[string]struct{}

// File is the persisted baseline JSON payload.
type File struct {
	Version      int      `json:"version"`
	Fingerprints []string `json:"fingerprints"`
}

// Load reads a baseline file. Missing files return an empty set.
func Load(path string) (Set, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("baseline path is empty")
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("read baseline file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse baseline file: %w", err)
	}
	if file.Version != 0 && file.Version != fileVersion {
		return nil, fmt.Errorf("unsupported baseline version: %d", file.Version)
	}

	set := Set{}
	for _, fingerprint := range file.Fingerprints {
		if fingerprint == "" {
			continue
		}
		set[fingerprint] = struct{}{}
	}

	return set, nil
}

// Save writes a baseline file with sorted, unique fingerprints.
func Save(path string, set Set) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return errors.New("baseline path is empty")
	}

	dir := filepath.Dir(trimmed)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create baseline directory: %w", err)
		}
	}

	payload := File{
		Version:      fileVersion,
		Fingerprints: Sorted(set),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline file: %w", err)
	}

	if err := os.WriteFile(trimmed, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write baseline file: %w", err)
	}

	return nil
}

// AddAll inserts fingerprints into the target set.
func AddAll(target Set, fingerprints []string) {
	for _, fingerprint := range fingerprints {
		if fingerprint == "" {
			continue
		}
		target[fingerprint] = struct{}{}
	}
}

// Sorted returns sorted fingerprints from a set.
func Sorted(set Set) []string {
	fingerprints := make([]string, 0, len(set))
	for fingerprint := range set {
		fingerprints = append(fingerprints, fingerprint)
	}
	sort.Strings(fingerprints)
	return fingerprints
}

// Signals used in RED fingerprints.
const (
	SignalRate     = "rate"
	SignalError    = "error"
	SignalDuration = "duration"
)

// Findings bundles the reports whose entries count as findings. Either
// report may be nil.
type Findings struct {
	Health *models.HealthReport
	RED    *models.REDReport
}

// CountFindings returns the number of unhealthy applications plus RED
// anomalies.
func CountFindings(f Findings) int {
	total := 0
	if f.Health != nil {
		total += len(f.Health.Unhealthy)
	}
	if f.RED != nil {
		total += len(f.RED.Rate) + len(f.RED.Error) + len(f.RED.Duration)
	}
	return total
}

// CollectFingerprints extracts fingerprints for all current findings.
func CollectFingerprints(f Findings) []string {
	set := Set{}
	if f.Health != nil {
		for _, app := range f.Health.Unhealthy {
			set[FingerprintUnhealthy(app)] = struct{}{}
		}
	}
	if f.RED != nil {
		for _, e := range f.RED.Rate {
			set[FingerprintRED(SignalRate, e.Namespace, e.App)] = struct{}{}
		}
		for _, e := range f.RED.Error {
			set[FingerprintRED(SignalError, e.Namespace, e.App)] = struct{}{}
		}
		for _, e := range f.RED.Duration {
			set[FingerprintRED(SignalDuration, e.Namespace, e.App)] = struct{}{}
		}
	}
	return Sorted(set)
}

// SuppressKnown removes findings already present in the baseline set. The
// reports in f are modified in place.
func SuppressKnown(f Findings, known Set) (suppressed int, remaining int) {
	if len(known) == 0 {
		return 0, CountFindings(f)
	}

	if f.Health != nil {
		f.Health.Unhealthy, suppressed = filter(f.Health.Unhealthy, known, suppressed, FingerprintUnhealthy)
	}
	if f.RED != nil {
		f.RED.Rate, suppressed = filter(f.RED.Rate, known, suppressed, func(e models.RateEntry) string {
			return FingerprintRED(SignalRate, e.Namespace, e.App)
		})
		f.RED.Error, suppressed = filter(f.RED.Error, known, suppressed, func(e models.ErrorEntry) string {
			return FingerprintRED(SignalError, e.Namespace, e.App)
		})
		f.RED.Duration, suppressed = filter(f.RED.Duration, known, suppressed, func(e models.DurationEntry) string {
			return FingerprintRED(SignalDuration, e.Namespace, e.App)
		})
	}

	return suppressed, CountFindings(f)
}

// FingerprintUnhealthy returns a stable fingerprint for an unhealthy app.
// The reason is part of it, so a different failure resurfaces.
func FingerprintUnhealthy(app models.UnhealthyApp) string {
	return hash("unhealthy", app.Namespace, app.App, app.Reason)
}

// FingerprintRED returns a stable fingerprint for a RED anomaly. Measured
// values are left out since they change on every run.
func FingerprintRED(signal, namespace, app string) string {
	return hash("red", signal, namespace, app)
}

func filter[T any](items []T, known Set, suppressed int, fingerprint func(T) string) ([]T, int) {
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if _, exists := known[fingerprint(item)]; exists {
			suppressed++
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered, suppressed
}

func hash(parts ...string) string {
	canonical := strings.Join(parts, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
