package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Namespace discovery sources
const (
	NamespaceSourceMesh       = "mesh"
	NamespaceSourceKubernetes = "kubernetes"
)

// Snapshot store backends
const (
	StoreFile       = "file"
	StoreBadger     = "badger"
	StoreClickHouse = "clickhouse"
)

// Snapshot file formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config holds all runtime configuration. It is built once at startup and
// passed to every component explicitly.
type Config struct {
	// Mesh API settings
	MeshURL         string
	MeshExternalURL string
	APIPrefix       string
	RequestTimeout  time.Duration
	MeshRateLimit   int
	FetchRetries    int

	// Evaluation settings
	DurationThreshold   float64
	ScanInterval        time.Duration
	Concurrency         int
	UnknownOnFetchError bool
	DetailCacheTTL      time.Duration

	// Discovery settings
	NamespaceSource   string
	KubeConfig        string
	ExcludeNamespaces []string
	ExcludeApps       []string

	// Snapshot settings
	Store          string
	DataDir        string
	SnapshotFormat string
	ClickHouseDSN  string

	// Server settings
	ServerPort int

	// Operational flags
	Verbose bool
	DryRun  bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MeshURL:             "http://kiali.dev.io",
		MeshExternalURL:     "http://kiali.dev.io",
		APIPrefix:           "/kiali/api",
		RequestTimeout:      30 * time.Second,
		MeshRateLimit:       20,
		FetchRetries:        0,
		DurationThreshold:   10,
		ScanInterval:        20 * time.Second,
		Concurrency:         5,
		UnknownOnFetchError: false,
		DetailCacheTTL:      10 * time.Second,
		NamespaceSource:     NamespaceSourceMesh,
		ExcludeNamespaces:   []string{},
		ExcludeApps:         []string{},
		Store:               StoreFile,
		DataDir:             "./data",
		SnapshotFormat:      FormatJSON,
		ServerPort:          5000,
		Verbose:             false,
		DryRun:              false,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateURL("mesh url", c.MeshURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.MeshExternalURL) != "" {
		if err := validateURL("external mesh url", c.MeshExternalURL); err != nil {
			return err
		}
	}
	if c.DurationThreshold < 0 {
		return fmt.Errorf("duration threshold must be >= 0, got %v", c.DurationThreshold)
	}
	if c.ScanInterval < time.Second {
		return fmt.Errorf("scan interval must be at least 1s, got %s", c.ScanInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be >= 0, got %s", c.RequestTimeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MeshRateLimit < 0 {
		return fmt.Errorf("mesh rate limit must be >= 0, got %d", c.MeshRateLimit)
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("fetch retries must be >= 0, got %d", c.FetchRetries)
	}

	switch c.NamespaceSource {
	case NamespaceSourceMesh, NamespaceSourceKubernetes:
	default:
		return fmt.Errorf("invalid namespace source %q (expected mesh or kubernetes)", c.NamespaceSource)
	}

	switch c.Store {
	case StoreFile, StoreBadger:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("data dir is required for the %s store", c.Store)
		}
	case StoreClickHouse:
		if strings.TrimSpace(c.ClickHouseDSN) == "" {
			return fmt.Errorf("clickhouse dsn is required for the clickhouse store")
		}
	default:
		return fmt.Errorf("invalid store %q (expected file, badger or clickhouse)", c.Store)
	}

	switch c.SnapshotFormat {
	case FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("invalid snapshot format %q (expected json or yaml)", c.SnapshotFormat)
	}

	return nil
}

func validateURL(name, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: host is required", name, raw)
	}
	return nil
}
