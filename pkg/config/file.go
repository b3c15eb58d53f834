package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFileYAML is the canonical config filename.
	DefaultConfigFileYAML = ".meshspectre.yaml"
	// DefaultConfigFileYML is a compatible alternate config filename.
	DefaultConfigFileYML = ".meshspectre.yml"
)

// FileConfig represents values loaded from a .meshspectre.yaml file.
// Pointer fields distinguish "unset" from zero values.
type FileConfig struct {
	MeshURL             string   `yaml:"mesh_url"`
	KialiURL            string   `yaml:"kiali_url"`
	MeshExternalURL     string   `yaml:"mesh_external_url"`
	DurationThreshold   *float64 `yaml:"duration_threshold"`
	ScanInterval        string   `yaml:"scan_interval"`
	RequestTimeout      string   `yaml:"request_timeout"`
	MeshRateLimit       *int     `yaml:"mesh_rate_limit"`
	FetchRetries        *int     `yaml:"fetch_retries"`
	Concurrency         *int     `yaml:"concurrency"`
	UnknownOnFetchError *bool    `yaml:"unknown_on_fetch_error"`
	DetailCacheTTL      string   `yaml:"detail_cache_ttl"`
	NamespaceSource     string   `yaml:"namespace_source"`
	KubeConfig          string   `yaml:"kubeconfig"`
	ExcludeNamespaces   []string `yaml:"exclude_namespaces"`
	ExcludeApps         []string `yaml:"exclude_apps"`
	Store               string   `yaml:"store"`
	DataDir             string   `yaml:"data_dir"`
	SnapshotFormat      string   `yaml:"snapshot_format"`
	ClickHouseDSN       string   `yaml:"clickhouse_dsn"`
	ServerPort          *int     `yaml:"port"`
}

// MeshEndpoint returns the configured mesh URL, accepting the legacy kiali_url key.
func (fc *FileConfig) MeshEndpoint() string {
	if fc == nil {
		return ""
	}
	if u := strings.TrimSpace(fc.MeshURL); u != "" {
		return u
	}
	return strings.TrimSpace(fc.KialiURL)
}

// Normalize trims and removes empty items from list fields.
func (fc *FileConfig) Normalize() {
	if fc == nil {
		return
	}
	fc.ExcludeNamespaces = normalizeList(fc.ExcludeNamespaces)
	fc.ExcludeApps = normalizeList(fc.ExcludeApps)
	fc.MeshURL = strings.TrimSpace(fc.MeshURL)
	fc.KialiURL = strings.TrimSpace(fc.KialiURL)
	fc.MeshExternalURL = strings.TrimSpace(fc.MeshExternalURL)
	fc.ScanInterval = strings.TrimSpace(fc.ScanInterval)
	fc.RequestTimeout = strings.TrimSpace(fc.RequestTimeout)
	fc.DetailCacheTTL = strings.TrimSpace(fc.DetailCacheTTL)
	fc.NamespaceSource = strings.TrimSpace(fc.NamespaceSource)
	fc.KubeConfig = strings.TrimSpace(fc.KubeConfig)
	fc.Store = strings.TrimSpace(fc.Store)
	fc.DataDir = strings.TrimSpace(fc.DataDir)
	fc.SnapshotFormat = strings.TrimSpace(fc.SnapshotFormat)
	fc.ClickHouseDSN = strings.TrimSpace(fc.ClickHouseDSN)
}

// AutoLoadFile discovers and loads the first available config file.
func AutoLoadFile() (*FileConfig, string, error) {
	candidates := []string{
		DefaultConfigFileYAML,
		DefaultConfigFileYML,
	}

	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, DefaultConfigFileYAML),
			filepath.Join(homeDir, DefaultConfigFileYML),
		)
	}

	return LoadFirstExistingFile(candidates)
}

// LoadFirstExistingFile loads the first config file that exists in paths.
func LoadFirstExistingFile(paths []string) (*FileConfig, string, error) {
	for _, path := range paths {
		candidate := strings.TrimSpace(path)
		if candidate == "" {
			continue
		}

		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("failed to access config file %q: %w", candidate, err)
		}
		if info.IsDir() {
			return nil, "", fmt.Errorf("config path %q is a directory, expected a file", candidate)
		}

		cfg, err := LoadFile(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}

	return nil, "", nil
}

// LoadFile loads config values from a specific YAML file path.
func LoadFile(path string) (*FileConfig, error) {
	filename := strings.TrimSpace(path)
	if filename == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", filename, err)
	}

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", filename, err)
	}

	cfg.Normalize()
	return cfg, nil
}

// ApplyTo copies every set file value into cfg unless skip reports that the
// matching command-line flag was given explicitly.
func (fc *FileConfig) ApplyTo(cfg *Config, skip func(flag string) bool) error {
	if fc == nil || cfg == nil {
		return nil
	}
	if skip == nil {
		skip = func(string) bool { return false }
	}

	if v := fc.MeshEndpoint(); v != "" && !skip(FlagMeshURL) {
		cfg.MeshURL = v
	}
	if fc.MeshExternalURL != "" && !skip(FlagMeshExternalURL) {
		cfg.MeshExternalURL = fc.MeshExternalURL
	}
	if fc.DurationThreshold != nil && !skip(FlagDurationThreshold) {
		cfg.DurationThreshold = *fc.DurationThreshold
	}
	if fc.ScanInterval != "" && !skip(FlagScanInterval) {
		d, err := ParseInterval(fc.ScanInterval)
		if err != nil {
			return fmt.Errorf("invalid scan_interval in config file: %w", err)
		}
		cfg.ScanInterval = d
	}
	if fc.RequestTimeout != "" && !skip(FlagRequestTimeout) {
		d, err := ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout in config file: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if fc.DetailCacheTTL != "" && !skip(FlagDetailCacheTTL) {
		d, err := ParseDuration(fc.DetailCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid detail_cache_ttl in config file: %w", err)
		}
		cfg.DetailCacheTTL = d
	}
	if fc.MeshRateLimit != nil && !skip(FlagMeshRateLimit) {
		cfg.MeshRateLimit = *fc.MeshRateLimit
	}
	if fc.FetchRetries != nil && !skip(FlagFetchRetries) {
		cfg.FetchRetries = *fc.FetchRetries
	}
	if fc.Concurrency != nil && !skip(FlagConcurrency) {
		cfg.Concurrency = *fc.Concurrency
	}
	if fc.UnknownOnFetchError != nil && !skip(FlagUnknownOnFetchError) {
		cfg.UnknownOnFetchError = *fc.UnknownOnFetchError
	}
	if fc.NamespaceSource != "" && !skip(FlagNamespaceSource) {
		cfg.NamespaceSource = fc.NamespaceSource
	}
	if fc.KubeConfig != "" && !skip(FlagKubeConfig) {
		cfg.KubeConfig = fc.KubeConfig
	}
	if len(fc.ExcludeNamespaces) > 0 && !skip(FlagExcludeNamespaces) {
		cfg.ExcludeNamespaces = append([]string{}, fc.ExcludeNamespaces...)
	}
	if len(fc.ExcludeApps) > 0 && !skip(FlagExcludeApps) {
		cfg.ExcludeApps = append([]string{}, fc.ExcludeApps...)
	}
	if fc.Store != "" && !skip(FlagStore) {
		cfg.Store = fc.Store
	}
	if fc.DataDir != "" && !skip(FlagDataDir) {
		cfg.DataDir = fc.DataDir
	}
	if fc.SnapshotFormat != "" && !skip(FlagSnapshotFormat) {
		cfg.SnapshotFormat = fc.SnapshotFormat
	}
	if fc.ClickHouseDSN != "" && !skip(FlagClickHouseDSN) {
		cfg.ClickHouseDSN = fc.ClickHouseDSN
	}
	if fc.ServerPort != nil && !skip(FlagPort) {
		cfg.ServerPort = *fc.ServerPort
	}

	return nil
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
