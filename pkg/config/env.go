package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables recognized at startup.
const (
	EnvMeshURL           = "KIALI_URL"
	EnvMeshExternalURL   = "KIALI_EXT_URL"
	EnvDurationThreshold = "RESP_DURATION_THRESHOLD"
	EnvScanInterval      = "SCAN_INTERVAL"
	EnvStore             = "MESHSPECTRE_STORE"
	EnvDataDir           = "MESHSPECTRE_DATA_DIR"
	EnvClickHouseDSN     = "MESHSPECTRE_CLICKHOUSE_DSN"
)

// Flag names shared by commands. Sources never override a flag that was set
// explicitly on the command line.
const (
	FlagMeshURL             = "mesh-url"
	FlagMeshExternalURL     = "mesh-external-url"
	FlagDurationThreshold   = "duration-threshold"
	FlagScanInterval        = "scan-interval"
	FlagRequestTimeout      = "request-timeout"
	FlagMeshRateLimit       = "mesh-rate-limit"
	FlagFetchRetries        = "fetch-retries"
	FlagConcurrency         = "concurrency"
	FlagUnknownOnFetchError = "unknown-on-fetch-error"
	FlagDetailCacheTTL      = "detail-cache-ttl"
	FlagNamespaceSource     = "namespace-source"
	FlagKubeConfig          = "kubeconfig"
	FlagExcludeNamespaces   = "exclude-namespace"
	FlagExcludeApps         = "exclude-app"
	FlagStore               = "store"
	FlagDataDir             = "data-dir"
	FlagSnapshotFormat      = "snapshot-format"
	FlagClickHouseDSN       = "clickhouse-dsn"
	FlagPort                = "port"
)

// LookupFunc matches the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv copies recognized environment values into cfg unless the matching
// flag was set explicitly.
func ApplyEnv(cfg *Config, lookup LookupFunc, skip func(flag string) bool) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	if skip == nil {
		skip = func(string) bool { return false }
	}

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvMeshURL); ok && !skip(FlagMeshURL) {
		cfg.MeshURL = v
	}
	if v, ok := get(EnvMeshExternalURL); ok && !skip(FlagMeshExternalURL) {
		cfg.MeshExternalURL = v
	}
	if v, ok := get(EnvDurationThreshold); ok && !skip(FlagDurationThreshold) {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvDurationThreshold, v, err)
		}
		cfg.DurationThreshold = threshold
	}
	if v, ok := get(EnvScanInterval); ok && !skip(FlagScanInterval) {
		interval, err := ParseInterval(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvScanInterval, v, err)
		}
		cfg.ScanInterval = interval
	}
	if v, ok := get(EnvStore); ok && !skip(FlagStore) {
		cfg.Store = v
	}
	if v, ok := get(EnvDataDir); ok && !skip(FlagDataDir) {
		cfg.DataDir = v
	}
	if v, ok := get(EnvClickHouseDSN); ok && !skip(FlagClickHouseDSN) {
		cfg.ClickHouseDSN = v
	}

	return nil
}

// Resolve layers the config file and the environment under explicitly set
// flags, then normalizes and validates the result.
func Resolve(cfg *Config, file *FileConfig, lookup LookupFunc, flagChanged func(flag string) bool) error {
	if err := file.ApplyTo(cfg, flagChanged); err != nil {
		return err
	}
	if err := ApplyEnv(cfg, lookup, flagChanged); err != nil {
		return err
	}
	cfg.Normalize()
	return cfg.Validate()
}
