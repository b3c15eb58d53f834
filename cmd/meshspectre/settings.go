package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ppiankov/meshspectre/internal/analyzer"
	"github.com/ppiankov/meshspectre/internal/collector"
	"github.com/ppiankov/meshspectre/internal/k8s"
	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/snapshot"
	"github.com/ppiankov/meshspectre/pkg/config"
	"github.com/spf13/cobra"
)

const flagConfig = "config"

// settings holds the config shared by commands plus the raw values of flags
// that need custom parsing.
type settings struct {
	cfg        *config.Config
	configPath string

	scanInterval   string
	requestTimeout string
	detailCacheTTL string
}

func newSettings() *settings {
	return &settings{cfg: config.DefaultConfig()}
}

// bindMesh registers the mesh API, evaluation and discovery flags.
func (s *settings) bindMesh(cmd *cobra.Command) {
	cfg := s.cfg
	fs := cmd.Flags()

	fs.StringVar(&cfg.MeshURL, config.FlagMeshURL, cfg.MeshURL, "Kiali base URL (env KIALI_URL)")
	fs.StringVar(&cfg.MeshExternalURL, config.FlagMeshExternalURL, cfg.MeshExternalURL, "Kiali URL shown to users (env KIALI_EXT_URL)")
	fs.StringVar(&s.requestTimeout, config.FlagRequestTimeout, "30s", "Mesh API request timeout (e.g., 30s, 1m)")
	fs.IntVar(&cfg.MeshRateLimit, config.FlagMeshRateLimit, cfg.MeshRateLimit, "Mesh API rate limit (requests/sec, 0 disables)")
	fs.IntVar(&cfg.FetchRetries, config.FlagFetchRetries, cfg.FetchRetries, "Retries for failed mesh API calls")

	fs.Float64Var(&cfg.DurationThreshold, config.FlagDurationThreshold, cfg.DurationThreshold, "Response time threshold in ms (env RESP_DURATION_THRESHOLD)")
	fs.StringVar(&s.scanInterval, config.FlagScanInterval, "20", "Refresh interval, seconds or with unit (env SCAN_INTERVAL)")
	fs.IntVar(&cfg.Concurrency, config.FlagConcurrency, cfg.Concurrency, "Parallel mesh API calls per run")
	fs.BoolVar(&cfg.UnknownOnFetchError, config.FlagUnknownOnFetchError, cfg.UnknownOnFetchError, "Classify apps as unknown instead of aborting when their health cannot be fetched")
	fs.StringVar(&s.detailCacheTTL, config.FlagDetailCacheTTL, "10s", "Drill-down cache TTL (0 disables)")

	fs.StringVar(&cfg.NamespaceSource, config.FlagNamespaceSource, cfg.NamespaceSource, "Namespace source (mesh, kubernetes)")
	fs.StringVar(&cfg.KubeConfig, config.FlagKubeConfig, "", "Path to kubeconfig (default: in-cluster, then ~/.kube/config)")
	fs.StringSliceVar(&cfg.ExcludeNamespaces, config.FlagExcludeNamespaces, nil, "Namespaces to skip (glob, repeatable)")
	fs.StringSliceVar(&cfg.ExcludeApps, config.FlagExcludeApps, nil, "Apps to skip as app or namespace/app (glob, repeatable)")
}

// bindStore registers the snapshot store flags and the config file path.
func (s *settings) bindStore(cmd *cobra.Command) {
	cfg := s.cfg
	fs := cmd.Flags()

	fs.StringVar(&s.configPath, flagConfig, "", "Config file (default: .meshspectre.yaml in cwd or home)")
	fs.StringVar(&cfg.Store, config.FlagStore, cfg.Store, "Snapshot store (file, badger, clickhouse)")
	fs.StringVar(&cfg.DataDir, config.FlagDataDir, cfg.DataDir, "Snapshot directory for the file and badger stores")
	fs.StringVar(&cfg.SnapshotFormat, config.FlagSnapshotFormat, cfg.SnapshotFormat, "Snapshot format for the file store (json, yaml)")
	fs.StringVar(&cfg.ClickHouseDSN, config.FlagClickHouseDSN, "", "ClickHouse DSN for the clickhouse store")
}

// resolve parses the custom flags and layers the config file and environment
// under the flags given explicitly.
func (s *settings) resolve(cmd *cobra.Command) error {
	changed := cmd.Flags().Changed
	var err error

	if changed(config.FlagScanInterval) {
		s.cfg.ScanInterval, err = config.ParseInterval(s.scanInterval)
		if err != nil {
			return fmt.Errorf("invalid --scan-interval duration: %w", err)
		}
	}
	if changed(config.FlagRequestTimeout) {
		s.cfg.RequestTimeout, err = config.ParseDuration(s.requestTimeout)
		if err != nil {
			return fmt.Errorf("invalid --request-timeout duration: %w", err)
		}
	}
	if changed(config.FlagDetailCacheTTL) {
		s.cfg.DetailCacheTTL, err = config.ParseDuration(s.detailCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid --detail-cache-ttl duration: %w", err)
		}
	}

	file, path, err := s.loadFile()
	if err != nil {
		return err
	}
	if file != nil {
		slog.Debug("config file loaded", slog.String("path", path))
	}

	s.cfg.Verbose = verbose
	return config.Resolve(s.cfg, file, os.LookupEnv, changed)
}

func (s *settings) loadFile() (*config.FileConfig, string, error) {
	if s.configPath == "" {
		return config.AutoLoadFile()
	}
	file, err := config.LoadFile(s.configPath)
	if err != nil {
		return nil, "", err
	}
	return file, s.configPath, nil
}

// pipeline is the wired collection chain shared by serve and collect.
type pipeline struct {
	store      *snapshot.Store
	discoverer *collector.Discoverer
	health     *analyzer.HealthEvaluator
	red        *analyzer.REDEvaluator
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	store, err := snapshot.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	api, err := mesh.NewClient(mesh.Options{
		BaseURL:   cfg.MeshURL,
		APIPrefix: cfg.APIPrefix,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.MeshRateLimit,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var opts []collector.Option
	if cfg.NamespaceSource == config.NamespaceSourceKubernetes {
		kc, err := k8s.NewClient(cfg.KubeConfig)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if cfg.MeshRateLimit > 0 {
			kc = kc.WithLimiter(mesh.NewRateLimiter(cfg.MeshRateLimit))
		}
		opts = append(opts, collector.WithNamespaceLister(kc))
	}

	return &pipeline{
		store:      store,
		discoverer: collector.NewDiscoverer(cfg, api, store, opts...),
		health:     analyzer.NewHealthEvaluator(cfg, api, store),
		red:        analyzer.NewREDEvaluator(cfg, api, store),
	}, nil
}

func (p *pipeline) Close() error {
	return p.store.Close()
}
