package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/meshspectre/internal/baseline"
	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/mesh/meshtest"
	"github.com/ppiankov/meshspectre/internal/reporter"
	"github.com/ppiankov/meshspectre/internal/snapshot"
	"github.com/ppiankov/meshspectre/pkg/config"
	"github.com/spf13/cobra"
)

// isolate keeps config files and environment of the host out of a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	for _, key := range []string{
		config.EnvMeshURL, config.EnvMeshExternalURL, config.EnvDurationThreshold,
		config.EnvScanInterval, config.EnvStore, config.EnvDataDir, config.EnvClickHouseDSN,
	} {
		t.Setenv(key, "")
	}
	return dir
}

func flagHostCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{Use: "flags"}
	s.bindMesh(cmd)
	s.bindStore(cmd)
	return cmd
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "findings", err: fmt.Errorf("report: %w", &FindingsError{Count: 2}), want: ExitFindings},
		{name: "missing_snapshot", err: fmt.Errorf("no inventory: %w", &snapshot.MissingSnapshotError{Name: snapshot.NameInventory}), want: ExitNotFound},
		{name: "mesh_not_found", err: &mesh.RemoteFetchError{Endpoint: "/namespaces", StatusCode: 404, Err: errors.New("not found")}, want: ExitNotFound},
		{name: "mesh_server_error", err: &mesh.RemoteFetchError{Endpoint: "/namespaces", StatusCode: 500, Err: errors.New("boom")}, want: ExitNetwork},
		{name: "mesh_transport", err: fmt.Errorf("discovery failed: %w", &mesh.RemoteFetchError{Endpoint: "/namespaces", Err: errors.New("reset")}), want: ExitNetwork},
		{name: "dial", err: errors.New("dial tcp 10.0.0.1:443: connection refused"), want: ExitNetwork},
		{name: "missing_file", err: os.ErrNotExist, want: ExitNotFound},
		{name: "invalid", err: errors.New("invalid --format value \"xml\""), want: ExitInvalidArg},
		{name: "other", err: errors.New("boom"), want: ExitInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyError(tc.err); got != tc.want {
				t.Fatalf("expected exit code %d, got %d", tc.want, got)
			}
		})
	}
}

func TestNewServeCmdPreRunValidation(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]string
		wantErr string
	}{
		{
			name:  "defaults",
			flags: map[string]string{},
		},
		{
			name:  "valid_durations",
			flags: map[string]string{"scan-interval": "30", "request-timeout": "1m", "detail-cache-ttl": "0s"},
		},
		{
			name:    "invalid_scan_interval",
			flags:   map[string]string{"scan-interval": "soon"},
			wantErr: "invalid --scan-interval duration",
		},
		{
			name:    "invalid_request_timeout",
			flags:   map[string]string{"request-timeout": "bad"},
			wantErr: "invalid --request-timeout duration",
		},
		{
			name:    "invalid_detail_cache_ttl",
			flags:   map[string]string{"detail-cache-ttl": "bad"},
			wantErr: "invalid --detail-cache-ttl duration",
		},
		{
			name:    "invalid_mesh_url",
			flags:   map[string]string{"mesh-url": "ftp://kiali"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "clickhouse_without_dsn",
			flags:   map[string]string{"store": "clickhouse"},
			wantErr: "clickhouse dsn is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			cmd := NewServeCmd()
			for name, value := range tc.flags {
				if err := cmd.Flags().Set(name, value); err != nil {
					t.Fatalf("failed to set %s flag: %v", name, err)
				}
			}

			err := cmd.PreRunE(cmd, nil)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSettingsPrecedence(t *testing.T) {
	dir := isolate(t)
	content := "mesh_url: http://from-file:20001\nscan_interval: \"45\"\nduration_threshold: 25\n"
	if err := os.WriteFile(filepath.Join(dir, config.DefaultConfigFileYAML), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(config.EnvDurationThreshold, "12.5")

	s := newSettings()
	host := flagHostCmd(s)
	if err := host.Flags().Set(config.FlagMeshURL, "http://from-flag:20001"); err != nil {
		t.Fatalf("failed to set mesh-url flag: %v", err)
	}
	if err := s.resolve(host); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if s.cfg.MeshURL != "http://from-flag:20001" {
		t.Fatalf("expected flag to win for mesh url, got %q", s.cfg.MeshURL)
	}
	if s.cfg.ScanInterval != 45*time.Second {
		t.Fatalf("expected scan interval from file, got %s", s.cfg.ScanInterval)
	}
	if s.cfg.DurationThreshold != 12.5 {
		t.Fatalf("expected env to override file threshold, got %v", s.cfg.DurationThreshold)
	}
}

func TestSettingsConfigFlagLoadsCustomPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("kiali_url: http://legacy:20001\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	s := newSettings()
	cmd := flagHostCmd(s)
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}
	if err := s.resolve(cmd); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if s.cfg.MeshURL != "http://legacy:20001" {
		t.Fatalf("expected mesh url from --config file, got %q", s.cfg.MeshURL)
	}
}

func TestCollectAndReportLifecycle(t *testing.T) {
	dir := isolate(t)

	api := meshtest.New()
	api.AddMeshNamespace("shop", "web", "cart")
	api.AddNamespace("legacy", nil, "old")

	healthy := &mesh.AppHealth{
		WorkloadStatuses: []mesh.WorkloadStatus{meshtest.Workload("web-v1", 1, 1, 1, 1)},
		Requests: mesh.RequestHealth{
			Inbound: mesh.ProtocolRequests{HTTP: meshtest.Histogram(map[string]float64{"200": 3})},
		},
	}
	degraded := &mesh.AppHealth{
		WorkloadStatuses: []mesh.WorkloadStatus{meshtest.Workload("cart-v1", 2, 2, 1, 2)},
	}
	api.SetHealth("shop", "web", healthy)
	api.SetHealth("shop", "cart", degraded)

	webGraph := &mesh.Graph{}
	webGraph.Elements.Nodes = []mesh.GraphNode{{Data: mesh.NodeData{ID: "n1", App: "web"}}}
	edge := mesh.GraphEdge{Data: mesh.EdgeData{Source: "n0", Target: "n1", ResponseTime: meshtest.N(4)}}
	edge.Data.Traffic.Rates.HTTP = meshtest.N(3)
	webGraph.Elements.Edges = []mesh.GraphEdge{edge}
	cartGraph := &mesh.Graph{}
	cartGraph.Elements.Nodes = []mesh.GraphNode{{Data: mesh.NodeData{ID: "n2", App: "cart"}}}
	api.SetGraph("shop", "web", webGraph)
	api.SetGraph("shop", "cart", cartGraph)

	cfg := config.DefaultConfig()
	srv := httptest.NewServer(api.Handler(cfg.APIPrefix))
	defer srv.Close()

	cfg.MeshURL = srv.URL
	cfg.MeshExternalURL = "http://kiali.example.com"
	cfg.DataDir = filepath.Join(dir, "data")
	ctx := context.Background()

	var out bytes.Buffer
	if err := runCollect(ctx, cfg, reporter.FormatJSON, &out); err != nil {
		t.Fatalf("runCollect failed: %v", err)
	}

	var collected reporter.Report
	if err := json.Unmarshal(out.Bytes(), &collected); err != nil {
		t.Fatalf("collect output is not JSON: %v", err)
	}
	s := collected.Summary
	if s.Namespaces != 1 || s.Apps != 2 {
		t.Fatalf("expected 1 namespace and 2 apps, got %+v", s)
	}
	if s.Healthy != 1 || s.Unhealthy != 1 || s.WorkloadIssues != 1 {
		t.Fatalf("unexpected health summary: %+v", s)
	}
	if s.RateZero != 1 || s.Errors != 0 || s.SlowResponses != 0 {
		t.Fatalf("unexpected RED summary: %+v", s)
	}
	if collected.MeshURL != "http://kiali.example.com" {
		t.Fatalf("expected external mesh url, got %q", collected.MeshURL)
	}

	// Findings fail the report until they are baselined.
	out.Reset()
	err := runReport(ctx, cfg, reportOptions{format: reporter.FormatText, failOnFindings: true}, &out)
	var fe *FindingsError
	if !errors.As(err, &fe) || fe.Count != 2 {
		t.Fatalf("expected 2 findings, got %v", err)
	}
	if !strings.Contains(out.String(), "cart") {
		t.Fatalf("expected unhealthy app in text report, got:\n%s", out.String())
	}

	baselinePath := filepath.Join(dir, "baseline.json")
	if err := runReport(ctx, cfg, reportOptions{format: reporter.FormatText, baselinePath: baselinePath, updateBaseline: true}, &out); err != nil {
		t.Fatalf("update-baseline failed: %v", err)
	}
	known, err := baseline.Load(baselinePath)
	if err != nil || len(known) != 2 {
		t.Fatalf("expected 2 baselined fingerprints, got %d (%v)", len(known), err)
	}

	reportPath := filepath.Join(dir, "report.json")
	opts := reportOptions{format: reporter.FormatJSON, output: reportPath, failOnFindings: true, baselinePath: baselinePath}
	if err := runReport(ctx, cfg, opts, &out); err != nil {
		t.Fatalf("expected baselined findings to pass, got %v", err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	var suppressed reporter.Report
	if err := json.Unmarshal(data, &suppressed); err != nil {
		t.Fatalf("report file is not JSON: %v", err)
	}
	if suppressed.Baseline == nil || suppressed.Baseline.Suppressed != 2 || suppressed.Baseline.Remaining != 0 {
		t.Fatalf("unexpected baseline result: %+v", suppressed.Baseline)
	}
}

func TestCollectDryRunWritesNothing(t *testing.T) {
	dir := isolate(t)

	api := meshtest.New()
	api.AddMeshNamespace("shop", "web")
	cfg := config.DefaultConfig()
	srv := httptest.NewServer(api.Handler(cfg.APIPrefix))
	defer srv.Close()

	cfg.MeshURL = srv.URL
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.DryRun = true

	var out bytes.Buffer
	if err := runCollect(context.Background(), cfg, reporter.FormatText, &out); err != nil {
		t.Fatalf("runCollect failed: %v", err)
	}
	if api.Calls("health:shop/web") != 0 {
		t.Fatal("dry run must not evaluate health")
	}

	err := runReport(context.Background(), cfg, reportOptions{format: reporter.FormatText}, &out)
	if classifyError(err) != ExitNotFound {
		t.Fatalf("expected missing inventory after dry run, got %v", err)
	}
}

func TestCollectFailsWhenMeshUnreachable(t *testing.T) {
	dir := isolate(t)

	api := meshtest.New()
	api.Fail("namespaces", &mesh.RemoteFetchError{Endpoint: "/namespaces", StatusCode: 503, Err: errors.New("unavailable")})
	cfg := config.DefaultConfig()
	srv := httptest.NewServer(api.Handler(cfg.APIPrefix))
	defer srv.Close()

	cfg.MeshURL = srv.URL
	cfg.DataDir = filepath.Join(dir, "data")

	err := runCollect(context.Background(), cfg, reporter.FormatText, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected discovery failure")
	}
	if got := classifyError(err); got != ExitNetwork {
		t.Fatalf("expected network exit code, got %d (%v)", got, err)
	}
}

func TestNewReportCmdRejectsUnknownFormat(t *testing.T) {
	isolate(t)
	cmd := NewReportCmd()
	if err := cmd.Flags().Set("format", "xml"); err != nil {
		t.Fatalf("failed to set format flag: %v", err)
	}
	err := cmd.PreRunE(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid --format value") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestDeployEnv(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.Config)
		want map[string]string
	}{
		{
			name: "defaults",
			edit: func(*config.Config) {},
			want: map[string]string{
				config.EnvMeshURL:           "http://kiali.dev.io",
				config.EnvMeshExternalURL:   "http://kiali.dev.io",
				config.EnvDurationThreshold: "10",
				config.EnvScanInterval:      "20",
				config.EnvStore:             config.StoreFile,
			},
		},
		{
			name: "clickhouse",
			edit: func(c *config.Config) {
				c.MeshExternalURL = ""
				c.DurationThreshold = 7.5
				c.ScanInterval = 2 * time.Minute
				c.Store = config.StoreClickHouse
				c.ClickHouseDSN = "clickhouse://ch:9000/mesh"
			},
			want: map[string]string{
				config.EnvMeshURL:           "http://kiali.dev.io",
				config.EnvDurationThreshold: "7.5",
				config.EnvScanInterval:      "120",
				config.EnvStore:             config.StoreClickHouse,
				config.EnvClickHouseDSN:     "clickhouse://ch:9000/mesh",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.edit(cfg)
			got := deployEnv(cfg)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("expected %s=%q, got %q", k, v, got[k])
				}
			}
		})
	}
}

func TestNewDeployCmdPreRunValidation(t *testing.T) {
	isolate(t)
	cmd := NewDeployCmd()
	if err := cmd.Flags().Set("wait-timeout", "soon"); err != nil {
		t.Fatalf("failed to set wait-timeout flag: %v", err)
	}
	if err := cmd.PreRunE(cmd, nil); err == nil || !strings.Contains(err.Error(), "invalid --wait-timeout") {
		t.Fatalf("expected wait-timeout error, got %v", err)
	}

	cmd = NewDeployCmd()
	if err := cmd.Flags().Set("container-port", "70000"); err != nil {
		t.Fatalf("failed to set container-port flag: %v", err)
	}
	if err := cmd.PreRunE(cmd, nil); err == nil || !strings.Contains(err.Error(), "must be between") {
		t.Fatalf("expected port error, got %v", err)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "collect", "report", "deploy", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v", name, err)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), version) {
		t.Fatalf("expected version output, got %q", out.String())
	}
}
