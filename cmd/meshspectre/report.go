package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ppiankov/meshspectre/internal/baseline"
	"github.com/ppiankov/meshspectre/internal/reporter"
	"github.com/ppiankov/meshspectre/internal/snapshot"
	"github.com/ppiankov/meshspectre/pkg/config"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	format         string
	output         string
	failOnFindings bool
	baselinePath   string
	updateBaseline bool
}

// NewReportCmd creates the report command
func NewReportCmd() *cobra.Command {
	s := newSettings()
	opts := reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the latest stored snapshots",
		Long: `Read the stored inventory, health and RED snapshots and print them as
text or JSON. Nothing is fetched from the mesh API.

Use --baseline to hide findings acknowledged earlier with --update-baseline,
and --fail-on-findings to exit with code 6 when findings remain.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			return s.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), s.cfg, opts, cmd.OutOrStdout())
		},
	}

	s.bindStore(cmd)
	cmd.Flags().StringVar(&s.cfg.MeshExternalURL, config.FlagMeshExternalURL, s.cfg.MeshExternalURL, "Kiali URL shown in the report (env KIALI_EXT_URL)")
	cmd.Flags().StringVar(&opts.format, "format", reporter.FormatText, "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.failOnFindings, "fail-on-findings", false, "Exit with code 6 when findings remain")
	cmd.Flags().StringVar(&opts.baselinePath, "baseline", "", "Baseline file with acknowledged findings")
	cmd.Flags().BoolVar(&opts.updateBaseline, "update-baseline", false, "Add current findings to the baseline file (default "+baseline.DefaultPath+")")

	return cmd
}

// runReport renders the stored snapshots
func runReport(ctx context.Context, cfg *config.Config, opts reportOptions, stdout io.Writer) error {
	store, err := snapshot.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close snapshot store", slog.String("error", err.Error()))
		}
	}()

	inv, err := store.ReadInventory(ctx)
	if err != nil {
		return fmt.Errorf("no inventory yet, run collect or serve first: %w", err)
	}
	health, err := store.ReadHealth(ctx)
	if err != nil && !snapshot.IsMissing(err) {
		return err
	}
	red, err := store.ReadRED(ctx)
	if err != nil && !snapshot.IsMissing(err) {
		return err
	}

	findings := baseline.Findings{Health: health, RED: red}
	result, err := applyBaseline(findings, opts)
	if err != nil {
		return err
	}

	r := reporter.New(inv, health, red)
	r.MeshURL = cfg.MeshExternalURL
	r.Baseline = result

	if err := writeReport(stdout, opts, r); err != nil {
		return err
	}

	if opts.failOnFindings {
		if count := baseline.CountFindings(findings); count > 0 {
			return &FindingsError{Count: count}
		}
	}
	return nil
}

// applyBaseline either records the current findings or suppresses the known
// ones. Updating the baseline leaves findings untouched.
func applyBaseline(f baseline.Findings, opts reportOptions) (*reporter.BaselineResult, error) {
	path := opts.baselinePath
	if opts.updateBaseline {
		if path == "" {
			path = baseline.DefaultPath
		}
		set, err := baseline.Load(path)
		if err != nil {
			return nil, err
		}
		before := len(set)
		baseline.AddAll(set, baseline.CollectFingerprints(f))
		if err := baseline.Save(path, set); err != nil {
			return nil, err
		}
		slog.Info("baseline updated",
			slog.String("path", path),
			slog.Int("added", len(set)-before),
			slog.Int("total", len(set)),
		)
		return nil, nil
	}

	if path == "" {
		return nil, nil
	}
	known, err := baseline.Load(path)
	if err != nil {
		return nil, err
	}
	suppressed, remaining := baseline.SuppressKnown(f, known)
	return &reporter.BaselineResult{Path: path, Suppressed: suppressed, Remaining: remaining}, nil
}

func writeReport(stdout io.Writer, opts reportOptions, r *reporter.Report) error {
	if opts.output == "" {
		return reporter.Write(stdout, opts.format, r)
	}

	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := reporter.Write(f, opts.format, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
