package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ppiankov/meshspectre/internal/reporter"
	"github.com/ppiankov/meshspectre/pkg/config"
	"github.com/spf13/cobra"
)

// NewCollectCmd creates the collect command
func NewCollectCmd() *cobra.Command {
	s := newSettings()
	var format string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run discovery, health and RED once",
		Long: `Run one discovery, health and RED cycle against the mesh API, replace
the stored snapshots and print a summary.

With --dry-run only discovery runs and nothing is written.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			return s.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), s.cfg, format, cmd.OutOrStdout())
		},
	}

	s.bindMesh(cmd)
	s.bindStore(cmd)
	cmd.Flags().StringVar(&format, "format", reporter.FormatText, "Output format (text, json)")
	cmd.Flags().BoolVar(&s.cfg.DryRun, "dry-run", false, "Discover only, don't write snapshots")

	return cmd
}

// runCollect executes one collection cycle
func runCollect(ctx context.Context, cfg *config.Config, format string, out io.Writer) error {
	startTime := time.Now()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close snapshot store", slog.String("error", err.Error()))
		}
	}()

	if cfg.DryRun {
		inv, err := p.discoverer.DiscoverInventory(ctx)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		r := reporter.New(inv, nil, nil)
		r.MeshURL = cfg.MeshExternalURL
		return reporter.Write(out, format, r)
	}

	inv, err := p.discoverer.Run(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	health, err := p.health.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("health evaluation failed: %w", err)
	}
	red, err := p.red.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("RED evaluation failed: %w", err)
	}

	slog.Debug("collection complete", slog.Duration("elapsed", time.Since(startTime)))

	r := reporter.New(inv, health, red)
	r.MeshURL = cfg.MeshExternalURL
	return reporter.Write(out, format, r)
}

func validateFormat(format string) error {
	switch format {
	case reporter.FormatText, reporter.FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid --format value %q (expected text or json)", format)
	}
}
