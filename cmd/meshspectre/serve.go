package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ppiankov/meshspectre/internal/dashboard"
	"github.com/ppiankov/meshspectre/internal/logging"
	"github.com/ppiankov/meshspectre/internal/scheduler"
	"github.com/ppiankov/meshspectre/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Scheduled task names.
const (
	taskDiscovery = "discovery"
	taskHealth    = "health"
	taskRED       = "red"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	s := newSettings()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Refresh snapshots periodically and serve the dashboard",
		Long: `Start the collector: discovery, health and RED evaluation run every
scan interval and the dashboard is served on the given port.

Discovery runs once at startup. Health and RED runs before the first
inventory exists are no-ops. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return s.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitDaemon(verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, s.cfg)
		},
	}

	s.bindMesh(cmd)
	s.bindStore(cmd)
	cmd.Flags().IntVarP(&s.cfg.ServerPort, config.FlagPort, "p", s.cfg.ServerPort, "Dashboard port")

	return cmd
}

// runServe runs the scheduler and the dashboard until ctx is cancelled or
// the dashboard fails.
func runServe(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close snapshot store", slog.String("error", err.Error()))
		}
	}()

	sched, err := newScheduler(cfg, p)
	if err != nil {
		return err
	}

	srv, err := dashboard.New(cfg, p.store, p.health)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx, fmt.Sprintf(":%d", cfg.ServerPort))
	})

	slog.Info("meshspectre started",
		slog.String("mesh_url", cfg.MeshURL),
		slog.Duration("scan_interval", cfg.ScanInterval),
		slog.Int("port", cfg.ServerPort),
		slog.String("store", cfg.Store),
	)
	return g.Wait()
}

// newScheduler wires the three periodic tasks. The first successful
// discovery triggers health and RED right away so the dashboard does not
// wait a full interval for them.
func newScheduler(cfg *config.Config, p *pipeline) (*scheduler.Scheduler, error) {
	var (
		sched     *scheduler.Scheduler
		firstSeen sync.Once
	)

	discovery := func(ctx context.Context) error {
		if _, err := p.discoverer.Run(ctx); err != nil {
			return err
		}
		firstSeen.Do(func() {
			sched.RunNow(taskHealth)
			sched.RunNow(taskRED)
		})
		return nil
	}

	sched, err := scheduler.New(cfg.ScanInterval,
		scheduler.Task{Name: taskDiscovery, Run: discovery, Immediate: true},
		scheduler.Task{Name: taskHealth, Run: func(ctx context.Context) error {
			_, err := p.health.Evaluate(ctx)
			return err
		}},
		scheduler.Task{Name: taskRED, Run: func(ctx context.Context) error {
			_, err := p.red.Evaluate(ctx)
			return err
		}},
	)
	return sched, err
}
