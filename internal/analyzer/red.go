package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/meshspectre/internal/collector"
	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/metrics"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/pkg/config"
)

// REDMetrics are the rate, error percentage and response time read from an
// application's graph.
type REDMetrics struct {
	Rate     float64
	Error    float64
	Duration float64
}

// REDEvaluator flags applications with zero rate, nonzero errors, or slow
// responses.
type REDEvaluator struct {
	config *config.Config
	api    mesh.API
	store  REDStore
	pool   *collector.WorkerPool
	retry  collector.Retrier
	now    func() time.Time
}

// NewREDEvaluator creates a REDEvaluator.
func NewREDEvaluator(cfg *config.Config, api mesh.API, store REDStore) *REDEvaluator {
	return &REDEvaluator{
		config: cfg,
		api:    api,
		store:  store,
		pool:   collector.NewWorkerPool(cfg.Concurrency),
		retry:  collector.NewRetrier(cfg.FetchRetries),
		now:    time.Now,
	}
}

// Evaluate measures every application and replaces the stored RED report.
// It returns a nil report and nil error when no inventory exists. Any fetch
// failure aborts the run without writing.
func (e *REDEvaluator) Evaluate(ctx context.Context) (*models.REDReport, error) {
	start := time.Now()

	inv, err := loadInventory(ctx, e.store, taskRED)
	if err != nil {
		recordFailure(taskRED, start)
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	if inv == nil {
		return nil, nil
	}

	refs := inv.Apps()
	measured, err := collector.Map(ctx, e.pool, refs, func(ctx context.Context, ref models.AppRef) (REDMetrics, error) {
		return e.Measure(ctx, ref.Namespace, ref.App)
	})
	if err != nil {
		recordFailure(taskRED, start)
		return nil, err
	}

	threshold := e.config.DurationThreshold
	report := models.NewREDReport(e.now().UTC(), threshold)
	for i, ref := range refs {
		m := measured[i]
		if m.Rate == 0 {
			report.Rate = append(report.Rate, models.RateEntry{Namespace: ref.Namespace, App: ref.App, Rate: m.Rate})
		}
		if m.Error != 0 {
			report.Error = append(report.Error, models.ErrorEntry{Namespace: ref.Namespace, App: ref.App, Error: m.Error})
		}
		if m.Duration > threshold {
			report.Duration = append(report.Duration, models.DurationEntry{Namespace: ref.Namespace, App: ref.App, Duration: m.Duration})
		}
	}

	if err := e.store.WriteRED(ctx, report); err != nil {
		recordFailure(taskRED, start)
		return nil, fmt.Errorf("failed to write RED report: %w", err)
	}

	recordSuccess(taskRED, start)
	metrics.SetRED(len(report.Rate), len(report.Error), len(report.Duration))
	slog.Info("RED report updated",
		slog.Int("apps", len(refs)),
		slog.Int("rate_zero", len(report.Rate)),
		slog.Int("errors", len(report.Error)),
		slog.Int("slow", len(report.Duration)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// Measure fetches the graph for one application and extracts its RED values.
func (e *REDEvaluator) Measure(ctx context.Context, namespace, app string) (REDMetrics, error) {
	var graph *mesh.Graph
	err := e.retry.Do(ctx, func() error {
		var fetchErr error
		graph, fetchErr = e.api.AppGraph(ctx, namespace, app)
		return fetchErr
	})
	if err != nil {
		return REDMetrics{}, fmt.Errorf("failed to fetch graph for %s/%s: %w", namespace, app, err)
	}
	m := ExtractRED(graph, app)
	slog.Debug("collected RED",
		slog.String("namespace", namespace),
		slog.String("app", app),
		slog.Float64("rate", m.Rate),
		slog.Float64("error", m.Error),
		slog.Float64("duration", m.Duration),
	)
	return m, nil
}

// ExtractRED finds the node whose app equals app and reads the edges that
// target it. When several nodes or edges match, the last one wins; values
// are not aggregated. Rate and duration come from each matching edge, the
// error percentage only when the edge reports one. Everything defaults to 0.
func ExtractRED(g *mesh.Graph, app string) REDMetrics {
	var m REDMetrics
	if g == nil {
		return m
	}

	nodeID := ""
	for _, node := range g.Elements.Nodes {
		if node.Data.App == app {
			nodeID = node.Data.ID
		}
	}
	if nodeID == "" {
		return m
	}

	for _, edge := range g.Elements.Edges {
		if edge.Data.Target != nodeID {
			continue
		}
		m.Rate = numberOrZero(edge.Data.Traffic.Rates.HTTP)
		m.Duration = numberOrZero(edge.Data.ResponseTime)
		if edge.Data.Traffic.Rates.HTTPPercentErr != nil {
			m.Error = edge.Data.Traffic.Rates.HTTPPercentErr.Float64()
		}
	}
	return m
}

func numberOrZero(n *mesh.Number) float64 {
	if n == nil {
		return 0
	}
	return n.Float64()
}
