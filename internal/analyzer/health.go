package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ppiankov/meshspectre/internal/collector"
	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/metrics"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/pkg/config"
)

// Verdict is the health classification of one application.
type Verdict struct {
	State  string
	Reason string
}

// HealthEvaluator classifies every inventory application as healthy,
// unhealthy, or unknown.
type HealthEvaluator struct {
	config *config.Config
	api    mesh.API
	store  HealthStore
	pool   *collector.WorkerPool
	retry  collector.Retrier
	cache  *DetailCache
	now    func() time.Time
}

// NewHealthEvaluator creates a HealthEvaluator.
func NewHealthEvaluator(cfg *config.Config, api mesh.API, store HealthStore) *HealthEvaluator {
	return &HealthEvaluator{
		config: cfg,
		api:    api,
		store:  store,
		pool:   collector.NewWorkerPool(cfg.Concurrency),
		retry:  collector.NewRetrier(cfg.FetchRetries),
		cache:  NewDetailCache(cfg.DetailCacheTTL),
		now:    time.Now,
	}
}

// Evaluate classifies every application and replaces the stored health
// report. It returns a nil report and nil error when no inventory exists.
// A fetch failure aborts the run and leaves the previous report in place,
// unless the config asks for such apps to be reported as unknown.
func (e *HealthEvaluator) Evaluate(ctx context.Context) (*models.HealthReport, error) {
	start := time.Now()

	inv, err := loadInventory(ctx, e.store, taskHealth)
	if err != nil {
		recordFailure(taskHealth, start)
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	if inv == nil {
		return nil, nil
	}

	refs := inv.Apps()
	verdicts, err := collector.Map(ctx, e.pool, refs, func(ctx context.Context, ref models.AppRef) (Verdict, error) {
		v, err := e.Classify(ctx, ref.Namespace, ref.App)
		if err != nil && e.config.UnknownOnFetchError && mesh.IsRemoteFetchError(err) {
			slog.Warn("health unavailable, marking app unknown",
				slog.String("namespace", ref.Namespace),
				slog.String("app", ref.App),
				slog.String("error", err.Error()),
			)
			return Verdict{State: models.StateUnknown}, nil
		}
		return v, err
	})
	if err != nil {
		recordFailure(taskHealth, start)
		return nil, err
	}

	report := models.NewHealthReport(e.now().UTC())
	for i, ref := range refs {
		switch verdicts[i].State {
		case models.StateHealthy:
			report.Healthy = append(report.Healthy, ref)
		case models.StateUnhealthy:
			report.Unhealthy = append(report.Unhealthy, models.UnhealthyApp{
				Namespace: ref.Namespace,
				App:       ref.App,
				Reason:    verdicts[i].Reason,
			})
		default:
			report.Unknown = append(report.Unknown, ref)
		}
	}

	if err := e.store.WriteHealth(ctx, report); err != nil {
		recordFailure(taskHealth, start)
		return nil, fmt.Errorf("failed to write health report: %w", err)
	}

	recordSuccess(taskHealth, start)
	metrics.SetHealth(len(report.Healthy), len(report.Unhealthy), len(report.Unknown))
	slog.Info("health report updated",
		slog.Int("healthy", len(report.Healthy)),
		slog.Int("unhealthy", len(report.Unhealthy)),
		slog.Int("unknown", len(report.Unknown)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// Classify fetches telemetry for one application and classifies it.
func (e *HealthEvaluator) Classify(ctx context.Context, namespace, app string) (Verdict, error) {
	health, err := e.fetchHealth(ctx, namespace, app)
	if err != nil {
		return Verdict{}, err
	}
	return ClassifyHealth(health), nil
}

// ClassifyHealth applies the rules in order: workload counts, inbound
// statuses, outbound statuses. Each matching rule overwrites the verdict of
// the rules before it, so the last match decides the reason.
func ClassifyHealth(h *mesh.AppHealth) Verdict {
	v := Verdict{State: models.StateHealthy}
	if h == nil {
		return v
	}

	for _, w := range h.WorkloadStatuses {
		if !workloadRow(w).Consistent() {
			v = Verdict{State: models.StateUnhealthy, Reason: models.ReasonWorkload}
		}
	}
	if hasProblemStatus(h.Requests.Inbound.HTTP) {
		v = Verdict{State: models.StateUnhealthy, Reason: models.ReasonInboundRequests}
	}
	if hasProblemStatus(h.Requests.Outbound.HTTP) {
		v = Verdict{State: models.StateUnhealthy, Reason: models.ReasonOutboundRequests}
	}
	return v
}

// DetailedHealth returns per-workload rows and per-class request rates for
// one application. It never touches the snapshot store.
func (e *HealthEvaluator) DetailedHealth(ctx context.Context, namespace, app string) (*models.AppHealthDetail, error) {
	key := namespace + "/" + app
	if cached := e.cache.Get(key); cached != nil {
		return cached, nil
	}

	health, err := e.fetchHealth(ctx, namespace, app)
	if err != nil {
		return nil, err
	}

	detail := &models.AppHealthDetail{
		Namespace: namespace,
		App:       app,
		Workloads: make([]models.WorkloadRow, 0, len(health.WorkloadStatuses)),
		Inbound:   rollup(health.Requests.Inbound.HTTP),
		Outbound:  rollup(health.Requests.Outbound.HTTP),
		FetchedAt: e.now().UTC(),
	}
	for _, w := range health.WorkloadStatuses {
		detail.Workloads = append(detail.Workloads, workloadRow(w))
	}

	e.cache.Set(key, detail)
	return detail, nil
}

func (e *HealthEvaluator) fetchHealth(ctx context.Context, namespace, app string) (*mesh.AppHealth, error) {
	var health *mesh.AppHealth
	err := e.retry.Do(ctx, func() error {
		var fetchErr error
		health, fetchErr = e.api.AppHealth(ctx, namespace, app)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch health for %s/%s: %w", namespace, app, err)
	}
	return health, nil
}

func workloadRow(w mesh.WorkloadStatus) models.WorkloadRow {
	return models.WorkloadRow{
		Name:              w.Name,
		DesiredReplicas:   w.DesiredReplicas,
		CurrentReplicas:   w.CurrentReplicas,
		AvailableReplicas: w.AvailableReplicas,
		SyncedProxies:     w.SyncedProxies,
	}
}

// hasProblemStatus reports whether any key is a 3xx, 4xx or 5xx code.
func hasProblemStatus(histogram map[string]mesh.Number) bool {
	for code := range histogram {
		if strings.HasPrefix(code, "3") || strings.HasPrefix(code, "4") || strings.HasPrefix(code, "5") {
			return true
		}
	}
	return false
}

func rollup(histogram map[string]mesh.Number) models.StatusRollup {
	var r models.StatusRollup
	for code, rate := range histogram {
		if code == "" {
			continue
		}
		switch code[0] {
		case '2':
			r.Status2xx += rate.Float64()
		case '3':
			r.Status3xx += rate.Float64()
		case '4':
			r.Status4xx += rate.Float64()
		case '5':
			r.Status5xx += rate.Float64()
		}
	}
	r.Status2xx = round2(r.Status2xx)
	r.Status3xx = round2(r.Status3xx)
	r.Status4xx = round2(r.Status4xx)
	r.Status5xx = round2(r.Status5xx)
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
