// Package metrics exposes Prometheus instrumentation for collection runs,
// mesh API calls, and the dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshspectre"

// Run statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

var (
	// runsTotal counts task runs.
	// Labels: task (discovery, health, red), status (success, error, skipped)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "runs_total",
		Help:      "Collection task runs by task and status",
	}, []string{"task", "status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "run_duration_seconds",
		Help:      "Duration of collection task runs",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"task"})

	lastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run per task",
	}, []string{"task"})

	inventoryNamespaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "namespaces",
		Help:      "Mesh-enabled namespaces in the current inventory",
	})

	inventoryApps = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "apps",
		Help:      "Applications in the current inventory",
	})

	// appsByHealth tracks the latest health partition.
	// Labels: state (healthy, unhealthy, unknown)
	appsByHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "apps",
		Help:      "Applications per health state in the latest report",
	}, []string{"state"})

	// redAnomalies tracks the latest RED list sizes.
	// Labels: signal (rate, error, duration)
	redAnomalies = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "red",
		Name:      "anomalies",
		Help:      "Applications flagged per RED signal in the latest report",
	}, []string{"signal"})

	// meshRequests counts mesh API calls.
	// Labels: kind (namespaces, apps, health, graph), outcome (ok, error)
	meshRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mesh",
		Name:      "requests_total",
		Help:      "Mesh API requests by endpoint kind and outcome",
	}, []string{"kind", "outcome"})

	meshLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mesh",
		Name:      "request_duration_seconds",
		Help:      "Mesh API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// httpRequests counts dashboard requests.
	// Labels: route, code
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "requests_total",
		Help:      "Dashboard HTTP requests by route and status code",
	}, []string{"route", "code"})
)

// RecordRun records one task run.
func RecordRun(task, status string, durationSec float64) {
	runsTotal.WithLabelValues(task, status).Inc()
	if status == StatusSkipped {
		return
	}
	runDuration.WithLabelValues(task).Observe(durationSec)
}

// RecordSuccess stamps the last successful completion of task.
func RecordSuccess(task string, unixSec float64) {
	lastSuccess.WithLabelValues(task).Set(unixSec)
}

// SetInventory records the size of the latest inventory.
func SetInventory(namespaces, apps int) {
	inventoryNamespaces.Set(float64(namespaces))
	inventoryApps.Set(float64(apps))
}

// SetHealth records the latest health partition sizes.
func SetHealth(healthy, unhealthy, unknown int) {
	appsByHealth.WithLabelValues("healthy").Set(float64(healthy))
	appsByHealth.WithLabelValues("unhealthy").Set(float64(unhealthy))
	appsByHealth.WithLabelValues("unknown").Set(float64(unknown))
}

// SetRED records the latest RED list sizes.
func SetRED(rate, errs, duration int) {
	redAnomalies.WithLabelValues("rate").Set(float64(rate))
	redAnomalies.WithLabelValues("error").Set(float64(errs))
	redAnomalies.WithLabelValues("duration").Set(float64(duration))
}

// RecordMeshRequest records one mesh API call.
func RecordMeshRequest(kind string, ok bool, durationSec float64) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	meshRequests.WithLabelValues(kind, outcome).Inc()
	meshLatency.WithLabelValues(kind).Observe(durationSec)
}

// RecordHTTPRequest records one dashboard request.
func RecordHTTPRequest(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
