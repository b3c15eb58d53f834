package models

import (
	"strings"
	"time"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateUnhealthy = "unhealthy"
	StateUnknown   = "unknown"
)

// Unhealthy reasons
const (
	ReasonWorkload         = "Workload Issue"
	ReasonInboundRequests  = "HTTP Request Issue (Inbound)"
	ReasonOutboundRequests = "HTTP Request Issue (Outbound)"
)

// IsHTTPReason reports whether reason is one of the request-level reasons.
func IsHTTPReason(reason string) bool {
	return strings.HasPrefix(reason, "HTTP Request Issue")
}

// HealthReport partitions every inventory application into exactly one of
// three lists.
type HealthReport struct {
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Healthy     []AppRef       `json:"healthy" yaml:"healthy"`
	Unhealthy   []UnhealthyApp `json:"unhealthy" yaml:"unhealthy"`
	Unknown     []AppRef       `json:"unknown" yaml:"unknown"`
}

// UnhealthyApp is an application with the reason it failed classification.
type UnhealthyApp struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	App       string `json:"app" yaml:"app"`
	Reason    string `json:"reason" yaml:"reason"`
}

// NewHealthReport returns a report with non-nil empty lists.
func NewHealthReport(generatedAt time.Time) *HealthReport {
	return &HealthReport{
		GeneratedAt: generatedAt,
		Healthy:     []AppRef{},
		Unhealthy:   []UnhealthyApp{},
		Unknown:     []AppRef{},
	}
}

// Total returns the number of classified applications.
func (r *HealthReport) Total() int {
	if r == nil {
		return 0
	}
	return len(r.Healthy) + len(r.Unhealthy) + len(r.Unknown)
}

// REDReport holds three independent anomaly lists.
type REDReport struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Threshold   float64         `json:"duration_threshold" yaml:"duration_threshold"`
	Rate        []RateEntry     `json:"rate" yaml:"rate"`
	Error       []ErrorEntry    `json:"error" yaml:"error"`
	Duration    []DurationEntry `json:"duration" yaml:"duration"`
}

// RateEntry flags an application that served no traffic.
type RateEntry struct {
	Namespace string  `json:"namespace" yaml:"namespace"`
	App       string  `json:"app" yaml:"app"`
	Rate      float64 `json:"rate" yaml:"rate"`
}

// ErrorEntry flags an application with a nonzero error percentage.
type ErrorEntry struct {
	Namespace string  `json:"namespace" yaml:"namespace"`
	App       string  `json:"app" yaml:"app"`
	Error     float64 `json:"error" yaml:"error"`
}

// DurationEntry flags an application whose response time exceeded the threshold.
type DurationEntry struct {
	Namespace string  `json:"namespace" yaml:"namespace"`
	App       string  `json:"app" yaml:"app"`
	Duration  float64 `json:"duration" yaml:"duration"`
}

// NewREDReport returns a report with non-nil empty lists.
func NewREDReport(generatedAt time.Time, threshold float64) *REDReport {
	return &REDReport{
		GeneratedAt: generatedAt,
		Threshold:   threshold,
		Rate:        []RateEntry{},
		Error:       []ErrorEntry{},
		Duration:    []DurationEntry{},
	}
}

// AppHealthDetail is the on-demand drill-down for one application.
type AppHealthDetail struct {
	Namespace string        `json:"namespace"`
	App       string        `json:"app"`
	Workloads []WorkloadRow `json:"workloads"`
	Inbound   StatusRollup  `json:"inbound"`
	Outbound  StatusRollup  `json:"outbound"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// WorkloadRow is one workload's replica and proxy counts.
type WorkloadRow struct {
	Name              string `json:"name"`
	DesiredReplicas   int    `json:"desired_replicas"`
	CurrentReplicas   int    `json:"current_replicas"`
	AvailableReplicas int    `json:"available_replicas"`
	SyncedProxies     int    `json:"synced_proxies"`
}

// Consistent reports whether all four counts agree.
func (w WorkloadRow) Consistent() bool {
	return w.DesiredReplicas == w.CurrentReplicas &&
		w.CurrentReplicas == w.AvailableReplicas &&
		w.AvailableReplicas == w.SyncedProxies
}

// StatusRollup sums request rates per HTTP status class.
type StatusRollup struct {
	Status2xx float64 `json:"2xx"`
	Status3xx float64 `json:"3xx"`
	Status4xx float64 `json:"4xx"`
	Status5xx float64 `json:"5xx"`
}
