package models

import "time"

// Summary is the rollup shown on the dashboard index and by the report command.
type Summary struct {
	Namespaces     int            `json:"namespaces"`
	Apps           int            `json:"apps"`
	Healthy        int            `json:"healthy"`
	Unhealthy      int            `json:"unhealthy"`
	Unknown        int            `json:"unknown"`
	HTTPIssues     int            `json:"http_issues"`
	WorkloadIssues int            `json:"workload_issues"`
	RateZero       int            `json:"rate_zero"`
	Errors         int            `json:"errors"`
	SlowResponses  int            `json:"slow_responses"`
	UnhealthyApps  []UnhealthyApp `json:"unhealthy_apps"`
	HealthAt       *time.Time     `json:"health_generated_at,omitempty"`
	REDAt          *time.Time     `json:"red_generated_at,omitempty"`
	HasHealth      bool           `json:"has_health"`
	HasRED         bool           `json:"has_red"`
}

// Summarize builds a Summary. health and red may be nil when those documents
// have not been produced yet.
func Summarize(inv *Inventory, health *HealthReport, red *REDReport) Summary {
	s := Summary{
		Namespaces:    len(inv.NamespaceNames()),
		Apps:          inv.AppCount(),
		UnhealthyApps: []UnhealthyApp{},
	}

	if health != nil {
		at := health.GeneratedAt
		s.HasHealth = true
		s.HealthAt = &at
		s.Healthy = len(health.Healthy)
		s.Unhealthy = len(health.Unhealthy)
		s.Unknown = len(health.Unknown)
		for _, item := range health.Unhealthy {
			s.UnhealthyApps = append(s.UnhealthyApps, item)
			switch {
			case item.Reason == ReasonWorkload:
				s.WorkloadIssues++
			case IsHTTPReason(item.Reason):
				s.HTTPIssues++
			}
		}
	}

	if red != nil {
		at := red.GeneratedAt
		s.HasRED = true
		s.REDAt = &at
		s.RateZero = len(red.Rate)
		s.Errors = len(red.Error)
		s.SlowResponses = len(red.Duration)
	}

	return s
}

// Findings returns the number of unhealthy applications plus RED anomalies.
func (s Summary) Findings() int {
	return s.Unhealthy + s.RateZero + s.Errors + s.SlowResponses
}
