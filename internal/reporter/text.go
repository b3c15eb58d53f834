package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/meshspectre/internal/models"
)

const (
	textANSIReset = "\x1b[0m"
	textANSIBold  = "\x1b[1m"
)

// WriteText writes a human-readable report.
func WriteText(out io.Writer, r *Report) error {
	if _, err := io.WriteString(out, renderText(r, supportsANSI(out))); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

func renderText(r *Report, useANSI bool) string {
	var b strings.Builder
	s := r.Summary

	writeTextSectionHeader(&b, "MeshSpectre Report", useANSI)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	if r.MeshURL != "" {
		fmt.Fprintf(&b, "Mesh: %s\n", r.MeshURL)
	}
	fmt.Fprintf(&b, "Namespaces: %d\n", s.Namespaces)
	fmt.Fprintf(&b, "Applications: %d\n", s.Apps)
	b.WriteString("\n")

	writeTextSectionHeader(&b, "Health", useANSI)
	if !s.HasHealth {
		b.WriteString("Health report not yet available.\n")
	} else {
		fmt.Fprintf(&b, "Updated: %s\n", formatTime(s.HealthAt))
		fmt.Fprintf(&b, "Healthy: %d  Unhealthy: %d  Unknown: %d\n", s.Healthy, s.Unhealthy, s.Unknown)
		fmt.Fprintf(&b, "HTTP issues: %d  Workload issues: %d\n", s.HTTPIssues, s.WorkloadIssues)
		if len(s.UnhealthyApps) > 0 {
			b.WriteString("\n")
			fmt.Fprintf(&b, "%-24s %-32s %s\n", "NAMESPACE", "APP", "REASON")
			b.WriteString(strings.Repeat("-", 80) + "\n")
			for _, app := range s.UnhealthyApps {
				fmt.Fprintf(&b, "%-24s %-32s %s\n",
					truncateTextValue(app.Namespace, 24),
					truncateTextValue(app.App, 32),
					app.Reason,
				)
			}
		}
	}
	b.WriteString("\n")

	writeTextSectionHeader(&b, "RED", useANSI)
	if !s.HasRED || r.RED == nil {
		b.WriteString("RED report not yet available.\n")
	} else {
		fmt.Fprintf(&b, "Updated: %s\n", formatTime(s.REDAt))
		fmt.Fprintf(&b, "Duration threshold: %g\n", r.RED.Threshold)
		fmt.Fprintf(&b, "Zero rate: %d  Errors: %d  Slow: %d\n", s.RateZero, s.Errors, s.SlowResponses)
		rows := redRows(r.RED)
		if len(rows) > 0 {
			b.WriteString("\n")
			fmt.Fprintf(&b, "%-9s %-24s %-32s %s\n", "SIGNAL", "NAMESPACE", "APP", "VALUE")
			b.WriteString(strings.Repeat("-", 80) + "\n")
			for _, row := range rows {
				fmt.Fprintf(&b, "%-9s %-24s %-32s %.2f\n",
					row.signal,
					truncateTextValue(row.namespace, 24),
					truncateTextValue(row.app, 32),
					row.value,
				)
			}
		}
	}

	if r.Baseline != nil {
		b.WriteString("\n")
		writeTextSectionHeader(&b, "Baseline", useANSI)
		fmt.Fprintf(&b, "File: %s\n", r.Baseline.Path)
		fmt.Fprintf(&b, "Suppressed: %d  Remaining: %d\n", r.Baseline.Suppressed, r.Baseline.Remaining)
	}

	return b.String()
}

type redRow struct {
	signal    string
	namespace string
	app       string
	value     float64
}

func redRows(red *models.REDReport) []redRow {
	rows := make([]redRow, 0, len(red.Rate)+len(red.Error)+len(red.Duration))
	for _, e := range red.Rate {
		rows = append(rows, redRow{signal: "rate", namespace: e.Namespace, app: e.App, value: e.Rate})
	}
	for _, e := range red.Error {
		rows = append(rows, redRow{signal: "error", namespace: e.Namespace, app: e.App, value: e.Error})
	}
	for _, e := range red.Duration {
		rows = append(rows, redRow{signal: "duration", namespace: e.Namespace, app: e.App, value: e.Duration})
	}
	return rows
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeTextSectionHeader(b *strings.Builder, title string, useANSI bool) {
	header := title
	if useANSI {
		header = textANSIBold + title + textANSIReset
	}
	fmt.Fprintf(b, "%s\n", header)
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", len(title)))
}

func supportsANSI(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}

	info, err := file.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

func truncateTextValue(value string, width int) string {
	if width <= 0 || len(value) <= width {
		return value
	}
	if width <= 3 {
		return value[:width]
	}
	return value[:width-3] + "..."
}
