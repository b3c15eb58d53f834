// Package reporter renders stored snapshots as text or JSON.
package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/meshspectre/internal/models"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Report is the rendered view over the latest snapshots.
type Report struct {
	GeneratedAt time.Time            `json:"generated_at"`
	MeshURL     string               `json:"mesh_url,omitempty"`
	Summary     models.Summary       `json:"summary"`
	Health      *models.HealthReport `json:"health,omitempty"`
	RED         *models.REDReport    `json:"red,omitempty"`
	Baseline    *BaselineResult      `json:"baseline,omitempty"`
}

// BaselineResult records how many findings a baseline suppressed.
type BaselineResult struct {
	Path       string `json:"path"`
	Suppressed int    `json:"suppressed"`
	Remaining  int    `json:"remaining"`
}

// New builds a report. health and red may be nil.
func New(inv *models.Inventory, health *models.HealthReport, red *models.REDReport) *Report {
	return &Report{
		GeneratedAt: time.Now().UTC(),
		Summary:     models.Summarize(inv, health, red),
		Health:      health,
		RED:         red,
	}
}

// Write renders r in format to out.
func Write(out io.Writer, format string, r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	if out == nil {
		return fmt.Errorf("writer is nil")
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return WriteText(out, r)
	case FormatJSON:
		return WriteJSON(out, r)
	default:
		return fmt.Errorf("unsupported format %q (expected text or json)", format)
	}
}
