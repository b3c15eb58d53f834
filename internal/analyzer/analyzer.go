// Package analyzer classifies application health and computes RED signals
// for every application in the current inventory.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/ppiankov/meshspectre/internal/metrics"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/internal/snapshot"
)

const (
	taskHealth = "health"
	taskRED    = "red"
)

// InventoryReader returns the most recently written inventory.
type InventoryReader interface {
	ReadInventory(ctx context.Context) (*models.Inventory, error)
}

// HealthStore is the snapshot access needed by the health evaluator.
type HealthStore interface {
	InventoryReader
	WriteHealth(ctx context.Context, report *models.HealthReport) error
}

// REDStore is the snapshot access needed by the RED evaluator.
type REDStore interface {
	InventoryReader
	WriteRED(ctx context.Context, report *models.REDReport) error
}

// loadInventory returns nil without error when no inventory has been written.
func loadInventory(ctx context.Context, store InventoryReader, task string) (*models.Inventory, error) {
	inv, err := store.ReadInventory(ctx)
	if err != nil {
		if snapshot.IsMissing(err) {
			slog.Debug("inventory not available yet, skipping run", slog.String("task", task))
			metrics.RecordRun(task, metrics.StatusSkipped, 0)
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func recordFailure(task string, start time.Time) {
	metrics.RecordRun(task, metrics.StatusError, time.Since(start).Seconds())
}

func recordSuccess(task string, start time.Time) {
	metrics.RecordRun(task, metrics.StatusSuccess, time.Since(start).Seconds())
	metrics.RecordSuccess(task, float64(time.Now().Unix()))
}
