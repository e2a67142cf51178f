package database

import (
	"context"

	"github.com/flowpbx/gatebridge/internal/database/models"
)

// ActivityRepository is the append-only activity ledger.
type ActivityRepository interface {
	// Record appends one event stamped with the current time.
	Record(ctx context.Context, kind, detail, caller, callSID string) error
	// Snapshot returns exact per-kind totals and at most limit recent
	// events, newest first. limit values below 1 are treated as 1.
	Snapshot(ctx context.Context, limit int) (models.ActivitySnapshot, error)
	// CountByKind returns exact per-kind totals.
	CountByKind(ctx context.Context) (map[string]int64, error)
}
