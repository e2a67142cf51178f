package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowpbx/gatebridge/internal/database/models"
)

// activityRepo implements ActivityRepository.
type activityRepo struct {
	db  *DB
	now func() time.Time
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *DB) ActivityRepository {
	return &activityRepo{db: db, now: time.Now}
}

// Record appends one event through the write worker.
func (r *activityRepo) Record(ctx context.Context, kind, detail, caller, callSID string) error {
	ts := models.UnixSeconds(r.now())
	query := r.db.rebind(`INSERT INTO activity_events (ts, event_type, detail, caller, call_sid)
		 VALUES (?, ?, ?, ?, ?)`)

	err := r.db.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, ts, kind, detail, caller, callSID)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting activity event: %w", err)
	}
	return nil
}

// Snapshot reads counts and recent rows inside one read transaction so both
// reflect the same point in time.
func (r *activityRepo) Snapshot(ctx context.Context, limit int) (models.ActivitySnapshot, error) {
	if limit < 1 {
		limit = 1
	}

	snap := models.ActivitySnapshot{Counts: make(map[string]int64)}

	tx, err := r.db.BeginTx(ctx, r.readTxOptions())
	if err != nil {
		return snap, fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	counts, err := countByKind(ctx, tx)
	if err != nil {
		return snap, err
	}
	snap.Counts = counts
	for _, n := range counts {
		snap.Total += n
	}

	rows, err := tx.QueryContext(ctx, r.db.rebind(
		`SELECT id, ts, event_type, detail, caller, call_sid
		 FROM activity_events ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return snap, fmt.Errorf("listing recent activity events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.ActivityEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Detail, &e.Caller, &e.CallSID); err != nil {
			return snap, fmt.Errorf("scanning activity event: %w", err)
		}
		snap.Recent = append(snap.Recent, e)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterating activity events: %w", err)
	}

	return snap, nil
}

// CountByKind returns per-kind totals without reading any rows.
func (r *activityRepo) CountByKind(ctx context.Context) (map[string]int64, error) {
	return countByKind(ctx, r.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func countByKind(ctx context.Context, q querier) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM activity_events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("counting activity events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning activity count: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity counts: %w", err)
	}
	return counts, nil
}

func (r *activityRepo) readTxOptions() *sql.TxOptions {
	if r.db.driver == driverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	// SQLite WAL readers see one snapshot for the life of the transaction.
	return nil
}
