package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"maintdesk/internal/types"
)

// LedgerRepository provides data access for the pm_generation_ledger table
// and implements the pm.Ledger interface. The composite primary key on
// (schedule_id, occurrence_date) is the storage-level uniqueness guarantee
// behind the engine's at-most-one-work-order-per-occurrence invariant: the
// atomic INSERT ... ON CONFLICT DO NOTHING is what makes TryReserve safe
// under concurrent generation passes, where an application-level
// read-then-write would reintroduce the race.
//
// Table:
//
//	CREATE TABLE pm_generation_ledger (
//	    schedule_id     UUID NOT NULL REFERENCES pm_schedules(id),
//	    occurrence_date DATE NOT NULL,
//	    state           TEXT NOT NULL CHECK (state IN ('reserved', 'committed')),
//	    work_order_id   UUID,
//	    reserved_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    committed_at    TIMESTAMPTZ,
//	    PRIMARY KEY (schedule_id, occurrence_date)
//	);
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// TryReserve atomically claims the right to generate for the occurrence.
// Returns false when a record (reserved or committed) already exists for the
// pair, true when this caller won the insert.
//
// SQL:
//
//	INSERT INTO pm_generation_ledger (schedule_id, occurrence_date, state, reserved_at)
//	VALUES ($1, $2, 'reserved', NOW())
//	ON CONFLICT (schedule_id, occurrence_date) DO NOTHING
//
// RowsAffected is 1 when the INSERT succeeded and 0 when the conflict target
// matched an existing row (another pass holds or has satisfied the
// occurrence).
func (r *LedgerRepository) TryReserve(ctx context.Context, scheduleID uuid.UUID, occurrence time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO pm_generation_ledger (schedule_id, occurrence_date, state, reserved_at)
		 VALUES ($1, $2, 'reserved', NOW())
		 ON CONFLICT (schedule_id, occurrence_date) DO NOTHING`,
		scheduleID,
		occurrence,
	)
	if err != nil {
		// A unique violation racing past ON CONFLICT is equivalent to a
		// lost reservation, not a failure.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve occurrence", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Commit finalizes a reservation after the work order was created. Only
// rows still in 'reserved' state are eligible; a missing or already
// committed row indicates a sequencing bug.
func (r *LedgerRepository) Commit(ctx context.Context, scheduleID uuid.UUID, occurrence time.Time, workOrderID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pm_generation_ledger
		 SET state = 'committed', work_order_id = $3, committed_at = NOW()
		 WHERE schedule_id = $1 AND occurrence_date = $2 AND state = 'reserved'`,
		scheduleID,
		occurrence,
		workOrderID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "reservation not found or already committed", nil)
	}
	return nil
}

// Release rolls back a reservation after a failed work-order creation so a
// later pass can retry the occurrence. Committed records are never deleted.
func (r *LedgerRepository) Release(ctx context.Context, scheduleID uuid.UUID, occurrence time.Time) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM pm_generation_ledger
		 WHERE schedule_id = $1 AND occurrence_date = $2 AND state = 'reserved'`,
		scheduleID,
		occurrence,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release reservation", err)
	}
	return nil
}

// ListStaleReservations returns reservations older than the cutoff that were
// never committed or released, i.e. a pass crashed mid-generation. These are
// deliberately not auto-released: the work order may or may not exist, so
// releasing could permit a duplicate. The ledger sweep surfaces them for
// operator review instead.
func (r *LedgerRepository) ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]types.GenerationRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT schedule_id, occurrence_date, state, work_order_id, reserved_at, committed_at
		 FROM pm_generation_ledger
		 WHERE state = 'reserved' AND reserved_at < $1
		 ORDER BY reserved_at
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale reservations", err)
	}
	defer rows.Close()
	return scanGenerationRecords(rows)
}

// ListRecords returns generation records reserved since the given time, most
// recent first, for the audit export.
func (r *LedgerRepository) ListRecords(ctx context.Context, since time.Time, limit int) ([]types.GenerationRecord, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx,
		`SELECT schedule_id, occurrence_date, state, work_order_id, reserved_at, committed_at
		 FROM pm_generation_ledger
		 WHERE reserved_at >= $1
		 ORDER BY reserved_at DESC
		 LIMIT $2`,
		since,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list generation records", err)
	}
	defer rows.Close()
	return scanGenerationRecords(rows)
}

func scanGenerationRecords(rows pgx.Rows) ([]types.GenerationRecord, error) {
	records := []types.GenerationRecord{}
	for rows.Next() {
		var rec types.GenerationRecord
		err := rows.Scan(
			&rec.ScheduleID,
			&rec.OccurrenceDate,
			&rec.State,
			&rec.WorkOrderID,
			&rec.ReservedAt,
			&rec.CommittedAt,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ledger row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "ledger row iteration failed", err)
	}
	return records, nil
}
