package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"maintdesk/internal/types"
)

// ============================================================
// PassHistoryRepository
// ============================================================

// PassHistoryRepository provides data access for the pm_pass_history table.
// Pass history entries track generation passes for operational visibility and
// debugging; they are not part of the correctness story (the ledger is).
//
// Table:
//
//	CREATE TABLE pm_pass_history (
//	    id           BIGSERIAL PRIMARY KEY,
//	    pass_id      UUID,
//	    task         TEXT NOT NULL,
//	    store_id     TEXT NOT NULL DEFAULT '',
//	    requested_by TEXT NOT NULL DEFAULT '',
//	    started_at   TIMESTAMPTZ NOT NULL,
//	    finished_at  TIMESTAMPTZ,
//	    status       TEXT NOT NULL,
//	    evaluated    INT NOT NULL DEFAULT 0,
//	    generated    INT NOT NULL DEFAULT 0,
//	    skipped      INT NOT NULL DEFAULT 0,
//	    failed       INT NOT NULL DEFAULT 0,
//	    error        TEXT
//	);
type PassHistoryRepository struct {
	db DBTX
}

// NewPassHistoryRepository creates a new PassHistoryRepository backed by the
// given database connection (pool or transaction).
func NewPassHistoryRepository(db DBTX) *PassHistoryRepository {
	return &PassHistoryRepository{db: db}
}

// Start inserts a new history row with status 'running' and returns the
// auto-generated BIGSERIAL ID. The caller uses this ID to later call Finish
// with the outcome.
func (r *PassHistoryRepository) Start(ctx context.Context, task types.TaskType, storeID, requestedBy string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO pm_pass_history (task, store_id, requested_by, started_at, status)
		 VALUES ($1, $2, $3, NOW(), 'running')
		 RETURNING id`,
		string(task),
		storeID,
		requestedBy,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start pass history entry", err)
	}
	return id, nil
}

// Finish updates the history row with the pass outcome. When the pass
// aborted (report is nil), only the error is recorded.
func (r *PassHistoryRepository) Finish(ctx context.Context, id int64, report *types.PassReport, passErr error) error {
	var (
		passID    *uuid.UUID
		evaluated, generated, skipped, failed int
		errMsg    *string
	)
	status := "success"
	if report != nil {
		passID = &report.PassID
		evaluated = report.Evaluated
		generated = len(report.Generated)
		skipped = len(report.Skipped)
		failed = len(report.Failed)
		if !report.OK() {
			status = "partial_failure"
		}
	}
	if passErr != nil {
		status = "failed"
		s := passErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE pm_pass_history
		 SET pass_id = $2, finished_at = NOW(), status = $3,
		     evaluated = $4, generated = $5, skipped = $6, failed = $7, error = $8
		 WHERE id = $1`,
		id,
		passID,
		status,
		evaluated,
		generated,
		skipped,
		failed,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish pass history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "pass history entry not found", nil)
	}
	return nil
}

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides advisory locking via the pm_job_locks table so
// overlapping EventBridge fires don't run redundant passes. This is an
// optimization only: correctness under concurrent passes rests entirely on
// the ledger's atomic reserve, not on this lock.
//
// The mechanism uses INSERT ... ON CONFLICT DO UPDATE guarded by an expiry
// check, so a crashed worker's lock is reclaimed after its TTL.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock exists and has not expired. The lockID is typically
// "generation_pass:2025-01-05" (task plus day).
//
// Expiry is computed as a concrete timestamp in Go rather than with interval
// arithmetic in SQL, since Go duration strings are not valid PG intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO pm_job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE pm_job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}
