package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"maintdesk/internal/types"
)

// scheduleColumns is the canonical select list for pm_schedules rows.
const scheduleColumns = `id, store_id, title, asset_id, frequency_days,
        next_due_date, active, created_at, updated_at`

// ScheduleRepository provides data access for the pm_schedules table. It
// implements the pm.ScheduleStore interface consumed by the Generator, plus
// the read operations used by the list/detail API.
//
// Table:
//
//	CREATE TABLE pm_schedules (
//	    id             UUID PRIMARY KEY,
//	    store_id       TEXT NOT NULL,
//	    title          TEXT NOT NULL,
//	    asset_id       UUID NOT NULL,
//	    frequency_days INT  NOT NULL CHECK (frequency_days >= 1),
//	    next_due_date  DATE,
//	    active         BOOLEAN NOT NULL DEFAULT true,
//	    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a new ScheduleRepository backed by the given
// database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ListActive returns all active schedules, optionally scoped to one store.
// An empty storeID returns every store's schedules.
//
// SQL: SELECT ... FROM pm_schedules WHERE active AND ($1 = '' OR store_id = $1)
func (r *ScheduleRepository) ListActive(ctx context.Context, storeID string) ([]*types.PreventiveSchedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM pm_schedules
		 WHERE active AND ($1 = '' OR store_id = $1)
		 ORDER BY next_due_date NULLS LAST, id`,
		storeID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active schedules", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ScheduleFilter narrows the List result set for the read API.
type ScheduleFilter struct {
	StoreID    string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// List returns schedules for list screens, including inactive ones (shown
// read-only by the UI). Results are ordered by next due date so the most
// urgent schedules surface first.
func (r *ScheduleRepository) List(ctx context.Context, filter ScheduleFilter) ([]*types.PreventiveSchedule, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM pm_schedules
		 WHERE ($1 = '' OR store_id = $1)
		   AND (NOT $2 OR active)
		 ORDER BY next_due_date NULLS LAST, id
		 LIMIT $3 OFFSET $4`,
		filter.StoreID,
		filter.ActiveOnly,
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedules", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// GetByID returns a single schedule or ErrCodeNotFoundSchedule.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.PreventiveSchedule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM pm_schedules
		 WHERE id = $1`,
		id,
	)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get schedule", err)
	}
	return s, nil
}

// UpdateNextDue persists an advanced next-due date. The date is normalized
// to a calendar day by the DATE column type.
//
// SQL: UPDATE pm_schedules SET next_due_date = $2, updated_at = NOW() WHERE id = $1
func (r *ScheduleRepository) UpdateNextDue(ctx context.Context, scheduleID uuid.UUID, next time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pm_schedules
		 SET next_due_date = $2, updated_at = NOW()
		 WHERE id = $1`,
		scheduleID,
		next,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update next due date", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}
	return nil
}

func scanSchedules(rows pgx.Rows) ([]*types.PreventiveSchedule, error) {
	schedules := []*types.PreventiveSchedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "schedule row iteration failed", err)
	}
	return schedules, nil
}

func scanSchedule(row pgx.Row) (*types.PreventiveSchedule, error) {
	var s types.PreventiveSchedule
	err := row.Scan(
		&s.ID,
		&s.StoreID,
		&s.Title,
		&s.AssetID,
		&s.FrequencyDays,
		&s.NextDueDate,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
