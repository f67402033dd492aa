package db

import (
	"context"

	"github.com/google/uuid"

	"maintdesk/internal/types"
)

// WorkOrderRepository creates work orders directly in the shared database.
// It implements the pm.WorkOrderCreator interface for co-located deployments;
// split deployments use external.WorkOrderServiceClient instead. The engine
// only creates work orders and never touches their lifecycle afterwards --
// assignment, status transitions, and completion belong to the corrective
// maintenance application.
//
// Table (owned by the work-order application; columns used here only):
//
//	CREATE TABLE work_orders (
//	    id         UUID PRIMARY KEY,
//	    store_id   TEXT NOT NULL,
//	    title      TEXT NOT NULL,
//	    asset_id   UUID NOT NULL,
//	    due_date   DATE NOT NULL,
//	    priority   TEXT NOT NULL,
//	    status     TEXT NOT NULL DEFAULT 'open',
//	    source     TEXT NOT NULL DEFAULT 'preventive',
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type WorkOrderRepository struct {
	db DBTX
}

// NewWorkOrderRepository creates a new WorkOrderRepository backed by the
// given database connection (pool or transaction).
func NewWorkOrderRepository(db DBTX) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// Create inserts a new open work order from the draft and returns its ID.
func (r *WorkOrderRepository) Create(ctx context.Context, draft types.WorkOrderDraft) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.Exec(ctx,
		`INSERT INTO work_orders (id, store_id, title, asset_id, due_date, priority, status, source)
		 VALUES ($1, $2, $3, $4, $5, $6, 'open', 'preventive')`,
		id,
		draft.StoreID,
		draft.Title,
		draft.AssetID,
		draft.DueDate,
		draft.Priority,
	)
	if err != nil {
		return uuid.Nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create work order", err)
	}
	return id, nil
}
