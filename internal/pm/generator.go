package pm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"maintdesk/internal/types"
)

// defaultParallelism bounds concurrent per-schedule processing within one
// pass. Cross-schedule ordering carries no meaning, so schedules are
// processed in parallel up to this limit.
const defaultParallelism = 8

// ScheduleStore abstracts the schedule collaborator. Implemented by
// db.ScheduleRepository in production.
type ScheduleStore interface {
	// ListActive returns all active schedules, optionally scoped to one
	// store. Inactive schedules are never candidates for generation.
	ListActive(ctx context.Context, storeID string) ([]*types.PreventiveSchedule, error)
	// UpdateNextDue persists a schedule's advanced next-due date.
	UpdateNextDue(ctx context.Context, scheduleID uuid.UUID, next time.Time) error
}

// Ledger abstracts the generation ledger. TryReserve must be backed by a
// storage-level uniqueness guarantee (unique index on schedule_id +
// occurrence_date), not an application-level read-then-write: the atomic
// reserve is what closes the race window between "check due" and "advance".
type Ledger interface {
	// TryReserve atomically claims the right to generate for the occurrence.
	// Returns false when a record already exists for the pair.
	TryReserve(ctx context.Context, scheduleID uuid.UUID, occurrence time.Time) (bool, error)
	// Commit finalizes the reservation with the created work order's ID.
	Commit(ctx context.Context, scheduleID uuid.UUID, occurrence time.Time, workOrderID uuid.UUID) error
	// Release rolls back a reservation after a failed creation so a later
	// pass can retry the occurrence.
	Release(ctx context.Context, scheduleID uuid.UUID, occurrence time.Time) error
}

// WorkOrderCreator abstracts the work-order collaborator. Implemented by
// db.WorkOrderRepository (co-located deployments) and
// external.WorkOrderServiceClient (split deployments).
type WorkOrderCreator interface {
	Create(ctx context.Context, draft types.WorkOrderDraft) (uuid.UUID, error)
}

// PassMetrics receives the aggregate outcome of each pass. Implemented by
// metrics.CloudWatchPassMetrics; a nil collector disables emission.
type PassMetrics interface {
	RecordPass(ctx context.Context, report *types.PassReport)
}

// PassOptions parameterizes one generation pass.
type PassOptions struct {
	// AsOf overrides "today" for deterministic runs and backfills.
	// Zero means use the generator's clock.
	AsOf time.Time
	// StoreID limits the pass to one tenant. Empty means all stores.
	StoreID string
}

// Generator orchestrates a due-generation pass: evaluate each active
// schedule, reserve its occurrence in the ledger, create the work order, and
// advance the schedule's next-due date. Failure of one schedule never aborts
// the others.
type Generator struct {
	schedules  ScheduleStore
	ledger     Ledger
	workOrders WorkOrderCreator

	clock       Clock
	metrics     PassMetrics
	logger      *slog.Logger
	parallelism int
}

// GeneratorConfig holds the dependencies for creating a Generator.
type GeneratorConfig struct {
	Schedules  ScheduleStore
	Ledger     Ledger
	WorkOrders WorkOrderCreator
	Clock      Clock       // defaults to the real UTC clock
	Metrics    PassMetrics // optional
	Logger     *slog.Logger
	// Parallelism bounds concurrent schedule processing; <= 0 uses the default.
	Parallelism int
}

// NewGenerator creates a Generator from the given configuration.
func NewGenerator(cfg GeneratorConfig) *Generator {
	clock := cfg.Clock
	if clock == nil {
		clock = NewClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Generator{
		schedules:   cfg.Schedules,
		ledger:      cfg.Ledger,
		workOrders:  cfg.WorkOrders,
		clock:       clock,
		metrics:     cfg.Metrics,
		logger:      logger,
		parallelism: parallelism,
	}
}

// RunPass executes one due-generation pass and returns its report.
//
// Only a pass-level fault (the schedule store is unreachable) returns an
// error; per-schedule failures are aggregated into Report.Failed and the
// affected schedules are retried on the next pass. Safe to invoke
// concurrently with itself: the ledger's atomic reserve guarantees at most
// one work order per (schedule, occurrence) regardless of overlapping passes.
func (g *Generator) RunPass(ctx context.Context, opts PassOptions) (*types.PassReport, error) {
	started := g.clock.Now().UTC()

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = started
	}
	today := Midnight(asOf)

	schedules, err := g.schedules.ListActive(ctx, opts.StoreID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active schedules", err)
	}

	report := &types.PassReport{
		PassID:    uuid.New(),
		AsOf:      today,
		StoreID:   opts.StoreID,
		Evaluated: len(schedules),
		Generated: []types.PassGenerated{},
		Skipped:   []types.PassSkipped{},
		Failed:    []types.PassFailure{},
		StartedAt: started,
	}

	var mu sync.Mutex
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.parallelism)

	for _, s := range schedules {
		s := s
		grp.Go(func() error {
			outcome := g.processSchedule(gctx, s, today)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.generated != nil:
				report.Generated = append(report.Generated, *outcome.generated)
			case outcome.skipped != nil:
				report.Skipped = append(report.Skipped, *outcome.skipped)
			case outcome.failed != nil:
				report.Failed = append(report.Failed, *outcome.failed)
			}
			// Per-schedule failures never propagate; the pass continues.
			return nil
		})
	}
	_ = grp.Wait()

	report.FinishedAt = g.clock.Now().UTC()

	g.logger.Info("generation pass finished",
		"pass_id", report.PassID,
		"as_of", today.Format(time.DateOnly),
		"store_id", opts.StoreID,
		"evaluated", report.Evaluated,
		"generated", len(report.Generated),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)

	if g.metrics != nil {
		g.metrics.RecordPass(ctx, report)
	}
	return report, nil
}

// scheduleOutcome is the tagged result of processing one schedule. Exactly
// one field is non-nil.
type scheduleOutcome struct {
	generated *types.PassGenerated
	skipped   *types.PassSkipped
	failed    *types.PassFailure
}

func skip(id uuid.UUID, reason types.SkipReason) scheduleOutcome {
	return scheduleOutcome{skipped: &types.PassSkipped{ScheduleID: id, Reason: reason}}
}

func fail(id uuid.UUID, code types.ErrorCode, msg string, needsReview bool) scheduleOutcome {
	return scheduleOutcome{failed: &types.PassFailure{
		ScheduleID:  id,
		Code:        code,
		Message:     msg,
		NeedsReview: needsReview,
	}}
}

// processSchedule runs the full generation sequence for one schedule:
// evaluate, reserve, create, commit, advance. The ordering preserves the
// "both or neither" guarantee: no work order exists without an advanced (or
// review-flagged) schedule, and a creation failure leaves the next-due date
// untouched so the next pass retries the same occurrence.
func (g *Generator) processSchedule(ctx context.Context, s *types.PreventiveSchedule, today time.Time) scheduleOutcome {
	if !s.Active {
		// ListActive should not return these; guard against a schedule
		// deactivated between listing and processing.
		return skip(s.ID, types.SkipInactive)
	}
	if !DueForGeneration(s, today) {
		return skip(s.ID, types.SkipNotDue)
	}

	occurrence := Midnight(*s.NextDueDate)

	granted, err := g.ledger.TryReserve(ctx, s.ID, occurrence)
	if err != nil {
		return fail(s.ID, types.ErrCodeInternalDB, "ledger reservation failed: "+err.Error(), false)
	}
	if !granted {
		// A concurrent pass (or a prior stuck commit) already holds this
		// occurrence. Not an error: the ledger did its job.
		return skip(s.ID, types.SkipAlreadyGenerated)
	}

	draft := types.WorkOrderDraft{
		Title:    "PM: " + s.Title,
		AssetID:  s.AssetID,
		StoreID:  s.StoreID,
		DueDate:  occurrence,
		Priority: types.DefaultPMPriority,
	}

	workOrderID, err := g.workOrders.Create(ctx, draft)
	if err != nil {
		// Roll back the reservation so the next pass retries this
		// occurrence. A failed release strands the reservation; the ledger
		// sweep surfaces those for operator review.
		if relErr := g.ledger.Release(ctx, s.ID, occurrence); relErr != nil {
			g.logger.Error("failed to release reservation after creation failure",
				"schedule_id", s.ID,
				"occurrence", occurrence.Format(time.DateOnly),
				"error", relErr,
			)
		}
		return fail(s.ID, types.ErrCodeUpstreamWorkOrders, "work order creation failed: "+err.Error(), false)
	}

	if err := g.ledger.Commit(ctx, s.ID, occurrence, workOrderID); err != nil {
		// The work order exists but the ledger row is stuck in reserved
		// state. The reservation still blocks duplicates; flag the schedule
		// for manual review instead of advancing past an uncommitted record.
		g.logger.Error("failed to commit reservation",
			"schedule_id", s.ID,
			"work_order_id", workOrderID,
			"error", err,
		)
		return fail(s.ID, types.ErrCodeInternalDB, "ledger commit failed: "+err.Error(), true)
	}

	next := NextOccurrence(occurrence, s.FrequencyDays, today)

	if err := g.updateNextDue(ctx, s.ID, next); err != nil {
		// The work order exists and the ledger row is committed, but the
		// schedule still points at the satisfied occurrence. The next pass
		// will re-attempt and be blocked by the ledger (no duplicate), but
		// the schedule will look stuck as "due" until an operator fixes it.
		return fail(s.ID, types.ErrCodeInternalScheduleUpdate,
			"work order created but next due date could not be advanced: "+err.Error(), true)
	}

	return scheduleOutcome{generated: &types.PassGenerated{
		ScheduleID:     s.ID,
		WorkOrderID:    workOrderID,
		OccurrenceDate: occurrence,
		NextDueDate:    next,
	}}
}

// updateNextDue persists the advanced date, retrying once on failure before
// surfacing the schedule for review.
func (g *Generator) updateNextDue(ctx context.Context, scheduleID uuid.UUID, next time.Time) error {
	err := g.schedules.UpdateNextDue(ctx, scheduleID, next)
	if err == nil {
		return nil
	}
	g.logger.Warn("next due date update failed, retrying",
		"schedule_id", scheduleID,
		"error", err,
	)
	return g.schedules.UpdateNextDue(ctx, scheduleID, next)
}
