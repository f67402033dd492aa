package pm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintdesk/internal/types"
)

func generatorTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// ============================================================
// Mock: ScheduleStore
// ============================================================

// memScheduleStore is an in-memory schedule store. UpdateNextDue is applied
// to the backing slice so a second pass observes advanced dates, mirroring
// the real repository.
type memScheduleStore struct {
	mu        sync.Mutex
	schedules []*types.PreventiveSchedule
	listErr   error
	// updateErrs queues errors returned by successive UpdateNextDue calls
	// per schedule; once drained, updates succeed.
	updateErrs map[uuid.UUID][]error
	updates    map[uuid.UUID][]time.Time
}

func newMemScheduleStore(schedules ...*types.PreventiveSchedule) *memScheduleStore {
	return &memScheduleStore{
		schedules:  schedules,
		updateErrs: map[uuid.UUID][]error{},
		updates:    map[uuid.UUID][]time.Time{},
	}
}

func (m *memScheduleStore) ListActive(_ context.Context, storeID string) ([]*types.PreventiveSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*types.PreventiveSchedule
	for _, s := range m.schedules {
		if !s.Active {
			continue
		}
		if storeID != "" && s.StoreID != storeID {
			continue
		}
		cp := *s
		if s.NextDueDate != nil {
			d := *s.NextDueDate
			cp.NextDueDate = &d
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memScheduleStore) UpdateNextDue(_ context.Context, scheduleID uuid.UUID, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if errs := m.updateErrs[scheduleID]; len(errs) > 0 {
		err := errs[0]
		m.updateErrs[scheduleID] = errs[1:]
		return err
	}
	for _, s := range m.schedules {
		if s.ID == scheduleID {
			d := next
			s.NextDueDate = &d
			m.updates[scheduleID] = append(m.updates[scheduleID], next)
			return nil
		}
	}
	return fmt.Errorf("schedule %s not found", scheduleID)
}

func (m *memScheduleStore) nextDue(id uuid.UUID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.ID == id && s.NextDueDate != nil {
			return *s.NextDueDate
		}
	}
	return time.Time{}
}

// ============================================================
// Mock: Ledger
// ============================================================

// memLedger implements the ledger contract with a mutex-guarded map,
// faithfully reproducing the unique-index semantics of the real repository.
type memLedger struct {
	mu         sync.Mutex
	records    map[string]types.GenerationState
	reserveErr error
	commitErr  error
	releaseErr error
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]types.GenerationState{}}
}

func ledgerKey(id uuid.UUID, occurrence time.Time) string {
	return id.String() + ":" + occurrence.Format(time.DateOnly)
}

func (l *memLedger) TryReserve(_ context.Context, id uuid.UUID, occurrence time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil {
		return false, l.reserveErr
	}
	key := ledgerKey(id, occurrence)
	if _, exists := l.records[key]; exists {
		return false, nil
	}
	l.records[key] = types.GenerationReserved
	return true, nil
}

func (l *memLedger) Commit(_ context.Context, id uuid.UUID, occurrence time.Time, _ uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.commitErr != nil {
		return l.commitErr
	}
	l.records[ledgerKey(id, occurrence)] = types.GenerationCommitted
	return nil
}

func (l *memLedger) Release(_ context.Context, id uuid.UUID, occurrence time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.releaseErr != nil {
		return l.releaseErr
	}
	delete(l.records, ledgerKey(id, occurrence))
	return nil
}

func (l *memLedger) state(id uuid.UUID, occurrence time.Time) (types.GenerationState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.records[ledgerKey(id, occurrence)]
	return s, ok
}

// ============================================================
// Mock: WorkOrderCreator
// ============================================================

type memWorkOrders struct {
	mu      sync.Mutex
	created []types.WorkOrderDraft
	failFor map[uuid.UUID]error // keyed by AssetID since drafts carry no schedule ID
}

func newMemWorkOrders() *memWorkOrders {
	return &memWorkOrders{failFor: map[uuid.UUID]error{}}
}

func (w *memWorkOrders) Create(_ context.Context, draft types.WorkOrderDraft) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failFor[draft.AssetID]; err != nil {
		return uuid.Nil, err
	}
	w.created = append(w.created, draft)
	return uuid.New(), nil
}

func (w *memWorkOrders) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.created)
}

// ============================================================
// Helpers
// ============================================================

func dueSchedule(title string, freqDays int, nextDue time.Time) *types.PreventiveSchedule {
	return &types.PreventiveSchedule{
		ID:            uuid.New(),
		StoreID:       "store_001",
		Title:         title,
		AssetID:       uuid.New(),
		FrequencyDays: freqDays,
		NextDueDate:   &nextDue,
		Active:        true,
	}
}

func newTestGenerator(store *memScheduleStore, ledger *memLedger, wo *memWorkOrders, now time.Time) *Generator {
	return NewGenerator(GeneratorConfig{
		Schedules:  store,
		Ledger:     ledger,
		WorkOrders: wo,
		Clock:      fixedClock{t: now},
		Logger:     generatorTestLogger(),
	})
}

// ============================================================
// Tests
// ============================================================

func TestGenerator_RunPass_EndToEnd(t *testing.T) {
	// S1: frequency 30 days, due 2025-01-01, evaluated on 2025-01-05.
	now := time.Date(2025, 1, 5, 14, 30, 0, 0, time.UTC)
	s1 := dueSchedule("Compressor inspection", 30, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	store := newMemScheduleStore(s1)
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)

	require.Len(t, report.Generated, 1)
	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, report.Evaluated)
	assert.True(t, report.OK())

	g := report.Generated[0]
	assert.Equal(t, s1.ID, g.ScheduleID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), g.OccurrenceDate)
	// First multiple of 30 days after 2025-01-01 that exceeds 2025-01-05.
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), g.NextDueDate)
	assert.Equal(t, g.NextDueDate, store.nextDue(s1.ID))

	require.Equal(t, 1, wo.count())
	draft := wo.created[0]
	assert.Equal(t, "PM: Compressor inspection", draft.Title)
	assert.Equal(t, s1.AssetID, draft.AssetID)
	assert.Equal(t, "store_001", draft.StoreID)
	assert.Equal(t, g.OccurrenceDate, draft.DueDate)
	assert.Equal(t, types.DefaultPMPriority, draft.Priority)

	state, ok := ledger.state(s1.ID, g.OccurrenceDate)
	require.True(t, ok)
	assert.Equal(t, types.GenerationCommitted, state)
}

func TestGenerator_RunPass_Idempotent(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("Belt tension check", 7, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	s2 := dueSchedule("Oil sample", 90, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	store := newMemScheduleStore(s1, s2)
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	first, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	assert.Len(t, first.Generated, 2)

	// Immediately re-running with no other changes generates nothing: both
	// schedules have advanced past today.
	second, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Generated)
	assert.Len(t, second.Skipped, 2)
	for _, sk := range second.Skipped {
		assert.Equal(t, types.SkipNotDue, sk.Reason)
	}
	assert.Equal(t, 2, wo.count())
}

func TestGenerator_RunPass_CatchUpCollapse(t *testing.T) {
	// Weekly schedule, 30 days behind: exactly one work order, and the
	// schedule lands on a clean future cadence.
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("Weekly safety walk", 7, time.Date(2024, 12, 6, 0, 0, 0, 0, time.UTC))

	store := newMemScheduleStore(s1)
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	assert.Equal(t, 1, wo.count(), "missed periods must collapse into a single work order")

	next := store.nextDue(s1.ID)
	assert.True(t, next.After(Midnight(now)), "advanced date must be strictly after today")
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), next)
}

func TestGenerator_RunPass_AtMostOnceUnderConcurrency(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	var schedules []*types.PreventiveSchedule
	for i := 0; i < 20; i++ {
		schedules = append(schedules, dueSchedule(
			fmt.Sprintf("Schedule %d", i), 7,
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	}

	store := newMemScheduleStore(schedules...)
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	// Two operators click "Generate Due Work Orders" at the same time.
	const callers = 4
	var wg sync.WaitGroup
	reports := make([]*types.PassReport, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = gen.RunPass(context.Background(), PassOptions{})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// Exactly one work order per schedule, never two, regardless of how the
	// concurrent passes interleaved.
	assert.Equal(t, len(schedules), wo.count())

	totalGenerated := 0
	for _, r := range reports {
		totalGenerated += len(r.Generated)
		for _, sk := range r.Skipped {
			assert.Contains(t,
				[]types.SkipReason{types.SkipAlreadyGenerated, types.SkipNotDue},
				sk.Reason)
		}
	}
	assert.Equal(t, len(schedules), totalGenerated)
}

func TestGenerator_RunPass_FailureIsolation(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("First", 7, due)
	s2 := dueSchedule("Second", 7, due)
	s3 := dueSchedule("Third", 7, due)

	store := newMemScheduleStore(s1, s2, s3)
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	wo.failFor[s2.AssetID] = errors.New("work order service timeout")
	gen := newTestGenerator(store, ledger, wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)

	require.Len(t, report.Generated, 2)
	generatedIDs := []uuid.UUID{report.Generated[0].ScheduleID, report.Generated[1].ScheduleID}
	assert.ElementsMatch(t, []uuid.UUID{s1.ID, s3.ID}, generatedIDs)

	require.Len(t, report.Failed, 1)
	f := report.Failed[0]
	assert.Equal(t, s2.ID, f.ScheduleID)
	assert.Equal(t, types.ErrCodeUpstreamWorkOrders, f.Code)
	assert.False(t, f.NeedsReview)
	assert.False(t, report.OK())

	// The failed schedule keeps its due date and its reservation was
	// released, so the next pass retries the same occurrence.
	assert.Equal(t, due, store.nextDue(s2.ID))
	_, reserved := ledger.state(s2.ID, due)
	assert.False(t, reserved, "reservation must be released after creation failure")

	// Collaborator recovers: the retry succeeds without touching s1/s3.
	wo.mu.Lock()
	delete(wo.failFor, s2.AssetID)
	wo.mu.Unlock()

	retry, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	require.Len(t, retry.Generated, 1)
	assert.Equal(t, s2.ID, retry.Generated[0].ScheduleID)
	assert.Equal(t, due, retry.Generated[0].OccurrenceDate)
	assert.Equal(t, 3, wo.count())
}

func TestGenerator_RunPass_ScheduleUpdateRetriesOnce(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("Pump seal check", 14, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	store := newMemScheduleStore(s1)
	store.updateErrs[s1.ID] = []error{errors.New("deadlock detected")}
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	require.Len(t, report.Generated, 1, "a single transient update failure must be retried")
	assert.Empty(t, report.Failed)
	assert.Equal(t, time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC), store.nextDue(s1.ID))
}

func TestGenerator_RunPass_ScheduleUpdateFailed_NeedsReview(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("Filter replacement", 30, due)

	store := newMemScheduleStore(s1)
	store.updateErrs[s1.ID] = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
	}
	ledger := newMemLedger()
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)

	// The work order exists; the schedule could not be advanced. The report
	// must surface this prominently for manual review.
	assert.Equal(t, 1, wo.count())
	require.Len(t, report.Failed, 1)
	f := report.Failed[0]
	assert.Equal(t, types.ErrCodeInternalScheduleUpdate, f.Code)
	assert.True(t, f.NeedsReview)
	assert.Equal(t, due, store.nextDue(s1.ID), "next due date must be unchanged")

	// The next pass is blocked by the committed ledger record: no duplicate
	// work order is ever created for the stuck occurrence.
	second, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Generated)
	require.Len(t, second.Skipped, 1)
	assert.Equal(t, types.SkipAlreadyGenerated, second.Skipped[0].Reason)
	assert.Equal(t, 1, wo.count())
}

func TestGenerator_RunPass_CommitFailure_NeedsReview(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("Coolant flush", 60, due)

	store := newMemScheduleStore(s1)
	ledger := newMemLedger()
	ledger.commitErr = errors.New("connection lost")
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, ledger, wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.True(t, report.Failed[0].NeedsReview)
	assert.Equal(t, due, store.nextDue(s1.ID), "must not advance past an uncommitted record")

	state, ok := ledger.state(s1.ID, due)
	require.True(t, ok)
	assert.Equal(t, types.GenerationReserved, state)

	// The stuck reservation blocks regeneration.
	ledger.mu.Lock()
	ledger.commitErr = nil
	ledger.mu.Unlock()
	second, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Generated)
	require.Len(t, second.Skipped, 1)
	assert.Equal(t, types.SkipAlreadyGenerated, second.Skipped[0].Reason)
}

func TestGenerator_RunPass_PassLevelFault(t *testing.T) {
	store := newMemScheduleStore()
	store.listErr = errors.New("dial tcp: connection refused")
	gen := newTestGenerator(store, newMemLedger(), newMemWorkOrders(),
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	report, err := gen.RunPass(context.Background(), PassOptions{})
	assert.Nil(t, report, "a pass-level fault aborts the entire pass")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestGenerator_RunPass_StoreScope(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)
	inScope := dueSchedule("Scoped", 7, due)
	outOfScope := dueSchedule("Other store", 7, due)
	outOfScope.StoreID = "store_099"

	store := newMemScheduleStore(inScope, outOfScope)
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, newMemLedger(), wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{StoreID: "store_001"})
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	assert.Equal(t, inScope.ID, report.Generated[0].ScheduleID)
	assert.Equal(t, "store_001", report.StoreID)
	assert.Equal(t, 1, wo.count())
}

func TestGenerator_RunPass_NeverActivatedSkipped(t *testing.T) {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s := &types.PreventiveSchedule{
		ID:            uuid.New(),
		StoreID:       "store_001",
		Title:         "Never activated",
		AssetID:       uuid.New(),
		FrequencyDays: 30,
		Active:        true, // active but no next-due date on record
	}

	store := newMemScheduleStore(s)
	wo := newMemWorkOrders()
	gen := newTestGenerator(store, newMemLedger(), wo, now)

	report, err := gen.RunPass(context.Background(), PassOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Generated)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, types.SkipNotDue, report.Skipped[0].Reason)
	assert.Zero(t, wo.count())
}

func TestGenerator_RunPass_ExplicitAsOf(t *testing.T) {
	// The clock says June, but the operator backfills January 5th.
	clockNow := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s1 := dueSchedule("Backfill target", 30, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	store := newMemScheduleStore(s1)
	gen := newTestGenerator(store, newMemLedger(), newMemWorkOrders(), clockNow)

	report, err := gen.RunPass(context.Background(), PassOptions{
		AsOf: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), report.AsOf)
	require.Len(t, report.Generated, 1)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), report.Generated[0].NextDueDate)
}
