package types

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the work-order priority assigned at creation time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DefaultPMPriority is the priority given to work orders generated from
// preventive schedules. Technicians re-triage manually if needed.
const DefaultPMPriority = PriorityMedium

// DueStatus classifies a schedule relative to a reference day.
type DueStatus string

const (
	DueStatusOverdue  DueStatus = "overdue"
	DueStatusDueToday DueStatus = "due_today"
	DueStatusUpcoming DueStatus = "upcoming"
	// DueStatusUnknown is returned for schedules that have never been
	// activated (no next-due date on record).
	DueStatusUnknown DueStatus = "unknown"
)

// PreventiveSchedule is the core domain entity: a recurring maintenance
// definition targeting exactly one asset. The engine owns only the
// NextDueDate mutation; everything else is managed by the admin CRUD surface.
type PreventiveSchedule struct {
	ID      uuid.UUID `json:"id" db:"id"`
	StoreID string    `json:"store_id" db:"store_id"`

	Title   string    `json:"title" db:"title"`
	AssetID uuid.UUID `json:"asset_id" db:"asset_id"`

	// FrequencyDays is the interval between occurrences. Always >= 1;
	// enforced by a CHECK constraint and by request validation.
	FrequencyDays int `json:"frequency_days" db:"frequency_days"`

	// NextDueDate is the earliest not-yet-generated occurrence, normalized
	// to UTC midnight. Nil only for schedules that were never activated.
	NextDueDate *time.Time `json:"next_due_date,omitempty" db:"next_due_date"`

	Active bool `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// GenerationState is the lifecycle of a ledger row.
type GenerationState string

const (
	// GenerationReserved marks an in-flight claim: the pass holds the right
	// to create a work order for the occurrence but has not committed yet.
	GenerationReserved GenerationState = "reserved"
	// GenerationCommitted marks a finalized occurrence with its work order.
	GenerationCommitted GenerationState = "committed"
)

// GenerationRecord is the ledger's persisted unit. The unique index on
// (schedule_id, occurrence_date) is what guarantees at-most-one work order
// per occurrence, independent of caller behavior.
type GenerationRecord struct {
	ScheduleID     uuid.UUID       `json:"schedule_id" db:"schedule_id"`
	OccurrenceDate time.Time       `json:"occurrence_date" db:"occurrence_date"`
	State          GenerationState `json:"state" db:"state"`
	WorkOrderID    *uuid.UUID      `json:"work_order_id,omitempty" db:"work_order_id"`
	ReservedAt     time.Time       `json:"reserved_at" db:"reserved_at"`
	CommittedAt    *time.Time      `json:"committed_at,omitempty" db:"committed_at"`
}

// WorkOrderDraft carries the creation parameters the engine hands to the
// work-order collaborator. The engine does not own the work order after
// creation.
type WorkOrderDraft struct {
	Title    string    `json:"title"`
	AssetID  uuid.UUID `json:"asset_id"`
	StoreID  string    `json:"store_id"`
	DueDate  time.Time `json:"due_date"`
	Priority Priority  `json:"priority"`
}

// DueInfo is the evaluator's verdict for one schedule on one reference day.
// DaysUntilDue is nil iff Status is DueStatusUnknown.
type DueInfo struct {
	Status       DueStatus `json:"status"`
	DaysUntilDue *int      `json:"days_until_due,omitempty"`
}

// SkipReason explains why a schedule produced no work order during a pass.
type SkipReason string

const (
	// SkipNotDue: the schedule's next occurrence is in the future (or unset).
	SkipNotDue SkipReason = "not_due"
	// SkipAlreadyGenerated: the ledger refused the reservation because a
	// record already exists for the occurrence. Expected only under
	// concurrent passes; it means the ledger did its job.
	SkipAlreadyGenerated SkipReason = "already_generated"
	// SkipInactive: the schedule was deactivated between listing and
	// evaluation. ListActive should not normally return these.
	SkipInactive SkipReason = "inactive"
)

// PassGenerated records one successful generation within a pass.
type PassGenerated struct {
	ScheduleID     uuid.UUID `json:"schedule_id"`
	WorkOrderID    uuid.UUID `json:"work_order_id"`
	OccurrenceDate time.Time `json:"occurrence_date"`
	NextDueDate    time.Time `json:"next_due_date"`
}

// PassSkipped records one schedule that produced no work order, with reason.
type PassSkipped struct {
	ScheduleID uuid.UUID  `json:"schedule_id"`
	Reason     SkipReason `json:"reason"`
}

// PassFailure records one schedule whose generation failed. The schedule is
// retried on the next pass unless NeedsReview is set, in which case a work
// order exists but the schedule's next-due date could not be advanced and an
// operator must intervene (the ledger blocks duplicates in the meantime).
type PassFailure struct {
	ScheduleID  uuid.UUID `json:"schedule_id"`
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	NeedsReview bool      `json:"needs_review,omitempty"`
}

// PassReport aggregates the outcome of one generation pass. Per-schedule
// failures never abort the pass; a pass-level fault (e.g., the schedule store
// is unreachable) is returned as an error instead of a report.
type PassReport struct {
	PassID    uuid.UUID `json:"pass_id"`
	AsOf      time.Time `json:"as_of"`
	StoreID   string    `json:"store_id,omitempty"`
	Evaluated int       `json:"evaluated"`

	Generated []PassGenerated `json:"generated"`
	Skipped   []PassSkipped   `json:"skipped"`
	Failed    []PassFailure   `json:"failed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports aggregate success: every evaluated schedule was either generated
// or cleanly skipped. This is the single boolean the list UI's alert consumes.
func (r *PassReport) OK() bool {
	return len(r.Failed) == 0
}
