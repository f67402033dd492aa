package types

import "time"

// TaskType identifies which engine operation a worker invocation should run.
// EventBridge rules and the API's async path both send PassPayload; the Task
// field routes execution inside the pm-worker.
type TaskType string

const (
	// TaskGenerationPass runs one due-generation pass across active schedules.
	TaskGenerationPass TaskType = "generation_pass"
	// TaskLedgerSweep reports reservations stranded by a crashed pass. They
	// are surfaced for operator review, not auto-released: the work order
	// may exist even though the commit never landed.
	TaskLedgerSweep TaskType = "ledger_sweep"
)

// PassPayload is the JSON payload delivered to the pm-worker, either by an
// EventBridge schedule rule or via the SQS trigger queue (async API requests).
//
//	{
//	  "task": "generation_pass",
//	  "reference_time": "2025-01-05T00:00:00Z",  // optional
//	  "store_id": "store_042"                     // optional tenant scope
//	}
type PassPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "today" for deterministic execution and
	// backfills. If nil, the worker uses the real clock.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	// StoreID limits the pass to one tenant's schedules. Empty means all.
	StoreID string `json:"store_id,omitempty"`
	// RequestedBy is the operator or system that asked for the pass; carried
	// through to pass history for auditability.
	RequestedBy string `json:"requested_by,omitempty"`
}
