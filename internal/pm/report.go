package pm

import (
	"time"

	"maintdesk/internal/types"
)

// Describe is the read-side view of due status used by list and detail
// screens. It is a thin wrapper over Evaluate, deliberately separate from the
// Generator: viewing schedules is side-effect-free and safe to call
// arbitrarily often from any number of concurrent viewers, whereas generation
// is a controlled, ledgered mutation. Describe never touches the ledger.
func Describe(s *types.PreventiveSchedule, today time.Time) types.DueInfo {
	return Evaluate(s, today)
}
