package pm

import (
	"time"

	"maintdesk/internal/types"
)

// day is the unit of all due-date arithmetic.
const day = 24 * time.Hour

// Evaluate decides whether a schedule is overdue, due today, or upcoming on
// the given reference day. Pure function of its inputs; no side effects.
//
// Schedules with no next-due date (never activated) evaluate to
// DueStatusUnknown with a nil DaysUntilDue.
func Evaluate(s *types.PreventiveSchedule, today time.Time) types.DueInfo {
	if s.NextDueDate == nil {
		return types.DueInfo{Status: types.DueStatusUnknown}
	}

	// Both sides are normalized to UTC midnight, so the difference is an
	// exact whole number of days.
	days := int(Midnight(*s.NextDueDate).Sub(Midnight(today)) / day)

	info := types.DueInfo{DaysUntilDue: &days}
	switch {
	case days < 0:
		info.Status = types.DueStatusOverdue
	case days == 0:
		info.Status = types.DueStatusDueToday
	default:
		info.Status = types.DueStatusUpcoming
	}
	return info
}

// DueForGeneration reports whether a schedule should produce a work order on
// the given day: it must be active and overdue or due today.
func DueForGeneration(s *types.PreventiveSchedule, today time.Time) bool {
	if !s.Active {
		return false
	}
	info := Evaluate(s, today)
	return info.DaysUntilDue != nil && *info.DaysUntilDue <= 0
}
