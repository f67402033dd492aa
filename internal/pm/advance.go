package pm

import "time"

// NextOccurrence computes the schedule's next due date after a generation:
// the first multiple of frequencyDays past the satisfied occurrence that is
// strictly after today.
//
// Catch-up policy: when multiple periods were missed (the generation job did
// not run for a while), all missed occurrences collapse into this single
// future date. Only the most recent missed occurrence is materialized as a
// work order; the schedule resumes on a clean future cadence instead of
// flooding the system with a backlog of stale work orders.
//
// The result is always strictly after today. Terminates because
// frequencyDays >= 1 (a zero or negative frequency is rejected upstream by
// validation and a CHECK constraint; the clamp here only guards termination).
func NextOccurrence(occurrence time.Time, frequencyDays int, today time.Time) time.Time {
	if frequencyDays < 1 {
		frequencyDays = 1
	}

	todayMid := Midnight(today)
	next := Midnight(occurrence)
	for !next.After(todayMid) {
		next = next.AddDate(0, 0, frequencyDays)
	}
	return next
}
