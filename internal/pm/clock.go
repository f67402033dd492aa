// Package pm implements the preventive-maintenance due-date engine: due
// evaluation, occurrence advancement, and ledgered work-order generation.
//
// All date math in this package is whole-day, UTC. The surrounding CRUD
// application previously mixed local-midnight and raw-timestamp comparisons
// across screens, producing off-by-one results near midnight; the engine
// normalizes once, centrally, and every consumer goes through it.
package pm

import "time"

// Clock supplies the current time. It is injected so that passes and tests
// can run against a fixed reference day.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewClock returns the real UTC clock.
func NewClock() Clock { return realClock{} }

// Midnight normalizes a timestamp to its UTC day boundary. Every date the
// engine compares or persists goes through this exactly once.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
