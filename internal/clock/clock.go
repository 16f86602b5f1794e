// Package clock provides the time sources the engine depends on: a wall
// clock for lock expiry and scheduling, a logical sequence for ordering
// emitted events, and generators for one-shot operation ids.
//
// Every component takes a Clock instead of calling time.Now directly, so
// tests and scenario replays advance time explicitly with Fake and never sleep.
package clock

import "time"

// Clock is an injectable wall-time source.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (System) or synchronously
	// during Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call created by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if the timer
	// already fired or was stopped.
	Stop() bool

	// Reset re-arms the timer to fire d from now. Returns true if the
	// timer had been active.
	Reset(d time.Duration) bool
}

// System is the production Clock backed by the time package.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
