package schedule

import (
	"sync"
	"time"
)

// DefaultDebounce is the coalescing window for refresh triggers.
const DefaultDebounce = 500 * time.Millisecond

// Debouncer coalesces bursts of Trigger calls into one call of its function,
// fired once the window has passed without another trigger.
//
// Thread-safety: safe for concurrent use. fn runs on the clock's timer
// goroutine (or inside Fake.Advance in tests), never while the debouncer's
// lock is held.
type Debouncer struct {
	sched  *Scheduler
	window time.Duration
	fn     func()

	mu        sync.Mutex
	handle    *Handle
	coalesced int
	stopped   bool
}

// NewDebouncer creates a Debouncer. A non-positive window uses DefaultDebounce.
func NewDebouncer(sched *Scheduler, window time.Duration, fn func()) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{sched: sched, window: window, fn: fn}
}

// Window returns the coalescing window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Trigger requests a call. Repeated triggers inside the window push the call
// back; it fires once, window after the last trigger.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.handle != nil && d.handle.Reschedule(d.window) {
		d.coalesced++
		return
	}
	d.handle = d.sched.Schedule(d.window, d.fn)
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle != nil && d.handle.Pending()
}

// Coalesced returns how many triggers were absorbed into an already
// scheduled call.
func (d *Debouncer) Coalesced() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coalesced
}

// Flush runs a scheduled call immediately. Returns false if none was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	h := d.handle
	d.mu.Unlock()

	if h == nil || !h.Cancel() {
		return false
	}
	d.fn()
	return true
}

// Stop cancels any scheduled call and ignores future triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.handle != nil {
		d.handle.Cancel()
	}
}
