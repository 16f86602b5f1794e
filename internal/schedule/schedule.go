// Package schedule provides cancellable delayed tasks and a trailing-edge
// debouncer on top of an injectable clock.
package schedule

import (
	"sync"
	"time"

	"github.com/roach88/optisync/internal/clock"
)

// Scheduler runs functions after a delay measured on its clock.
type Scheduler struct {
	clock clock.Clock
}

// New creates a Scheduler. A nil clock uses the system clock.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{clock: clk}
}

// Schedule runs fn once delay has elapsed and returns a handle to cancel or
// move it.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Handle {
	h := &Handle{armed: true}
	h.timer = s.clock.AfterFunc(delay, func() {
		h.mu.Lock()
		if !h.armed {
			h.mu.Unlock()
			return
		}
		h.armed = false
		h.mu.Unlock()
		fn()
	})
	return h
}

// Handle controls one scheduled task.
type Handle struct {
	mu    sync.Mutex
	timer clock.Timer
	armed bool
}

// Pending reports whether the task has neither run nor been cancelled.
func (h *Handle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}

// Cancel stops the task. Returns false if it already ran or was cancelled.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.armed {
		return false
	}
	h.armed = false
	h.timer.Stop()
	return true
}

// Reschedule moves a pending task to run delay from now. Returns false,
// without re-arming, if the task already ran or was cancelled.
func (h *Handle) Reschedule(delay time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.armed {
		return false
	}
	h.timer.Reset(delay)
	return true
}
