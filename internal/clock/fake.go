package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock.
//
// Timers created with AfterFunc fire synchronously inside Advance or Set,
// in deadline order (ties by creation order), on the caller's goroutine.
// Callbacks run without the clock's lock held, so they may call Now,
// AfterFunc, Stop and Reset freely.
//
// Thread-safety: all methods are safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	nextID int64
}

// NewFake creates a fake clock at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the fake time reaches now+d.
// A non-positive d fires on the next Advance (including Advance(0)).
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, deadline: c.now.Add(d), fn: f, active: true}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d and fires every timer that became due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set moves time to t (never backwards) and fires due timers.
// Time steps through each timer's deadline, so a callback observes Now()
// equal to its own due time.
func (c *Fake) Set(t time.Time) {
	for {
		c.mu.Lock()
		next := c.nextDeadlineLocked()
		if next != nil && !next.deadline.After(t) {
			if next.deadline.After(c.now) {
				c.now = next.deadline
			}
			next.active = false
			c.removeLocked(next)
			fn := next.fn
			c.mu.Unlock()

			fn()
			continue
		}
		if t.After(c.now) {
			c.now = t
		}
		c.mu.Unlock()
		return
	}
}

// PendingTimers returns the number of armed timers.
func (c *Fake) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Fake) nextDeadlineLocked() *fakeTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].id < c.timers[j].id
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	return c.timers[0]
}

func (c *Fake) removeLocked(t *fakeTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

type fakeTimer struct {
	clock    *Fake
	id       int64
	deadline time.Time
	fn       func()
	active   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if !t.active {
		return false
	}
	t.active = false
	t.clock.removeLocked(t)
	return true
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := t.active
	if wasActive {
		t.clock.removeLocked(t)
	}
	t.clock.nextID++
	t.id = t.clock.nextID
	t.deadline = t.clock.now.Add(d)
	t.active = true
	t.clock.timers = append(t.clock.timers, t)
	return wasActive
}
