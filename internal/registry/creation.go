package registry

import (
	"sync"
	"time"

	"github.com/roach88/optisync/internal/clock"
)

// CreationLockRecord marks an entity created locally under a temporary id.
// RealID is empty until the server-assigned identity is known.
type CreationLockRecord struct {
	TempID    string
	RealID    string
	LockUntil time.Time
}

// Resolved reports whether the server-assigned id is known.
func (r CreationLockRecord) Resolved() bool {
	return r.RealID != ""
}

// CreationLock keeps a freshly created entity's server row from being merged
// next to its temporary local representation.
//
// While a lock is unresolved the real id is unknown, so every server row the
// local collection has never seen is held back. Once resolved, both the temp
// id and the real id stay suppressed as new rows until the lock lapses.
type CreationLock struct {
	mu     sync.Mutex
	clock  clock.Clock
	locks  map[string]CreationLockRecord // by temp id
	byReal map[string]string             // real id -> temp id
}

// NewCreationLock creates an empty registry.
func NewCreationLock(clk clock.Clock) *CreationLock {
	return &CreationLock{
		clock:  clk,
		locks:  make(map[string]CreationLockRecord),
		byReal: make(map[string]string),
	}
}

// Mark locks tempID for d. An active lock for the same temp id is kept
// unchanged and Mark returns false.
func (c *CreationLock) Mark(tempID string, d time.Duration) bool {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.locks[tempID]; ok && now.Before(existing.LockUntil) {
		return false
	}
	c.dropLocked(tempID)
	c.locks[tempID] = CreationLockRecord{TempID: tempID, LockUntil: now.Add(max(d, 0))}
	return true
}

// Resolve binds tempID to the server-assigned realID without touching
// LockUntil. Returns false if the lock is unknown, lapsed, or already bound
// to a different id.
func (c *CreationLock) Resolve(tempID, realID string) bool {
	if realID == "" {
		return false
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.locks[tempID]
	if !ok || !now.Before(rec.LockUntil) {
		return false
	}
	if rec.Resolved() {
		return rec.RealID == realID
	}
	rec.RealID = realID
	c.locks[tempID] = rec
	c.byReal[realID] = tempID
	return true
}

// Release removes the lock for tempID (used when the creation fails).
func (c *CreationLock) Release(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.locks[tempID]
	c.dropLocked(tempID)
	return ok
}

// Get returns the record for tempID, active or lapsed.
func (c *CreationLock) Get(tempID string) (CreationLockRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.locks[tempID]
	return rec, ok
}

// IsActive reports whether id is the temp id or resolved real id of an
// active lock.
func (c *CreationLock) IsActive(id string) bool {
	return c.ActiveAt(id, c.clock.Now())
}

// ActiveAt is IsActive evaluated at now.
func (c *CreationLock) ActiveAt(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked(id, now)
}

// SuppressesAt reports whether a server row with the given id must be held
// back from a merge at now. known is whether the local collection already
// holds the id: a known entity is never a duplicate of a pending creation,
// so it is reconciled normally.
//
// While any creation is unresolved the real id it will receive is unknown,
// so every unknown row is held back, including rows created elsewhere. They
// are admitted by the first merge after the lock resolves, is released or
// lapses.
func (c *CreationLock) SuppressesAt(id string, known bool, now time.Time) bool {
	if known {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.activeLocked(id, now) || c.unresolvedLocked(now)
}

func (c *CreationLock) unresolvedLocked(now time.Time) bool {
	for _, rec := range c.locks {
		if !rec.Resolved() && now.Before(rec.LockUntil) {
			return true
		}
	}
	return false
}

func (c *CreationLock) activeLocked(id string, now time.Time) bool {
	if rec, ok := c.locks[id]; ok && now.Before(rec.LockUntil) {
		return true
	}
	if tempID, ok := c.byReal[id]; ok {
		if rec, ok := c.locks[tempID]; ok && now.Before(rec.LockUntil) {
			return true
		}
	}
	return false
}

// Sweep drops lapsed locks and returns how many were removed.
func (c *CreationLock) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for tempID, rec := range c.locks {
		if !now.Before(rec.LockUntil) {
			c.dropLocked(tempID)
			removed++
		}
	}
	return removed
}

// Len returns the number of locks, including lapsed ones.
func (c *CreationLock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// Reset drops every lock.
func (c *CreationLock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locks = make(map[string]CreationLockRecord)
	c.byReal = make(map[string]string)
}

func (c *CreationLock) dropLocked(tempID string) {
	if rec, ok := c.locks[tempID]; ok && rec.Resolved() {
		delete(c.byReal, rec.RealID)
	}
	delete(c.locks, tempID)
}
