package registry

import (
	"sync"
	"time"

	"github.com/roach88/optisync/internal/clock"
)

// DeletionTombstone marks an entity deleted locally before the server confirms.
type DeletionTombstone struct {
	EntityID  string
	LockUntil time.Time
}

// DeletionOverlay suppresses locally deleted entities from merges until the
// tombstone lapses.
type DeletionOverlay struct {
	mu         sync.Mutex
	clock      clock.Clock
	tombstones map[string]DeletionTombstone
}

// NewDeletionOverlay creates an empty overlay.
func NewDeletionOverlay(clk clock.Clock) *DeletionOverlay {
	return &DeletionOverlay{
		clock:      clk,
		tombstones: make(map[string]DeletionTombstone),
	}
}

// Mark tombstones entityID for d.
//
// If an active tombstone already exists it is kept as-is and Mark returns
// false: re-marking never extends a lock. A lapsed tombstone is replaced.
func (o *DeletionOverlay) Mark(entityID string, d time.Duration) bool {
	now := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.tombstones[entityID]; ok && now.Before(existing.LockUntil) {
		return false
	}
	o.tombstones[entityID] = DeletionTombstone{EntityID: entityID, LockUntil: now.Add(max(d, 0))}
	return true
}

// Lift removes the tombstone for entityID. Used by the delete flow that
// created it when the server rejects the delete.
func (o *DeletionOverlay) Lift(entityID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.tombstones[entityID]
	delete(o.tombstones, entityID)
	return ok
}

// IsActive reports whether entityID is under an active tombstone now.
func (o *DeletionOverlay) IsActive(entityID string) bool {
	return o.ActiveAt(entityID, o.clock.Now())
}

// ActiveAt reports whether entityID is under a tombstone active at now.
func (o *DeletionOverlay) ActiveAt(entityID string, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	ts, ok := o.tombstones[entityID]
	return ok && now.Before(ts.LockUntil)
}

// Get returns the tombstone for entityID, active or lapsed.
func (o *DeletionOverlay) Get(entityID string) (DeletionTombstone, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ts, ok := o.tombstones[entityID]
	return ts, ok
}

// Sweep drops lapsed tombstones and returns how many were removed.
func (o *DeletionOverlay) Sweep() int {
	now := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for id, ts := range o.tombstones {
		if !now.Before(ts.LockUntil) {
			delete(o.tombstones, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tombstones, including lapsed ones.
func (o *DeletionOverlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tombstones)
}

// Reset drops every tombstone.
func (o *DeletionOverlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tombstones = make(map[string]DeletionTombstone)
}
