package registry

import (
	"sync"
	"time"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

// PendingChange is an in-flight local edit not yet confirmed by the server.
type PendingChange struct {
	// OpID identifies this specific mutation attempt.
	OpID string

	// Fields is the partial diff the edit applies.
	Fields model.Fields

	// StartedAt is when the edit was registered.
	StartedAt time.Time

	// LockUntil bounds how long the edit protects its fields.
	LockUntil time.Time
}

// ActiveAt reports whether the change still protects its fields at now.
func (p PendingChange) ActiveAt(now time.Time) bool {
	return now.Before(p.LockUntil)
}

// Clone returns a deep copy.
func (p PendingChange) Clone() PendingChange {
	p.Fields = p.Fields.Clone()
	return p
}

// PendingRegistry tracks at most one PendingChange per entity id.
type PendingRegistry struct {
	mu      sync.Mutex
	clock   clock.Clock
	ids     clock.OpIDGenerator
	records map[string]PendingChange
}

// NewPendingRegistry creates an empty registry.
func NewPendingRegistry(clk clock.Clock, ids clock.OpIDGenerator) *PendingRegistry {
	return &PendingRegistry{
		clock:   clk,
		ids:     ids,
		records: make(map[string]PendingChange),
	}
}

// Add registers a pending edit for entityID and returns its new opID.
//
// Add always succeeds and replaces any previous record for the id; edits
// never stack. The superseded opID can no longer be acknowledged. A
// non-positive duration creates a record that is already inactive.
func (r *PendingRegistry) Add(entityID string, fields model.Fields, d time.Duration) string {
	opID := r.ids.Generate()
	now := r.clock.Now()
	if d < 0 {
		d = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[entityID] = PendingChange{
		OpID:      opID,
		Fields:    fields.Clone(),
		StartedAt: now,
		LockUntil: now.Add(d),
	}
	return opID
}

// Ack removes the record for entityID only if opID is the one stored.
// Returns false for a superseded or unknown operation.
func (r *PendingRegistry) Ack(entityID, opID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[entityID]
	if !ok || rec.OpID != opID {
		return false
	}
	delete(r.records, entityID)
	return true
}

// Rollback removes the record for entityID unconditionally.
func (r *PendingRegistry) Rollback(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.records[entityID]
	delete(r.records, entityID)
	return ok
}

// Get returns a copy of the record for entityID, active or lapsed.
func (r *PendingRegistry) Get(entityID string) (PendingChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[entityID]
	if !ok {
		return PendingChange{}, false
	}
	return rec.Clone(), true
}

// IsActive reports whether entityID has a record that has not lapsed.
func (r *PendingRegistry) IsActive(entityID string) bool {
	rec, ok := r.Get(entityID)
	return ok && rec.ActiveAt(r.clock.Now())
}

// Active returns copies of all records still active at the current time.
func (r *PendingRegistry) Active() map[string]PendingChange {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]PendingChange, len(r.records))
	for id, rec := range r.records {
		if rec.ActiveAt(now) {
			out[id] = rec.Clone()
		}
	}
	return out
}

// Sweep drops lapsed records and returns how many were removed.
func (r *PendingRegistry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.records {
		if !rec.ActiveAt(now) {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of records, including lapsed ones.
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset drops every record.
func (r *PendingRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]PendingChange)
}
