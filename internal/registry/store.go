package registry

import (
	"time"

	"github.com/roach88/optisync/internal/clock"
)

// Store owns the three registries for one session.
//
// It is created once per session and injected into the mutation coordinator
// and snapshot merger; all mutation goes through the registries' methods.
type Store struct {
	Pending    *PendingRegistry
	Tombstones *DeletionOverlay
	Creations  *CreationLock

	clock clock.Clock
}

// NewStore creates a Store whose registries share clk.
func NewStore(clk clock.Clock, ids clock.OpIDGenerator) *Store {
	return &Store{
		Pending:    NewPendingRegistry(clk, ids),
		Tombstones: NewDeletionOverlay(clk),
		Creations:  NewCreationLock(clk),
		clock:      clk,
	}
}

// Now returns the time the registries evaluate expiry against.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// SweepStats reports how many lapsed records a Sweep removed.
type SweepStats struct {
	Pending    int
	Tombstones int
	Creations  int
}

// Total returns the number of records removed across registries.
func (s SweepStats) Total() int {
	return s.Pending + s.Tombstones + s.Creations
}

// Sweep drops lapsed records from every registry.
func (s *Store) Sweep() SweepStats {
	return SweepStats{
		Pending:    s.Pending.Sweep(),
		Tombstones: s.Tombstones.Sweep(),
		Creations:  s.Creations.Sweep(),
	}
}

// Reset drops every record, e.g. when the session switches identity.
func (s *Store) Reset() {
	s.Pending.Reset()
	s.Tombstones.Reset()
	s.Creations.Reset()
}
