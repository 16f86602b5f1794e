package reconcile

import (
	"slices"
	"time"

	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/registry"
)

// PendingLookup returns the pending record for an entity, active or lapsed.
type PendingLookup interface {
	Get(entityID string) (registry.PendingChange, bool)
}

// TombstoneGate reports entities hidden by an active deletion tombstone.
type TombstoneGate interface {
	ActiveAt(entityID string, now time.Time) bool
}

// CreationGate reports server rows held back by an active creation lock.
// known is whether the local collection already holds the id.
type CreationGate interface {
	SuppressesAt(id string, known bool, now time.Time) bool
}

// Gates bundles the registries the merger consults. A nil gate never blocks.
type Gates struct {
	Pending    PendingLookup
	Tombstones TombstoneGate
	Creations  CreationGate
}

// GatesFrom returns the gates backed by a session's registry store.
func GatesFrom(s *registry.Store) Gates {
	return Gates{Pending: s.Pending, Tombstones: s.Tombstones, Creations: s.Creations}
}

// Outcome records what happened to one entity during a merge.
type Outcome struct {
	ID     string `json:"id"`
	Reason Reason `json:"reason"`
	Field  string `json:"field,omitempty"`
}

// MergeReport describes a merge, in batch order.
type MergeReport struct {
	// Accepted entities replaced or inserted their local value.
	Accepted []Outcome `json:"accepted,omitempty"`

	// Rejected entities were refused by the guard.
	Rejected []Outcome `json:"rejected,omitempty"`

	// Suppressed entities were held back by a tombstone or creation lock.
	Suppressed []Outcome `json:"suppressed,omitempty"`

	// Dropped lists local ids removed because of an active tombstone.
	Dropped []string `json:"dropped,omitempty"`

	// Changed counts entities whose stored value actually differs after the
	// merge, including drops.
	Changed int `json:"changed"`
}

// Regressions returns the rejections caused by field regression.
func (r MergeReport) Regressions() []Outcome {
	var out []Outcome
	for _, o := range r.Rejected {
		if o.Reason == ReasonRegression {
			out = append(out, o)
		}
	}
	return out
}

// Merge folds batch into local and returns the new collection.
//
// local is not modified. Entities missing from batch are kept: deletion is
// only ever explicit, through a tombstone. When batch holds the same id more
// than once, each copy is evaluated in order against the result so far.
// Entities that fail validation are rejected without touching the result.
func Merge(local model.Collection, batch []model.Entity, g Gates, now time.Time) (model.Collection, MergeReport) {
	var report MergeReport
	out := make(model.Collection, len(local)+len(batch))

	for id, e := range local {
		if g.tombstoned(id, now) {
			report.Dropped = append(report.Dropped, id)
			continue
		}
		out[id] = e
	}
	report.Changed = len(report.Dropped)
	slices.Sort(report.Dropped)

	for _, incoming := range batch {
		if err := incoming.Validate(); err != nil {
			report.Rejected = append(report.Rejected, Outcome{ID: incoming.ID, Reason: ReasonInvalid})
			continue
		}
		cur, known := out[incoming.ID]

		if g.Creations != nil && g.Creations.SuppressesAt(incoming.ID, known, now) {
			report.Suppressed = append(report.Suppressed, Outcome{ID: incoming.ID, Reason: ReasonCreationLocked})
			continue
		}
		if g.tombstoned(incoming.ID, now) {
			report.Suppressed = append(report.Suppressed, Outcome{ID: incoming.ID, Reason: ReasonTombstoned})
			continue
		}

		var localPtr *model.Entity
		if known {
			localPtr = &cur
		}
		var pendingPtr *registry.PendingChange
		if g.Pending != nil {
			if rec, ok := g.Pending.Get(incoming.ID); ok {
				pendingPtr = &rec
			}
		}

		d := Decide(localPtr, incoming, pendingPtr, now)
		if !d.Accept {
			report.Rejected = append(report.Rejected, Outcome{ID: incoming.ID, Reason: d.Reason, Field: d.Field})
			continue
		}

		report.Accepted = append(report.Accepted, Outcome{ID: incoming.ID, Reason: d.Reason})
		if !known || !cur.Equal(incoming) {
			report.Changed++
		}
		out[incoming.ID] = incoming.Clone()
	}

	return out, report
}

func (g Gates) tombstoned(id string, now time.Time) bool {
	return g.Tombstones != nil && g.Tombstones.ActiveAt(id, now)
}
