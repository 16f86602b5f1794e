package reconcile

import (
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/registry"
)

// ApplyPending returns the id-sorted view of canonical with every active
// pending diff applied on top. Pending records for ids missing from
// canonical are ignored.
func ApplyPending(canonical model.Collection, active map[string]registry.PendingChange) []model.Entity {
	out := make([]model.Entity, 0, len(canonical))
	for id, e := range canonical {
		if p, ok := active[id]; ok {
			out = append(out, e.WithFields(p.Fields))
			continue
		}
		out = append(out, e.Clone())
	}
	model.SortByID(out)
	return out
}
