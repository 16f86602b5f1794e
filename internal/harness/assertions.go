package harness

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/mutation"
)

// check evaluates an expect clause against the view after a step and the
// step's error. It returns one message per failed expectation.
func (h *Harness) check(exp Expect, view []model.Entity, stepErr error) []string {
	var failures []string

	byID := make(map[string]model.Entity, len(view))
	ids := make([]string, 0, len(view))
	for _, e := range view {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	if exp.IDs != nil && !slices.Equal(exp.IDs, ids) {
		failures = append(failures, fmt.Sprintf("view ids: expected %v, got %v", exp.IDs, ids))
	}

	for _, id := range sortedKeys(exp.Fields) {
		e, ok := byID[id]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: not in view", id))
			continue
		}
		want, err := fieldsFrom(exp.Fields[id])
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		for _, name := range want.SortedKeys() {
			got, ok := e.Field(name)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s.%s: missing, expected %s", id, name, formatValue(want[name])))
				continue
			}
			if !model.Equal(got, want[name]) {
				failures = append(failures, fmt.Sprintf("%s.%s: expected %s, got %s",
					id, name, formatValue(want[name]), formatValue(got)))
			}
		}
	}

	for _, id := range exp.Absent {
		if _, ok := byID[id]; ok {
			failures = append(failures, fmt.Sprintf("%s: expected absent from view", id))
		}
	}

	if exp.Pending != nil {
		if n := len(h.session.Store().Pending.Active()); n != *exp.Pending {
			failures = append(failures, fmt.Sprintf("pending: expected %d active, got %d", *exp.Pending, n))
		}
	}

	if got := errorCode(stepErr); got != exp.Error {
		failures = append(failures, fmt.Sprintf("error: expected %q, got %q", exp.Error, got))
	}
	return failures
}

// errorCode names an error for comparison with Expect.Error.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var me *mutation.Error
	if errors.As(err, &me) {
		return string(me.Code)
	}
	return err.Error()
}

func formatValue(v model.Value) string {
	data, err := model.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
