package model

import (
	"encoding/json"
	"fmt"
)

// Collection is a set of entities keyed by id.
//
// Collections are treated as immutable values once published: helpers that
// change membership return a new map.
type Collection map[string]Entity

// NewCollection builds a collection from a list. Later duplicates win.
func NewCollection(entities ...Entity) Collection {
	c := make(Collection, len(entities))
	for _, e := range entities {
		c[e.ID] = e.Clone()
	}
	return c
}

// Clone returns a deep copy.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for id, e := range c {
		out[id] = e.Clone()
	}
	return out
}

// Sorted returns the entities ordered by id.
func (c Collection) Sorted() []Entity {
	out := make([]Entity, 0, len(c))
	for _, e := range c {
		out = append(out, e.Clone())
	}
	SortByID(out)
	return out
}

// Without returns a copy of the collection with id removed.
func (c Collection) Without(id string) Collection {
	out := make(Collection, len(c))
	for k, e := range c {
		if k != id {
			out[k] = e
		}
	}
	return out
}

// With returns a copy of the collection with e inserted or replaced.
func (c Collection) With(e Entity) Collection {
	out := make(Collection, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[e.ID] = e.Clone()
	return out
}

// Equal reports whether both collections hold identical entities.
func (c Collection) Equal(other Collection) bool {
	if len(c) != len(other) {
		return false
	}
	for id, e := range c {
		o, ok := other[id]
		if !ok || !e.Equal(o) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the collection as an id-sorted array so the cached
// bytes are stable across runs.
func (c Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Sorted())
}

// UnmarshalJSON decodes an array of entities.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var list []Entity
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode collection: %w", err)
	}
	out := make(Collection, len(list))
	for _, e := range list {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("decode collection: %w", err)
		}
		out[e.ID] = e
	}
	*c = out
	return nil
}
