package model

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Fields is a mapping of field name to value, either a full entity body or
// a partial diff.
type Fields = Object

// Entity is a mutable record (task, project) exchanged with the server.
//
// UpdatedAt and Version are computed by the server. A zero UpdatedAt and a
// nil Version mean "not provided". OpID is set by the server on the entity it
// returns for a write, echoing the operation that produced it.
type Entity struct {
	ID        string    `json:"id"`
	Fields    Fields    `json:"fields"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Version   *int64    `json:"version,omitempty"`
	OpID      string    `json:"op_id,omitempty"`
}

// HasVersion reports whether the entity carries a version counter.
func (e Entity) HasVersion() bool {
	return e.Version != nil
}

// HasUpdatedAt reports whether the entity carries a server timestamp.
func (e Entity) HasUpdatedAt() bool {
	return !e.UpdatedAt.IsZero()
}

// Field returns the value for name and whether it is present.
func (e Entity) Field(name string) (Value, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	out := e
	out.Fields = e.Fields.Clone()
	if e.Version != nil {
		v := *e.Version
		out.Version = &v
	}
	return out
}

// WithFields returns a copy of the entity with diff applied on top of its fields.
// Bookkeeping (UpdatedAt, Version, OpID) is left unchanged.
func (e Entity) WithFields(diff Fields) Entity {
	out := e.Clone()
	if out.Fields == nil {
		out.Fields = make(Fields, len(diff))
	}
	for k, v := range diff {
		out.Fields[k] = Clone(v)
	}
	return out
}

// Equal reports whether two entities are identical, bookkeeping included.
func (e Entity) Equal(other Entity) bool {
	if e.ID != other.ID || e.OpID != other.OpID || !e.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	switch {
	case e.Version == nil && other.Version != nil, e.Version != nil && other.Version == nil:
		return false
	case e.Version != nil && *e.Version != *other.Version:
		return false
	}
	return Equal(nilSafe(e.Fields), nilSafe(other.Fields))
}

func nilSafe(obj Object) Object {
	if obj == nil {
		return Object{}
	}
	return obj
}

// Validate checks the invariants every entity must satisfy.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entity id is required")
	}
	return nil
}

// VersionPtr is a convenience for constructing entities with a version.
func VersionPtr(v int64) *int64 {
	return &v
}

// SortByID sorts entities in place by id for deterministic output.
func SortByID(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})
}

// Identity is the authenticated principal a session acts for.
// TenantID is empty when the account has no switchable tenant.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Validate checks that the identity can scope a cache.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.UserID) == "" {
		return errors.New("identity user id is required")
	}
	return nil
}
