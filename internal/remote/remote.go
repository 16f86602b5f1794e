// Package remote defines the server API the engine consumes and provides
// two implementations: an HTTP/JSON client and an in-memory authoritative
// server used by tests, scenario replays and the demo server.
//
// The server is the sole authority for updatedAt and version. Every write
// carries the client's operation id, and the entity the server returns
// echoes it in OpID so the client can recognise its own acknowledgment.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/optisync/internal/model"
)

var (
	// ErrNotFound is returned when the entity or collection does not exist.
	ErrNotFound = errors.New("remote: not found")

	// ErrConflict is returned when the server refuses a write because of a
	// conflicting state.
	ErrConflict = errors.New("remote: conflict")
)

// Filter selects entities from a collection. Where matches string fields
// exactly; an empty Where selects everything.
type Filter struct {
	Collection string
	Where      map[string]string
}

// Matches reports whether e satisfies the Where clause.
func (f Filter) Matches(e model.Entity) bool {
	for field, want := range f.Where {
		v, ok := e.Field(field)
		if !ok {
			return false
		}
		s, ok := v.(model.String)
		if !ok || string(s) != want {
			return false
		}
	}
	return true
}

// Remote is the CRUD API the engine reads from and writes to.
type Remote interface {
	FetchCollection(ctx context.Context, f Filter) ([]model.Entity, error)
	UpdateEntity(ctx context.Context, collection, id string, diff model.Fields, opID string) (model.Entity, error)
	CreateEntity(ctx context.Context, collection string, fields model.Fields, opID string) (model.Entity, error)
	DeleteEntity(ctx context.Context, collection, id, opID string) error
}

// HTTPError is a non-2xx response that is not otherwise classified.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is maps 404 and 409 responses onto ErrNotFound and ErrConflict.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == 404
	case ErrConflict:
		return e.StatusCode == 409
	}
	return false
}
