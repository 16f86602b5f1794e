package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

// Op names a Memory operation for failure injection.
type Op string

const (
	OpFetch  Op = "fetch"
	OpUpdate Op = "update"
	OpCreate Op = "create"
	OpDelete Op = "delete"
)

// Memory is an in-process authoritative server.
//
// Every successful write stamps UpdatedAt from the clock, bumps Version
// and echoes the operation id. Created entities get ids "T%06d" from a
// counter.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	clock       clock.Clock
	collections map[string]map[string]model.Entity
	nextID      int
	failures    map[Op][]error
	calls       map[Op]int
}

var _ Remote = (*Memory)(nil)

// NewMemory creates an empty server.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:       clk,
		collections: make(map[string]map[string]model.Entity),
		nextID:      1,
		failures:    make(map[Op][]error),
		calls:       make(map[Op]int),
	}
}

// Seed stores entities as-is, without touching bookkeeping.
func (m *Memory) Seed(collection string, entities ...model.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionLocked(collection)
	for _, e := range entities {
		c[e.ID] = e.Clone()
	}
}

// SetNextID sets the counter used for the next created id.
func (m *Memory) SetNextID(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = n
}

// FailNext makes the next call of op return err. Queued failures are
// consumed in order.
func (m *Memory) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns how many times op was invoked, failures included.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Get returns the server's copy of an entity.
func (m *Memory) Get(collection, id string) (model.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.collections[collection][id]
	if !ok {
		return model.Entity{}, false
	}
	return e.Clone(), true
}

// FetchCollection returns the matching entities sorted by id.
func (m *Memory) FetchCollection(ctx context.Context, f Filter) ([]model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(ctx, OpFetch); err != nil {
		return nil, err
	}
	out := make([]model.Entity, 0, len(m.collections[f.Collection]))
	for _, e := range m.collections[f.Collection] {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	model.SortByID(out)
	return out, nil
}

// UpdateEntity applies diff to an existing entity.
func (m *Memory) UpdateEntity(ctx context.Context, collection, id string, diff model.Fields, opID string) (model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(ctx, OpUpdate); err != nil {
		return model.Entity{}, err
	}
	c := m.collectionLocked(collection)
	cur, ok := c[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	next := m.stampLocked(cur.WithFields(diff), opID)
	c[id] = next
	return next.Clone(), nil
}

// CreateEntity inserts a new entity under a server-assigned id.
func (m *Memory) CreateEntity(ctx context.Context, collection string, fields model.Fields, opID string) (model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(ctx, OpCreate); err != nil {
		return model.Entity{}, err
	}
	c := m.collectionLocked(collection)
	id := fmt.Sprintf("T%06d", m.nextID)
	m.nextID++
	if _, exists := c[id]; exists {
		return model.Entity{}, fmt.Errorf("create %s/%s: %w", collection, id, ErrConflict)
	}
	e := m.stampLocked(model.Entity{ID: id, Fields: fields.Clone()}, opID)
	c[id] = e
	return e.Clone(), nil
}

// DeleteEntity removes an entity.
func (m *Memory) DeleteEntity(ctx context.Context, collection, id, opID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(ctx, OpDelete); err != nil {
		return err
	}
	c := m.collectionLocked(collection)
	if _, ok := c[id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	delete(c, id)
	return nil
}

func (m *Memory) beginLocked(ctx context.Context, op Op) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *Memory) stampLocked(e model.Entity, opID string) model.Entity {
	var v int64 = 1
	if e.Version != nil {
		v = *e.Version + 1
	}
	e.Version = &v
	e.UpdatedAt = m.clock.Now().UTC()
	e.OpID = opID
	return e
}

func (m *Memory) collectionLocked(name string) map[string]model.Entity {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]model.Entity)
		m.collections[name] = c
	}
	return c
}
