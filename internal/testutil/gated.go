package testutil

import (
	"context"
	"sync"

	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/remote"
)

// Gated wraps a remote.Memory and can hold the next call of one operation
// open after the server has applied it, as if the response were still on
// the wire. Held calls signal Entered and return once Release is called.
//
// Thread-safety: safe for concurrent use.
type Gated struct {
	*remote.Memory

	mu      sync.Mutex
	armed   map[remote.Op]int
	entered chan remote.Op
	release map[remote.Op]chan error
}

var _ remote.Remote = (*Gated)(nil)

// NewGated wraps m.
func NewGated(m *remote.Memory) *Gated {
	return &Gated{
		Memory:  m,
		armed:   make(map[remote.Op]int),
		entered: make(chan remote.Op, 16),
		release: make(map[remote.Op]chan error),
	}
}

// Hold arms the gate for the next call of op.
func (g *Gated) Hold(op remote.Op) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed[op]++
	if _, ok := g.release[op]; !ok {
		g.release[op] = make(chan error, 16)
	}
}

// Unhold disarms one pending Hold of op that no call consumed.
func (g *Gated) Unhold(op remote.Op) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed[op] > 0 {
		g.armed[op]--
	}
}

// Entered returns a channel receiving the op of each call that reached the
// gate.
func (g *Gated) Entered() <-chan remote.Op {
	return g.entered
}

// Release lets one held call of op return. A non-nil err replaces the
// call's result; the server-side effect has already happened.
func (g *Gated) Release(op remote.Op, err error) {
	g.mu.Lock()
	ch, ok := g.release[op]
	if !ok {
		ch = make(chan error, 16)
		g.release[op] = ch
	}
	g.mu.Unlock()
	ch <- err
}

func (g *Gated) wait(ctx context.Context, op remote.Op) error {
	g.mu.Lock()
	if g.armed[op] == 0 {
		g.mu.Unlock()
		return nil
	}
	g.armed[op]--
	ch := g.release[op]
	g.mu.Unlock()

	g.entered <- op
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gated) FetchCollection(ctx context.Context, f remote.Filter) ([]model.Entity, error) {
	out, err := g.Memory.FetchCollection(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx, remote.OpFetch); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Gated) UpdateEntity(ctx context.Context, collection, id string, diff model.Fields, opID string) (model.Entity, error) {
	out, err := g.Memory.UpdateEntity(ctx, collection, id, diff, opID)
	if err != nil {
		return model.Entity{}, err
	}
	if err := g.wait(ctx, remote.OpUpdate); err != nil {
		return model.Entity{}, err
	}
	return out, nil
}

func (g *Gated) CreateEntity(ctx context.Context, collection string, fields model.Fields, opID string) (model.Entity, error) {
	out, err := g.Memory.CreateEntity(ctx, collection, fields, opID)
	if err != nil {
		return model.Entity{}, err
	}
	if err := g.wait(ctx, remote.OpCreate); err != nil {
		return model.Entity{}, err
	}
	return out, nil
}

func (g *Gated) DeleteEntity(ctx context.Context, collection, id, opID string) error {
	if err := g.Memory.DeleteEntity(ctx, collection, id, opID); err != nil {
		return err
	}
	return g.wait(ctx, remote.OpDelete)
}
