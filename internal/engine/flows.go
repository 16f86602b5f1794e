package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/optisync/internal/metrics"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/mutation"
	"github.com/roach88/optisync/internal/reconcile"
	"github.com/roach88/optisync/internal/remote"
)

// TempIDPrefix marks ids assigned locally to entities the server has not
// created yet.
const TempIDPrefix = "tmp-"

// Update applies diff to entity id optimistically and writes it to the
// remote. The diff is visible in View immediately; the server's returned
// entity is merged before the pending change is acknowledged, so the view
// never snaps back to the pre-edit value.
func (s *Session) Update(ctx context.Context, id string, diff model.Fields) mutation.Result {
	if err := s.checkOpen(id); err != nil {
		return mutation.Result{EntityID: id, Err: err}
	}

	s.mu.Lock()
	_, known := s.canonical[id]
	gen := s.gen
	s.mu.Unlock()

	if !known {
		return mutation.Result{EntityID: id, Err: mutation.NewInvalidMutation(id, "unknown entity")}
	}
	if s.creating(id) {
		return mutation.Result{EntityID: id, Err: mutation.NewInvalidMutation(id, "entity is still being created")}
	}

	call := func(ctx context.Context, opID string) error {
		echo, err := s.remote.UpdateEntity(ctx, s.collection, id, diff, opID)
		if err != nil {
			return err
		}
		if _, err := s.merge([]model.Entity{echo}, ReasonEcho, gen); err != nil {
			s.logger.Debug("server echo discarded", "entity_id", id, "op_id", opID, "error", err)
		}
		return nil
	}
	return s.coord.Run(ctx, id, diff, call)
}

// onMutationEvent publishes the overlay changes the coordinator makes.
func (s *Session) onMutationEvent(ev mutation.Event) {
	var reason ChangeReason
	switch ev.Kind {
	case mutation.EventRegistered:
		reason = ReasonPending
	case mutation.EventAcked:
		reason = ReasonAck
	case mutation.EventRolledBack:
		reason = ReasonRollback
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.publishLocked(reason)
	}
}

// Create inserts fields as a new entity under a temporary id, asks the
// remote to create it and re-keys the local entity to the server's id.
// While the creation lock is held, fetched rows for ids the session does
// not know yet are held back so the new row never shows up twice.
func (s *Session) Create(ctx context.Context, fields model.Fields) (model.Entity, error) {
	if err := s.checkOpen(""); err != nil {
		return model.Entity{}, err
	}

	opID := s.ids.Generate()
	tempID := TempIDPrefix + opID

	s.mu.Lock()
	gen := s.gen
	s.store.Creations.Mark(tempID, s.creationLock)
	s.canonical = s.canonical.With(model.Entity{ID: tempID, Fields: fields.Clone()})
	s.publishLocked(ReasonCreate)
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "engine.Create",
		trace.WithAttributes(
			attribute.String("optisync.temp_id", tempID),
			attribute.String("optisync.op_id", opID),
		),
	)
	defer span.End()

	var created model.Entity
	started := s.clock.Now()
	err := guarded(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.remote.CreateEntity(ctx, s.collection, fields, opID)
		return err
	})
	metrics.ObserveMutationLatency("create", s.clock.Now().Sub(started))

	if err == nil && created.ID == "" {
		err = errors.New("remote returned an entity without an id")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		s.store.Creations.Release(tempID)
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.canonical = s.canonical.Without(tempID)
			s.publishLocked(ReasonRollback)
		}
		s.mu.Unlock()

		metrics.RecordMutation("create", metrics.ResultRollback)
		s.logger.Warn("create failed", "temp_id", tempID, "op_id", opID, "error", err)
		return model.Entity{}, mutation.NewNetworkFailure(tempID, opID, err)
	}

	if !s.store.Creations.Resolve(tempID, created.ID) {
		s.logger.Debug("creation lock lapsed before resolve",
			"temp_id", tempID, "entity_id", created.ID, "op_id", opID)
	}

	s.mu.Lock()
	if s.gen == gen && !s.closed {
		next := s.canonical.Without(tempID)
		if cur, ok := next[created.ID]; ok {
			// A refresh after the lock lapsed may already hold the row.
			if d := reconcile.Decide(&cur, created, nil, s.clock.Now()); d.Accept {
				next = next.With(created)
			}
		} else {
			next = next.With(created)
		}
		s.canonical = next
		s.publishLocked(ReasonCreate)
	}
	s.mu.Unlock()

	metrics.RecordMutation("create", metrics.ResultAck)
	span.SetAttributes(attribute.String("optisync.entity_id", created.ID))
	span.SetStatus(codes.Ok, "")
	s.logger.Debug("entity created", "temp_id", tempID, "entity_id", created.ID, "op_id", opID)
	s.debounce.Trigger()
	return created.Clone(), nil
}

// Delete removes entity id locally, hides it from lagging fetches with a
// tombstone and deletes it on the remote. On failure the entity is restored
// and the tombstone lifted. A remote "not found" counts as success.
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(id); err != nil {
		return err
	}
	if s.creating(id) {
		return mutation.NewInvalidMutation(id, "entity is still being created")
	}

	s.mu.Lock()
	prev, ok := s.canonical[id]
	if !ok {
		s.mu.Unlock()
		return mutation.NewInvalidMutation(id, "unknown entity")
	}
	gen := s.gen
	s.store.Tombstones.Mark(id, s.tombstoneLock)
	s.canonical = s.canonical.Without(id)
	s.publishLocked(ReasonDelete)
	s.mu.Unlock()

	opID := s.ids.Generate()
	ctx, span := tracer.Start(ctx, "engine.Delete",
		trace.WithAttributes(
			attribute.String("optisync.entity_id", id),
			attribute.String("optisync.op_id", opID),
		),
	)
	defer span.End()

	started := s.clock.Now()
	err := guarded(ctx, func(ctx context.Context) error {
		return s.remote.DeleteEntity(ctx, s.collection, id, opID)
	})
	metrics.ObserveMutationLatency("delete", s.clock.Now().Sub(started))

	if errors.Is(err, remote.ErrNotFound) {
		s.logger.Debug("delete of missing entity treated as success", "entity_id", id, "op_id", opID)
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		s.store.Tombstones.Lift(id)
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			if _, back := s.canonical[id]; !back {
				s.canonical = s.canonical.With(prev)
			}
			s.publishLocked(ReasonRollback)
		}
		s.mu.Unlock()

		metrics.RecordMutation("delete", metrics.ResultRollback)
		s.logger.Warn("delete failed", "entity_id", id, "op_id", opID, "error", err)
		return mutation.NewNetworkFailure(id, opID, err)
	}

	metrics.RecordMutation("delete", metrics.ResultAck)
	span.SetStatus(codes.Ok, "")
	s.debounce.Trigger()
	return nil
}

// checkOpen returns an invalid-mutation error wrapping ErrClosed after
// Close.
func (s *Session) checkOpen(id string) error {
	if !s.isClosed() {
		return nil
	}
	return &mutation.Error{
		Code:     mutation.ErrCodeInvalidMutation,
		Message:  "session closed",
		EntityID: id,
		Err:      ErrClosed,
	}
}

// creating reports whether id is a temporary id still waiting for the
// server.
func (s *Session) creating(id string) bool {
	rec, ok := s.store.Creations.Get(id)
	return ok && !rec.Resolved()
}

// guarded runs fn, converting a panic into an error.
func guarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &mutation.PanicError{Value: r}
		}
	}()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before remote call: %w", err)
	}
	return fn(ctx)
}
