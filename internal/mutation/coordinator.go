package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/metrics"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/registry"
)

var tracer = otel.Tracer("optisync.mutation")

// DefaultLock is how long a pending edit protects its fields.
const DefaultLock = 30 * time.Second

// RemoteCall performs the server write for one operation. opID is the
// operation id registered for this attempt; implementations send it so the
// server can echo it on the entity it returns.
type RemoteCall func(ctx context.Context, opID string) error

// Refresher receives a request for a collection refresh after a successful
// write. schedule.Debouncer implements it.
type Refresher interface {
	Trigger()
}

// EventKind names a step of the mutation lifecycle.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventAcked      EventKind = "acked"
	EventSuperseded EventKind = "superseded"
	EventRolledBack EventKind = "rolled_back"
)

// Event is emitted to the observer after each lifecycle step.
type Event struct {
	Kind     EventKind
	EntityID string
	OpID     string
}

// Result is the outcome of one Run.
type Result struct {
	EntityID string
	OpID     string

	// Superseded is true when a newer edit replaced this one before the
	// remote call finished.
	Superseded bool

	// Err is nil on success, otherwise a *Error.
	Err error
}

// OK reports whether the mutation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Coordinator orchestrates optimistic edits against a PendingRegistry.
//
// Thread-safety: Run may be called concurrently for different or identical
// entities; ordering between them is resolved by opId matching in the
// registry, not by call order.
type Coordinator struct {
	pending  *registry.PendingRegistry
	clock    clock.Clock
	lock     time.Duration
	refresh  Refresher
	observer func(Event)
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLock sets how long a pending edit stays active. Default: 30s.
func WithLock(d time.Duration) Option {
	return func(c *Coordinator) {
		c.lock = d
	}
}

// WithRefresher sets the refresh trigger fired after each acknowledged write.
func WithRefresher(r Refresher) Option {
	return func(c *Coordinator) {
		c.refresh = r
	}
}

// WithObserver registers a callback for lifecycle events. It is called
// synchronously from Run and must not block.
func WithObserver(fn func(Event)) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock sets the clock used to time remote calls. Default: clock.System.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// New creates a Coordinator over the given registry.
func New(pending *registry.PendingRegistry, opts ...Option) *Coordinator {
	c := &Coordinator{
		pending: pending,
		clock:   clock.System{},
		lock:    DefaultLock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lock returns the configured pending lock duration.
func (c *Coordinator) Lock() time.Duration {
	return c.lock
}

// Run registers diff as a pending change on entityID, invokes call, and
// settles the pending change from the call's outcome.
func (c *Coordinator) Run(ctx context.Context, entityID string, diff model.Fields, call RemoteCall) Result {
	if entityID == "" {
		return Result{Err: NewInvalidMutation(entityID, "entity id is required")}
	}
	if len(diff) == 0 {
		return Result{EntityID: entityID, Err: NewInvalidMutation(entityID, "diff is empty")}
	}
	if call == nil {
		return Result{EntityID: entityID, Err: NewInvalidMutation(entityID, "remote call is nil")}
	}

	opID := c.pending.Add(entityID, diff, c.lock)
	c.emit(EventRegistered, entityID, opID)

	ctx, span := tracer.Start(ctx, "mutation.Run",
		trace.WithAttributes(
			attribute.String("optisync.entity_id", entityID),
			attribute.String("optisync.op_id", opID),
			attribute.Int("optisync.fields", len(diff)),
		),
	)
	defer span.End()

	started := c.clock.Now()
	err := invoke(ctx, call, opID)
	metrics.ObserveMutationLatency("update", c.clock.Now().Sub(started))

	if err == nil {
		if !c.pending.Ack(entityID, opID) {
			// A newer edit owns the record now; its own Run settles it.
			c.logger.Debug("ack ignored for superseded operation",
				"entity_id", entityID, "op_id", opID)
			c.emit(EventSuperseded, entityID, opID)
			metrics.RecordMutation("update", metrics.ResultSuperseded)
			span.SetAttributes(attribute.Bool("optisync.superseded", true))
			span.SetStatus(codes.Ok, "")
			c.triggerRefresh()
			return Result{EntityID: entityID, OpID: opID, Superseded: true}
		}
		c.emit(EventAcked, entityID, opID)
		metrics.RecordMutation("update", metrics.ResultAck)
		span.SetStatus(codes.Ok, "")
		c.triggerRefresh()
		return Result{EntityID: entityID, OpID: opID}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	superseded := false
	if rec, ok := c.pending.Get(entityID); ok && rec.OpID == opID {
		c.pending.Rollback(entityID)
		c.emit(EventRolledBack, entityID, opID)
		metrics.RecordMutation("update", metrics.ResultRollback)
	} else {
		superseded = true
		c.emit(EventSuperseded, entityID, opID)
		metrics.RecordMutation("update", metrics.ResultSuperseded)
	}

	c.logger.Warn("mutation failed",
		"entity_id", entityID, "op_id", opID, "superseded", superseded, "error", err)
	return Result{
		EntityID:   entityID,
		OpID:       opID,
		Superseded: superseded,
		Err:        NewNetworkFailure(entityID, opID, err),
	}
}

func (c *Coordinator) emit(kind EventKind, entityID, opID string) {
	if c.observer != nil {
		c.observer(Event{Kind: kind, EntityID: entityID, OpID: opID})
	}
}

func (c *Coordinator) triggerRefresh() {
	if c.refresh != nil {
		c.refresh.Trigger()
	}
}

// invoke runs call, converting a panic into an error.
func invoke(ctx context.Context, call RemoteCall, opID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before remote call: %w", err)
	}
	return call(ctx, opID)
}
