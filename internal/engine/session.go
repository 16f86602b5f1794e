package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/metrics"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/mutation"
	"github.com/roach88/optisync/internal/reconcile"
	"github.com/roach88/optisync/internal/registry"
	"github.com/roach88/optisync/internal/remote"
	"github.com/roach88/optisync/internal/schedule"
)

var tracer = otel.Tracer("optisync.engine")

// ChangeReason says why a Snapshot was published.
type ChangeReason string

const (
	ReasonWarmStart ChangeReason = "warm_start"
	ReasonRefresh   ChangeReason = "refresh"
	ReasonIngest    ChangeReason = "ingest"
	ReasonPending   ChangeReason = "pending"
	ReasonEcho      ChangeReason = "echo"
	ReasonAck       ChangeReason = "ack"
	ReasonRollback  ChangeReason = "rollback"
	ReasonCreate    ChangeReason = "create"
	ReasonDelete    ChangeReason = "delete"
	ReasonIdentity  ChangeReason = "identity"
)

// persists reports whether a snapshot with this reason is written to the
// cache. A warm start re-reads what is already stored, an identity switch
// publishes an empty collection for a scope that may still have a valid
// entry, and pending/ack only move the overlay.
func (r ChangeReason) persists() bool {
	switch r {
	case ReasonWarmStart, ReasonIdentity, ReasonPending, ReasonAck:
		return false
	}
	return true
}

// Snapshot is published after every change to the canonical collection or
// the pending overlay.
type Snapshot struct {
	// Seq increases by one per snapshot within a session.
	Seq int64

	Reason ChangeReason

	// Scope is the cache scope the collection belongs to.
	Scope cache.ScopeKey

	// Canonical holds server-confirmed values only.
	Canonical model.Collection

	// View is Canonical with active pending diffs applied, sorted by id.
	View []model.Entity
}

// Session owns one collection for one identity.
//
// Thread-safety: all methods are safe for concurrent use.
type Session struct {
	remote     remote.Remote
	collection string
	where      map[string]string

	cache  *cache.Cache
	clock  clock.Clock
	ids    clock.OpIDGenerator
	logger *slog.Logger

	pendingLock    time.Duration
	tombstoneLock  time.Duration
	creationLock   time.Duration
	debounceWindow time.Duration
	cacheTTL       time.Duration

	store    *registry.Store
	coord    *mutation.Coordinator
	debounce *schedule.Debouncer
	notify   *notifier
	persist  *persister
	seq      *clock.Seq
	group    singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	canonical model.Collection
	identity  model.Identity
	scope     cache.ScopeKey
	gen       uint64
	closed    bool
}

// New creates a Session for collection on r.
func New(r remote.Remote, collection string, opts ...Option) (*Session, error) {
	if r == nil {
		return nil, errors.New("engine: remote is required")
	}
	if collection == "" {
		return nil, errors.New("engine: collection is required")
	}

	s := &Session{
		remote:         r,
		collection:     collection,
		clock:          clock.System{},
		ids:            clock.UUIDv7Generator{},
		logger:         slog.Default(),
		pendingLock:    mutation.DefaultLock,
		tombstoneLock:  DefaultTombstoneLock,
		creationLock:   DefaultCreationLock,
		debounceWindow: schedule.DefaultDebounce,
		cacheTTL:       DefaultCacheTTL,
		notify:         newNotifier(),
		seq:            clock.NewSeq(),
		canonical:      model.Collection{},
	}
	for _, opt := range opts {
		opt(s)
	}

	// Without a cache or an identity there is nothing to scope.
	if s.cache != nil || s.identity != (model.Identity{}) {
		scope, err := cache.ScopeFor(s.identity)
		if err != nil {
			return nil, &SessionError{Code: ErrCodeInvalidIdentity, Message: "cannot scope cache", Err: err}
		}
		s.scope = scope
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.store = registry.NewStore(s.clock, s.ids)
	s.debounce = schedule.NewDebouncer(schedule.New(s.clock), s.debounceWindow, s.backgroundRefresh)
	s.coord = mutation.New(s.store.Pending,
		mutation.WithLock(s.pendingLock),
		mutation.WithRefresher(s.debounce),
		mutation.WithObserver(s.onMutationEvent),
		mutation.WithLogger(s.logger),
		mutation.WithClock(s.clock),
	)
	if s.cache != nil {
		s.persist = newPersister(s.cache, collection, s.cacheTTL, s.logger)
		s.notify.subscribe(s.persist.save)
	}
	return s, nil
}

// Collection returns the collection name.
func (s *Session) Collection() string {
	return s.collection
}

// Store returns the session's registries.
func (s *Session) Store() *registry.Store {
	return s.store
}

// Scope returns the current cache scope.
func (s *Session) Scope() cache.ScopeKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Identity returns the current identity.
func (s *Session) Identity() model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Canonical returns a copy of the server-confirmed collection.
func (s *Session) Canonical() model.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canonical.Clone()
}

// View returns the entities sorted by id with every active pending diff
// applied.
func (s *Session) View() []model.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reconcile.ApplyPending(s.canonical, s.store.Pending.Active())
}

// Get returns one entity as View shows it.
func (s *Session) Get(id string) (model.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.canonical[id]
	if !ok {
		return model.Entity{}, false
	}
	if p, ok := s.store.Pending.Get(id); ok && p.ActiveAt(s.clock.Now()) {
		return e.WithFields(p.Fields), true
	}
	return e.Clone(), true
}

// Subscribe registers fn for snapshots and returns a function that removes
// it. Snapshots are delivered by Run or Flush.
func (s *Session) Subscribe(fn Subscriber) func() {
	return s.notify.subscribe(fn)
}

// Flush delivers every queued snapshot on the calling goroutine and returns
// how many were delivered.
func (s *Session) Flush() int {
	return s.notify.flush()
}

// Run delivers snapshots as they are published until ctx is done or the
// session is closed.
func (s *Session) Run(ctx context.Context) error {
	err := s.notify.run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start warm-starts from the cache and then refreshes from the remote:
// cached data is visible before the fetch returns. A refresh failure is
// returned; the warm-started data stays in place.
func (s *Session) Start(ctx context.Context) error {
	if _, err := s.WarmStart(ctx); err != nil {
		return err
	}
	_, err := s.Refresh(ctx)
	return err
}

// WarmStart loads the cached collection for the current scope and merges
// it. It reports whether a cached collection was found. Cache failures are
// logged and reported as a miss.
func (s *Session) WarmStart(ctx context.Context) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	if s.cache == nil {
		return false, nil
	}
	scope, gen := s.current()

	cached, err := cache.GetJSON[model.Collection](ctx, s.cache, scope, CacheKey(s.collection))
	if errors.Is(err, cache.ErrNotFound) {
		s.logger.Debug("warm start cache miss", "collection", s.collection)
		return false, nil
	}
	if err != nil {
		s.logger.Warn("warm start skipped", "collection", s.collection, "error", err)
		return false, nil
	}

	report, err := s.merge(cached.Sorted(), ReasonWarmStart, gen)
	if err != nil {
		return false, err
	}
	s.logger.Info("warm start",
		"collection", s.collection, "entities", len(cached), "accepted", len(report.Accepted))
	return true, nil
}

// Refresh fetches the collection and merges it. Concurrent calls for the
// same identity share one fetch.
func (s *Session) Refresh(ctx context.Context) (reconcile.MergeReport, error) {
	if s.isClosed() {
		return reconcile.MergeReport{}, ErrClosed
	}
	scope, gen := s.current()

	key := fmt.Sprintf("%s#%d", scope, gen)
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.refresh(ctx, gen)
	})
	if shared {
		metrics.RecordRefresh("shared")
	}
	report, _ := v.(reconcile.MergeReport)
	return report, err
}

func (s *Session) refresh(ctx context.Context, gen uint64) (reconcile.MergeReport, error) {
	ctx, span := tracer.Start(ctx, "engine.Refresh",
		trace.WithAttributes(attribute.String("optisync.collection", s.collection)),
	)
	defer span.End()

	batch, err := s.remote.FetchCollection(ctx, remote.Filter{Collection: s.collection, Where: s.where})
	if err != nil {
		metrics.RecordRefresh("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reconcile.MergeReport{}, &SessionError{
			Code:    ErrCodeFetchFailed,
			Message: fmt.Sprintf("fetch %s", s.collection),
			Err:     err,
		}
	}

	report, err := s.merge(batch, ReasonRefresh, gen)
	if err != nil {
		metrics.RecordRefresh("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reconcile.MergeReport{}, err
	}

	metrics.RecordRefresh("ok")
	span.SetAttributes(
		attribute.Int("optisync.fetched", len(batch)),
		attribute.Int("optisync.rejected", len(report.Rejected)),
	)
	span.SetStatus(codes.Ok, "")
	s.logger.Info("refresh complete",
		"collection", s.collection,
		"fetched", len(batch),
		"accepted", len(report.Accepted),
		"rejected", len(report.Rejected),
		"suppressed", len(report.Suppressed),
		"changed", report.Changed,
	)
	return report, nil
}

// backgroundRefresh is the debouncer's callback.
func (s *Session) backgroundRefresh() {
	if _, err := s.Refresh(s.ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("background refresh failed", "collection", s.collection, "error", err)
	}
}

// Ingest merges a batch pushed from outside the session, such as a
// realtime subscription.
func (s *Session) Ingest(batch []model.Entity) (reconcile.MergeReport, error) {
	_, gen := s.current()
	return s.merge(batch, ReasonIngest, gen)
}

// merge folds batch into the canonical collection if the identity is still
// the one the batch was fetched for, then publishes a snapshot and sweeps
// lapsed registry records.
func (s *Session) merge(batch []model.Entity, reason ChangeReason, gen uint64) (reconcile.MergeReport, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return reconcile.MergeReport{}, ErrClosed
	}
	if gen != s.gen {
		s.mu.Unlock()
		return reconcile.MergeReport{}, &SessionError{
			Code:    ErrCodeStaleIdentity,
			Message: "identity changed while the batch was in flight; batch discarded",
		}
	}

	started := s.clock.Now()
	next, report := reconcile.Merge(s.canonical, batch, reconcile.GatesFrom(s.store), started)
	s.canonical = next
	s.publishLocked(reason)
	s.mu.Unlock()

	metrics.ObserveMerge(len(batch), s.clock.Now().Sub(started))
	s.record(report)
	s.sweep()
	return report, nil
}

func (s *Session) record(report reconcile.MergeReport) {
	for _, o := range report.Accepted {
		metrics.RecordGuardDecision(true, string(o.Reason))
	}
	for _, o := range report.Rejected {
		metrics.RecordGuardDecision(false, string(o.Reason))
		s.logger.Debug("incoming value rejected",
			"collection", s.collection, "entity_id", o.ID, "reason", o.Reason, "field", o.Field)
	}
	for _, o := range report.Suppressed {
		metrics.RecordSuppressed(string(o.Reason))
	}
	for _, o := range report.Regressions() {
		s.logger.Warn("server value regressed",
			"collection", s.collection, "entity_id", o.ID, "field", o.Field)
	}
}

func (s *Session) sweep() {
	stats := s.store.Sweep()
	if stats.Total() == 0 {
		return
	}
	metrics.RecordSwept("pending", stats.Pending)
	metrics.RecordSwept("tombstones", stats.Tombstones)
	metrics.RecordSwept("creations", stats.Creations)
	s.logger.Debug("registry sweep",
		"pending", stats.Pending, "tombstones", stats.Tombstones, "creations", stats.Creations)
}

// SwitchIdentity drops all in-memory state, rescopes the cache and warm
// starts from the new scope. Fetches still in flight for the old identity
// are discarded when they return.
func (s *Session) SwitchIdentity(ctx context.Context, id model.Identity) error {
	scope, err := cache.ScopeFor(id)
	if err != nil {
		return &SessionError{Code: ErrCodeInvalidIdentity, Message: "cannot scope cache", Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	s.identity = id
	s.scope = scope
	s.canonical = model.Collection{}
	s.store.Reset()
	s.publishLocked(ReasonIdentity)
	s.mu.Unlock()

	s.logger.Info("identity switched", "collection", s.collection, "scope", scope)
	_, err = s.WarmStart(ctx)
	return err
}

// Close stops background refreshes, delivers queued snapshots and closes
// the cache. It returns the last persistence failure, if any, combined with
// the cache's close error.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.debounce.Stop()
	s.notify.close()
	s.notify.flush()

	var err error
	if s.persist != nil {
		err = multierr.Append(err, s.persist.err())
	}
	if s.cache != nil {
		err = multierr.Append(err, s.cache.Close())
	}
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) current() (cache.ScopeKey, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope, s.gen
}

// publishLocked queues a snapshot of the current state. Callers hold s.mu,
// which keeps sequence numbers in publication order.
func (s *Session) publishLocked(reason ChangeReason) {
	s.notify.publish(Snapshot{
		Seq:       s.seq.Next(),
		Reason:    reason,
		Scope:     s.scope,
		Canonical: s.canonical.Clone(),
		View:      reconcile.ApplyPending(s.canonical, s.store.Pending.Active()),
	})
}
