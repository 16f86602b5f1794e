package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/metrics"
	"github.com/roach88/optisync/internal/model"
)

var (
	// ErrNotFound is returned for missing or expired keys.
	ErrNotFound = errors.New("cache: not found")

	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("cache: backend closed")
)

// Entry is the unit a Backend stores. A zero ExpiresAt never expires.
type Entry struct {
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the entry is expired at now.
func (e Entry) ExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Backend is the persistent store behind a Cache.
//
// Get returns ErrNotFound for a missing key. Keys and DeleteByPrefix match
// physical keys by plain string prefix; an empty prefix matches everything.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// ScopeKey namespaces cache keys for one identity and tenant.
type ScopeKey string

// ScopeFor derives the ScopeKey for an authenticated identity.
func ScopeFor(id model.Identity) (ScopeKey, error) {
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("derive scope: %w", err)
	}
	h, err := model.ScopeHash(id)
	if err != nil {
		return "", fmt.Errorf("derive scope: %w", err)
	}
	return ScopeKey(h), nil
}

func (s ScopeKey) validate() error {
	if s == "" || strings.Contains(string(s), "/") {
		return fmt.Errorf("invalid scope key %q", string(s))
	}
	return nil
}

func (s ScopeKey) prefix() string {
	return string(s) + "/"
}

func (s ScopeKey) physical(key string) string {
	return s.prefix() + key
}

// Failure wraps a backend error.
type Failure struct {
	Op  string
	Key string
	Err error
}

func (f *Failure) Error() string {
	if f.Key != "" {
		return fmt.Sprintf("cache %s %q: %v", f.Op, f.Key, f.Err)
	}
	return fmt.Sprintf("cache %s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsFailure returns true if err is a backend failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// Cache is a scoped TTL cache over a Backend.
//
// Thread-safety: safe for concurrent use if the Backend is.
type Cache struct {
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source for TTL evaluation. Default: clock.System.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates a Cache over backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		clock:   clock.System{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the underlying backend.
func (c *Cache) Backend() Backend {
	return c.backend
}

// Get returns the value for key in scope, or ErrNotFound if it is missing
// or expired. An expired entry is deleted; a failure to delete it is logged
// and otherwise ignored.
func (c *Cache) Get(ctx context.Context, scope ScopeKey, key string) ([]byte, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	pk := scope.physical(key)

	e, err := c.backend.Get(ctx, pk)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordCache("get", metrics.CacheMiss)
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RecordCache("get", metrics.CacheFailure)
		return nil, &Failure{Op: "get", Key: key, Err: err}
	}

	if e.ExpiredAt(c.clock.Now()) {
		metrics.RecordCache("get", metrics.CacheExpired)
		if err := c.backend.Delete(ctx, pk); err != nil && !errors.Is(err, ErrNotFound) {
			c.logger.Warn("purge expired cache entry", "key", key, "error", err)
		}
		return nil, ErrNotFound
	}

	metrics.RecordCache("get", metrics.CacheHit)
	return e.Value, nil
}

// Set stores value for key in scope. A non-positive ttl never expires.
func (c *Cache) Set(ctx context.Context, scope ScopeKey, key string, value []byte, ttl time.Duration) error {
	if err := scope.validate(); err != nil {
		return err
	}
	now := c.clock.Now()
	e := Entry{Value: value, StoredAt: now}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	if err := c.backend.Set(ctx, scope.physical(key), e); err != nil {
		metrics.RecordCache("set", metrics.CacheFailure)
		return &Failure{Op: "set", Key: key, Err: err}
	}
	metrics.RecordCache("set", metrics.CacheOK)
	return nil
}

// Delete removes key from scope. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, scope ScopeKey, key string) error {
	if err := scope.validate(); err != nil {
		return err
	}
	if err := c.backend.Delete(ctx, scope.physical(key)); err != nil && !errors.Is(err, ErrNotFound) {
		return &Failure{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// DeleteByPrefix removes every key in scope starting with prefix and
// returns how many were removed. An empty prefix clears the scope.
func (c *Cache) DeleteByPrefix(ctx context.Context, scope ScopeKey, prefix string) (int, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}
	n, err := c.backend.DeleteByPrefix(ctx, scope.physical(prefix))
	if err != nil {
		return n, &Failure{Op: "delete_prefix", Key: prefix, Err: err}
	}
	return n, nil
}

// Clear removes every entry in every scope.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return &Failure{Op: "clear", Err: err}
	}
	return nil
}

// Keys returns the logical keys in scope starting with prefix, sorted.
// Expired entries that have not been purged yet are included.
func (c *Cache) Keys(ctx context.Context, scope ScopeKey, prefix string) ([]string, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	physical, err := c.backend.Keys(ctx, scope.physical(prefix))
	if err != nil {
		return nil, &Failure{Op: "keys", Key: prefix, Err: err}
	}
	out := make([]string, 0, len(physical))
	for _, k := range physical {
		out = append(out, strings.TrimPrefix(k, scope.prefix()))
	}
	slices.Sort(out)
	return out, nil
}

// ExpirySweeper is implemented by backends that can delete the expired
// entries of every scope in one step.
type ExpirySweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Purge deletes every expired entry in scope and returns how many were
// removed.
func (c *Cache) Purge(ctx context.Context, scope ScopeKey) (int, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}
	return c.purgePrefix(ctx, scope.prefix(), c.clock.Now())
}

// PurgeAll deletes every expired entry in every scope and returns how many
// were removed.
func (c *Cache) PurgeAll(ctx context.Context) (int, error) {
	now := c.clock.Now()
	if sw, ok := c.backend.(ExpirySweeper); ok {
		n, err := sw.DeleteExpired(ctx, now)
		if err != nil {
			return n, &Failure{Op: "purge", Err: err}
		}
		return n, nil
	}
	return c.purgePrefix(ctx, "", now)
}

func (c *Cache) purgePrefix(ctx context.Context, prefix string, now time.Time) (int, error) {
	physical, err := c.backend.Keys(ctx, prefix)
	if err != nil {
		return 0, &Failure{Op: "purge", Err: err}
	}

	removed := 0
	for _, pk := range physical {
		e, err := c.backend.Get(ctx, pk)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, &Failure{Op: "purge", Key: pk, Err: err}
		}
		if !e.ExpiredAt(now) {
			continue
		}
		if err := c.backend.Delete(ctx, pk); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, &Failure{Op: "purge", Key: pk, Err: err}
		}
		removed++
	}
	return removed, nil
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, c *Cache, scope ScopeKey, key string) (T, error) {
	var out T
	data, err := c.Get(ctx, scope, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode cached %q: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c *Cache, scope ScopeKey, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached %q: %w", key, err)
	}
	return c.Set(ctx, scope, key, data, ttl)
}
