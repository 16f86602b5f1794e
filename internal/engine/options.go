package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

// Default lock windows and cache lifetime.
const (
	DefaultTombstoneLock = 5 * time.Second
	DefaultCreationLock  = 10 * time.Second
	DefaultCacheTTL      = 24 * time.Hour
)

// Option configures a Session.
type Option func(*Session)

// WithCache enables warm start and persistence. The session takes ownership
// of c and closes it in Close.
func WithCache(c *cache.Cache) Option {
	return func(s *Session) {
		s.cache = c
	}
}

// WithCacheTTL sets how long a persisted collection stays valid.
// Default: 24h.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Session) {
		s.cacheTTL = d
	}
}

// WithClock sets the time source for locks, timers and the cache.
// Default: clock.System.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) {
		s.clock = clk
	}
}

// WithOpIDs sets the operation id generator. Default: UUIDv7.
func WithOpIDs(g clock.OpIDGenerator) Option {
	return func(s *Session) {
		s.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithLocks sets the pending, tombstone and creation lock windows.
// Non-positive values keep the defaults.
func WithLocks(pending, tombstone, creation time.Duration) Option {
	return func(s *Session) {
		if pending > 0 {
			s.pendingLock = pending
		}
		if tombstone > 0 {
			s.tombstoneLock = tombstone
		}
		if creation > 0 {
			s.creationLock = creation
		}
	}
}

// WithRefreshDebounce sets the window coalescing post-write refreshes.
// Default: 500ms.
func WithRefreshDebounce(d time.Duration) Option {
	return func(s *Session) {
		s.debounceWindow = d
	}
}

// WithIdentity sets the identity the cache is scoped to.
func WithIdentity(id model.Identity) Option {
	return func(s *Session) {
		s.identity = id
	}
}

// WithWhere restricts fetches to entities whose string fields match.
func WithWhere(where map[string]string) Option {
	return func(s *Session) {
		s.where = where
	}
}
