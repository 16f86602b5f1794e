package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/model"
)

// persistTimeout bounds one cache write.
const persistTimeout = 5 * time.Second

// CacheKey is the logical cache key holding a collection's canonical
// entities.
func CacheKey(collection string) string {
	return "collection/" + collection
}

// persister writes canonical snapshots to the durable cache. Failures are
// logged and remembered; the session keeps running network-only.
type persister struct {
	cache  *cache.Cache
	key    string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	lastErr error
}

func newPersister(c *cache.Cache, collection string, ttl time.Duration, logger *slog.Logger) *persister {
	return &persister{cache: c, key: CacheKey(collection), ttl: ttl, logger: logger}
}

// save is a Subscriber.
func (p *persister) save(s Snapshot) {
	if !s.Reason.persists() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	canonical := durable(s.Canonical)
	err := cache.SetJSON(ctx, p.cache, s.Scope, p.key, canonical, p.ttl)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.logger.Warn("persist snapshot failed",
			"seq", s.Seq, "reason", s.Reason, "entities", len(canonical), "error", err)
	}
}

// durable drops entities whose creation has not resolved. A temp id
// restored by a later warm start would have no creation lock and would
// never be replaced by the server row.
func durable(c model.Collection) model.Collection {
	out := make(model.Collection, len(c))
	for id, e := range c {
		if strings.HasPrefix(id, TempIDPrefix) {
			continue
		}
		out[id] = e
	}
	return out
}

// err returns the outcome of the latest write.
func (p *persister) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
