package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/optisync/internal/badgerstore"
	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/config"
	"github.com/roach88/optisync/internal/pgstore"
	"github.com/roach88/optisync/internal/store"
)

// openCache opens the backend cfg selects. The caller closes the cache.
func openCache(cfg config.Config, logger *slog.Logger) (*cache.Cache, error) {
	var (
		backend cache.Backend
		err     error
	)
	switch cfg.CacheBackend {
	case config.BackendMemory:
		backend = cache.NewMemory()
	case config.BackendSQLite:
		backend, err = store.Open(cfg.CachePath)
	case config.BackendBadger:
		bcfg := badgerstore.DefaultConfig(cfg.CachePath)
		bcfg.Logger = logger
		backend, err = badgerstore.Open(bcfg)
	case config.BackendPostgres:
		backend, err = pgstore.New(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.CacheBackend, err)
	}
	logger.Debug("cache opened", "backend", cfg.CacheBackend, "path", cfg.CachePath)
	return cache.New(backend, cache.WithLogger(logger)), nil
}

// scopeFor derives the cache scope of the configured identity.
func scopeFor(cfg config.Config) (cache.ScopeKey, error) {
	if cfg.UserID == "" {
		return "", fmt.Errorf("user_id is not configured")
	}
	return cache.ScopeFor(cfg.Identity())
}
