package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Second, cfg.PendingLock)
	assert.Equal(t, 5*time.Second, cfg.TombstoneLock)
	assert.Equal(t, 10*time.Second, cfg.CreationLock)
	assert.Equal(t, 500*time.Millisecond, cfg.RefreshDebounce)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, BackendMemory, cfg.CacheBackend)
	assert.Equal(t, "tasks", cfg.Collection)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestParseOverrides(t *testing.T) {
	src := `
pending_lock: "45s"
tombstone_lock: "2s"
cache_backend: "sqlite"
cache_path: "/tmp/optisync.db"
user_id: "u1"
tenant_id: "acme"
log_level: "debug"
`
	cfg, err := Parse([]byte(src), "optisync.cue")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.PendingLock)
	assert.Equal(t, 2*time.Second, cfg.TombstoneLock)
	assert.Equal(t, 10*time.Second, cfg.CreationLock, "unset fields keep defaults")
	assert.Equal(t, BackendSQLite, cfg.CacheBackend)
	assert.Equal(t, "/tmp/optisync.db", cfg.CachePath)
	assert.Equal(t, model.Identity{UserID: "u1", TenantID: "acme"}, cfg.Identity())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown backend", `cache_backend: "redis"`},
		{"malformed duration", `pending_lock: "soon"`},
		{"zero duration", `tombstone_lock: "0s"`},
		{"sqlite without path", `cache_backend: "sqlite"`},
		{"badger without path", `cache_backend: "badger"`},
		{"postgres without dsn", `cache_backend: "postgres"`},
		{"wrong type", `pending_lock: 30`},
		{"bad level", `log_level: "trace"`},
		{"syntax error", `pending_lock: "30s`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "got %T: %v", err, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
		require.Error(t, err)
		assert.False(t, IsConfigError(err))
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "optisync.cue")
		require.NoError(t, os.WriteFile(path, []byte(`refresh_debounce: "250ms"`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, cfg.RefreshDebounce)
	})
}

func TestWatchReloadsValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optisync.cue")
	require.NoError(t, os.WriteFile(path, []byte(`pending_lock: "30s"`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, slog.New(slog.DiscardHandler), func(c Config) { got <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`pending_lock: "nonsense"`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`pending_lock: "1m"`), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if c.PendingLock == time.Minute {
				cancel()
				require.NoError(t, <-done)
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
