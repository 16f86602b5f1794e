package badgerstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/cache/cachetest"
)

func TestBackend_Conformance_InMemory(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Backend {
		b, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return b
	})
}

func TestBackend_Conformance_OnDisk(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Backend {
		cfg := DefaultConfig(filepath.Join(t.TempDir(), "badger"))
		cfg.SyncWrites = false
		cfg.GCInterval = 0
		b, err := Open(cfg)
		require.NoError(t, err)
		return b
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestBackend_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	ctx := context.Background()
	stored := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	b, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "s/k", cache.Entry{Value: []byte("v"), StoredAt: stored}))
	require.NoError(t, b.Close())

	b, err = Open(cfg)
	require.NoError(t, err)
	defer b.Close()

	e, err := b.Get(ctx, "s/k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), e.Value)
	assert.True(t, stored.Equal(e.StoredAt))
	assert.True(t, e.ExpiresAt.IsZero())
}

func TestDecodeEntry_Corrupt(t *testing.T) {
	_, err := decodeEntry([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBackend_CancelledContext(t *testing.T) {
	b, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
