package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/cache/cachetest"
	"github.com/roach88/optisync/internal/clock"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Backend {
		s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
		require.NoError(t, err)
		return s
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "s/k", cache.Entry{Value: []byte("v"), StoredAt: time.Now()}))
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	e, err := s.Get(ctx, "s/k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), e.Value)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestMigration_ExpiresIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
		"idx_cache_entries_expires_at",
	).Scan(&name)
	assert.NoError(t, err)
}

func TestDeleteExpired(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Set(ctx, "a/old", cache.Entry{Value: []byte("1"), StoredAt: now, ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, s.Set(ctx, "b/edge", cache.Entry{Value: []byte("2"), StoredAt: now, ExpiresAt: now}))
	require.NoError(t, s.Set(ctx, "a/fresh", cache.Entry{Value: []byte("3"), StoredAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.Set(ctx, "a/forever", cache.Entry{Value: []byte("4"), StoredAt: now}))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/forever", "a/fresh"}, keys)
}

func TestStore_PurgeAllUsesDeleteExpired(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := createTestStore(t)
	c := cache.New(s, cache.WithClock(clk))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "alice", "collection/tasks", []byte(`[]`), time.Minute))
	require.NoError(t, c.Set(ctx, "bob", "collection/tasks", []byte(`[]`), time.Hour))
	require.NoError(t, c.Set(ctx, "bob", "prefs", []byte(`{}`), 0))

	clk.Advance(time.Minute)
	n, err := c.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestStore_WithCache(t *testing.T) {
	c := cache.New(createTestStore(t))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "scope", "collection:tasks", []byte(`[]`), time.Hour))
	got, err := c.Get(ctx, "scope", "collection:tasks")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), got)
}
