package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/cache/cachetest"
	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestMemory_Conformance(t *testing.T) {
	cachetest.Run(t, func(*testing.T) cache.Backend { return cache.NewMemory() })
}

func newCache(t *testing.T) (*cache.Cache, *cache.Memory, *clock.Fake, cache.ScopeKey) {
	t.Helper()
	clk := clock.NewFake(t0)
	mem := cache.NewMemory()
	scope, err := cache.ScopeFor(model.Identity{UserID: "u1", TenantID: "acme"})
	require.NoError(t, err)
	return cache.New(mem, cache.WithClock(clk)), mem, clk, scope
}

func TestScopeFor_RequiresUser(t *testing.T) {
	_, err := cache.ScopeFor(model.Identity{})
	assert.Error(t, err)

	_, err = cache.ScopeFor(model.Identity{UserID: "  ", TenantID: "acme"})
	assert.Error(t, err)
}

func TestCache_TTLIsLazyAndPurgesOnRead(t *testing.T) {
	c, mem, clk, scope := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, scope, "tasks", []byte("v1"), time.Minute))
	got, err := c.Get(ctx, scope, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	clk.Advance(time.Minute)
	keys, _ := mem.Keys(ctx, "")
	assert.Len(t, keys, 1, "expiry is not eager")

	_, err = c.Get(ctx, scope, "tasks")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	keys, _ = mem.Keys(ctx, "")
	assert.Empty(t, keys, "expired entry is purged on read")
}

func TestCache_NoTTLNeverExpires(t *testing.T) {
	c, _, clk, scope := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, scope, "k", []byte("v"), 0))
	clk.Advance(24 * 365 * time.Hour)
	_, err := c.Get(ctx, scope, "k")
	assert.NoError(t, err)
}

func TestCache_ScopesAreIsolated(t *testing.T) {
	c, _, _, scope := newCache(t)
	other, err := cache.ScopeFor(model.Identity{UserID: "u1", TenantID: "globex"})
	require.NoError(t, err)
	require.NotEqual(t, scope, other)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, scope, "tasks", []byte("acme"), time.Hour))
	_, err = c.Get(ctx, other, "tasks")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	n, err := c.DeleteByPrefix(ctx, other, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	keys, err := c.Keys(ctx, scope, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, keys)
}

func TestCache_DeleteByPrefixAndPurge(t *testing.T) {
	c, _, clk, scope := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, scope, "collection:tasks", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, scope, "collection:projects", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, scope, "prefs", []byte("3"), 0))

	clk.Advance(2 * time.Minute)
	n, err := c.Purge(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.DeleteByPrefix(ctx, scope, "collection:")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := c.Keys(ctx, scope, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"prefs"}, keys)
}

func TestCache_PurgeAllSpansScopes(t *testing.T) {
	c, mem, clk, scope := newCache(t)
	other, err := cache.ScopeFor(model.Identity{UserID: "u2", TenantID: "acme"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, scope, "tasks", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, other, "tasks", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, other, "prefs", []byte("3"), 0))

	clk.Advance(time.Minute)
	n, err := c.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, _ := mem.Keys(ctx, "")
	assert.Len(t, keys, 1)
}

func TestCache_InvalidScope(t *testing.T) {
	c, _, _, _ := newCache(t)
	_, err := c.Get(context.Background(), "", "k")
	assert.Error(t, err)
	assert.Error(t, c.Set(context.Background(), "a/b", "k", nil, 0))
}

type failingBackend struct{ cache.Backend }

var errDisk = errors.New("disk full")

func (failingBackend) Get(context.Context, string) (cache.Entry, error) { return cache.Entry{}, errDisk }
func (failingBackend) Set(context.Context, string, cache.Entry) error   { return errDisk }

func TestCache_BackendErrorsAreFailures(t *testing.T) {
	c := cache.New(failingBackend{Backend: cache.NewMemory()})
	scope := cache.ScopeKey("s")
	ctx := context.Background()

	_, err := c.Get(ctx, scope, "k")
	assert.True(t, cache.IsFailure(err))
	assert.ErrorIs(t, err, errDisk)

	err = c.Set(ctx, scope, "k", []byte("v"), time.Minute)
	assert.True(t, cache.IsFailure(err))
	assert.False(t, cache.IsFailure(cache.ErrNotFound))
}

func TestCache_JSONHelpers(t *testing.T) {
	c, _, _, scope := newCache(t)
	ctx := context.Background()
	want := model.NewCollection(model.Entity{ID: "T1", Fields: model.Fields{"status": model.String("done")}})

	require.NoError(t, cache.SetJSON(ctx, c, scope, "collection:tasks", want, time.Hour))
	got, err := cache.GetJSON[model.Collection](ctx, c, scope, "collection:tasks")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = cache.GetJSON[model.Collection](ctx, c, scope, "missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}
