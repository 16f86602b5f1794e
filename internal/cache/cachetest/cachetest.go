// Package cachetest holds the conformance suite every cache.Backend must pass.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/cache"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) cache.Backend

var stamp = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// Run exercises the Backend contract against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		b := open(t, newBackend)
		_, err := b.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()
		in := cache.Entry{Value: []byte(`{"a":1}`), StoredAt: stamp, ExpiresAt: stamp.Add(time.Hour)}

		require.NoError(t, b.Set(ctx, "s/k", in))
		out, err := b.Get(ctx, "s/k")
		require.NoError(t, err)
		assert.Equal(t, in.Value, out.Value)
		assert.True(t, in.StoredAt.Equal(out.StoredAt), "stored_at %v != %v", in.StoredAt, out.StoredAt)
		assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt), "expires_at %v != %v", in.ExpiresAt, out.ExpiresAt)
	})

	t.Run("ZeroExpiryRoundTrips", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "s/k", cache.Entry{Value: []byte("v"), StoredAt: stamp}))
		out, err := b.Get(ctx, "s/k")
		require.NoError(t, err)
		assert.True(t, out.ExpiresAt.IsZero())
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "s/k", cache.Entry{Value: []byte("one"), StoredAt: stamp}))
		require.NoError(t, b.Set(ctx, "s/k", cache.Entry{Value: []byte("two"), StoredAt: stamp}))
		out, err := b.Get(ctx, "s/k")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), out.Value)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "s/k", cache.Entry{Value: []byte("v"), StoredAt: stamp}))
		require.NoError(t, b.Delete(ctx, "s/k"))
		_, err := b.Get(ctx, "s/k")
		assert.ErrorIs(t, err, cache.ErrNotFound)
		assert.NoError(t, b.Delete(ctx, "s/k"))
	})

	t.Run("PrefixOperations", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()
		for _, k := range []string{"a/tasks", "a/tasks:archived", "a/projects", "b/tasks", "a_x/tasks"} {
			require.NoError(t, b.Set(ctx, k, cache.Entry{Value: []byte(k), StoredAt: stamp}))
		}

		keys, err := b.Keys(ctx, "a/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a/tasks", "a/tasks:archived", "a/projects"}, keys)

		n, err := b.DeleteByPrefix(ctx, "a/tasks")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		keys, err = b.Keys(ctx, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a/projects", "b/tasks", "a_x/tasks"}, keys)
	})

	t.Run("Clear", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "a/1", cache.Entry{Value: []byte("v"), StoredAt: stamp}))
		require.NoError(t, b.Set(ctx, "b/1", cache.Entry{Value: []byte("v"), StoredAt: stamp}))

		require.NoError(t, b.Clear(ctx))
		keys, err := b.Keys(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func open(t *testing.T, newBackend Factory) cache.Backend {
	t.Helper()
	b := newBackend(t)
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}
