package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/remote"
)

func TestGated_PassesThroughWhenUnarmed(t *testing.T) {
	mem := remote.NewMemory(clock.NewFake(T0))
	mem.Seed("tasks", Versioned(Task("T1", "doing"), 1))
	g := NewGated(mem)

	out, err := g.UpdateEntity(context.Background(), "tasks", "T1", Status("done"), "op-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), *out.Version)
}

func TestGated_HoldsAfterServerApplies(t *testing.T) {
	mem := remote.NewMemory(clock.NewFake(T0))
	mem.Seed("tasks", Versioned(Task("T1", "doing"), 1))
	g := NewGated(mem)
	g.Hold(remote.OpUpdate)

	errc := make(chan error, 1)
	go func() {
		_, err := g.UpdateEntity(context.Background(), "tasks", "T1", Status("done"), "op-1")
		errc <- err
	}()

	assert.Equal(t, remote.OpUpdate, <-g.Entered())
	server, ok := mem.Get("tasks", "T1")
	require.True(t, ok)
	assert.Equal(t, Status("done"), server.Fields, "server applied the write before the response")

	g.Release(remote.OpUpdate, errors.New("connection reset"))
	assert.EqualError(t, <-errc, "connection reset")
}

func TestGated_HeldCallHonoursContext(t *testing.T) {
	g := NewGated(remote.NewMemory(clock.NewFake(T0)))
	g.Hold(remote.OpFetch)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.FetchCollection(ctx, remote.Filter{Collection: "tasks"})
		errc <- err
	}()

	<-g.Entered()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
