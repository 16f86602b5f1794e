package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestMemory_UpdateStampsAndEchoes(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewMemory(clk)
	m.Seed("tasks", model.Entity{ID: "T1", Fields: model.Fields{"status": model.String("doing")}, Version: model.VersionPtr(3)})

	clk.Advance(time.Second)
	e, err := m.UpdateEntity(context.Background(), "tasks", "T1", model.Fields{"status": model.String("done")}, "op-1")
	require.NoError(t, err)

	assert.Equal(t, int64(4), *e.Version)
	assert.Equal(t, t0.Add(time.Second), e.UpdatedAt)
	assert.Equal(t, "op-1", e.OpID)
	assert.Equal(t, model.String("done"), e.Fields["status"])

	stored, ok := m.Get("tasks", "T1")
	require.True(t, ok)
	assert.True(t, stored.Equal(e))
}

func TestMemory_CreateAssignsIDs(t *testing.T) {
	m := NewMemory(clock.NewFake(t0))
	m.SetNextID(123)

	e, err := m.CreateEntity(context.Background(), "tasks", model.Fields{"title": model.String("new")}, "op-9")
	require.NoError(t, err)
	assert.Equal(t, "T000123", e.ID)
	assert.Equal(t, int64(1), *e.Version)

	list, err := m.FetchCollection(context.Background(), Filter{Collection: "tasks"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemory_DeleteAndNotFound(t *testing.T) {
	m := NewMemory(clock.NewFake(t0))
	m.Seed("tasks", model.Entity{ID: "T2"})
	ctx := context.Background()

	require.NoError(t, m.DeleteEntity(ctx, "tasks", "T2", "op-1"))
	assert.ErrorIs(t, m.DeleteEntity(ctx, "tasks", "T2", "op-2"), ErrNotFound)

	_, err := m.UpdateEntity(ctx, "tasks", "T2", model.Fields{"a": model.Int(1)}, "op-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_FailNext(t *testing.T) {
	m := NewMemory(clock.NewFake(t0))
	m.Seed("tasks", model.Entity{ID: "T1"})
	boom := errors.New("503")
	m.FailNext(OpUpdate, boom)

	_, err := m.UpdateEntity(context.Background(), "tasks", "T1", model.Fields{"a": model.Int(1)}, "op-1")
	assert.ErrorIs(t, err, boom)

	_, err = m.UpdateEntity(context.Background(), "tasks", "T1", model.Fields{"a": model.Int(1)}, "op-2")
	assert.NoError(t, err)
	assert.Equal(t, 2, m.Calls(OpUpdate))
}

func TestMemory_FetchFilter(t *testing.T) {
	m := NewMemory(clock.NewFake(t0))
	m.Seed("tasks",
		model.Entity{ID: "b", Fields: model.Fields{"project": model.String("p1")}},
		model.Entity{ID: "a", Fields: model.Fields{"project": model.String("p1")}},
		model.Entity{ID: "c", Fields: model.Fields{"project": model.String("p2")}},
	)

	list, err := m.FetchCollection(context.Background(), Filter{Collection: "tasks", Where: map[string]string{"project": "p1"}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}
