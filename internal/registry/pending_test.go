package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newPending(ids ...string) (*PendingRegistry, *clock.Fake) {
	clk := clock.NewFake(t0)
	return NewPendingRegistry(clk, clock.NewFixedGenerator(ids...)), clk
}

func TestPendingRegistry_AddReturnsOpID(t *testing.T) {
	r, _ := newPending("op-1")

	opID := r.Add("T1", model.Fields{"status": model.String("done")}, 30*time.Second)
	assert.Equal(t, "op-1", opID)

	rec, ok := r.Get("T1")
	require.True(t, ok)
	assert.Equal(t, "op-1", rec.OpID)
	assert.Equal(t, t0, rec.StartedAt)
	assert.Equal(t, t0.Add(30*time.Second), rec.LockUntil)
	assert.Equal(t, model.String("done"), rec.Fields["status"])
}

func TestPendingRegistry_AtMostOnePerEntity(t *testing.T) {
	r, _ := newPending("op-1", "op-2")

	r.Add("T1", model.Fields{"status": model.String("doing")}, 30*time.Second)
	second := r.Add("T1", model.Fields{"title": model.String("x")}, 30*time.Second)

	assert.Equal(t, 1, r.Len())
	rec, ok := r.Get("T1")
	require.True(t, ok)
	assert.Equal(t, second, rec.OpID)
	_, hasStatus := rec.Fields["status"]
	assert.False(t, hasStatus, "edits replace, they do not stack")
}

func TestPendingRegistry_AckRequiresMatchingOpID(t *testing.T) {
	r, _ := newPending("op-1", "op-2")

	first := r.Add("T1", model.Fields{"status": model.String("doing")}, 30*time.Second)
	second := r.Add("T1", model.Fields{"status": model.String("done")}, 30*time.Second)

	assert.False(t, r.Ack("T1", first), "superseded op cannot ack")
	assert.True(t, r.IsActive("T1"))

	assert.True(t, r.Ack("T1", second))
	_, ok := r.Get("T1")
	assert.False(t, ok)
	assert.False(t, r.Ack("T1", second), "second ack is a no-op")
}

func TestPendingRegistry_Rollback(t *testing.T) {
	r, _ := newPending("op-1")

	r.Add("T1", model.Fields{"status": model.String("done")}, 30*time.Second)
	assert.True(t, r.Rollback("T1"))
	assert.False(t, r.IsActive("T1"))
	assert.False(t, r.Rollback("T1"))
}

func TestPendingRegistry_SoftExpiry(t *testing.T) {
	r, clk := newPending("op-1")

	r.Add("T3", model.Fields{"status": model.String("done")}, 3*time.Second)
	assert.True(t, r.IsActive("T3"))

	clk.Advance(3 * time.Second)
	assert.False(t, r.IsActive("T3"), "inactive once now >= lockUntil")

	_, ok := r.Get("T3")
	assert.True(t, ok, "lapsed record is still readable")
	assert.Empty(t, r.Active())
}

func TestPendingRegistry_NonPositiveDuration(t *testing.T) {
	r, _ := newPending("op-1")

	r.Add("T1", model.Fields{"status": model.String("done")}, -time.Second)
	assert.False(t, r.IsActive("T1"))
}

func TestPendingRegistry_GetReturnsCopy(t *testing.T) {
	r, _ := newPending("op-1")
	diff := model.Fields{"status": model.String("done")}
	r.Add("T1", diff, time.Minute)

	diff["status"] = model.String("mutated")
	rec, _ := r.Get("T1")
	rec.Fields["status"] = model.String("mutated again")

	again, _ := r.Get("T1")
	assert.Equal(t, model.String("done"), again.Fields["status"])
}

func TestPendingRegistry_Sweep(t *testing.T) {
	r, clk := newPending("op-1", "op-2")

	r.Add("T1", model.Fields{"a": model.Int(1)}, time.Second)
	r.Add("T2", model.Fields{"a": model.Int(2)}, time.Minute)

	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.IsActive("T2"))
}
