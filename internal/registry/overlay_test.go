package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/optisync/internal/clock"
)

func TestDeletionOverlay_MarkAndLapse(t *testing.T) {
	clk := clock.NewFake(t0)
	o := NewDeletionOverlay(clk)

	assert.True(t, o.Mark("T2", 5*time.Second))
	assert.True(t, o.IsActive("T2"))
	assert.True(t, o.ActiveAt("T2", t0.Add(4999*time.Millisecond)))
	assert.False(t, o.ActiveAt("T2", t0.Add(5*time.Second)))

	clk.Advance(5 * time.Second)
	assert.False(t, o.IsActive("T2"))
}

func TestDeletionOverlay_MarkNeverExtends(t *testing.T) {
	clk := clock.NewFake(t0)
	o := NewDeletionOverlay(clk)

	o.Mark("T2", 5*time.Second)
	clk.Advance(2 * time.Second)
	assert.False(t, o.Mark("T2", 5*time.Second))

	ts, ok := o.Get("T2")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Second), ts.LockUntil)

	clk.Advance(3 * time.Second)
	assert.True(t, o.Mark("T2", 5*time.Second), "lapsed tombstone can be replaced")
}

func TestDeletionOverlay_Lift(t *testing.T) {
	o := NewDeletionOverlay(clock.NewFake(t0))

	o.Mark("T2", 5*time.Second)
	assert.True(t, o.Lift("T2"))
	assert.False(t, o.IsActive("T2"))
	assert.False(t, o.Lift("T2"))
}

func TestDeletionOverlay_Sweep(t *testing.T) {
	clk := clock.NewFake(t0)
	o := NewDeletionOverlay(clk)

	o.Mark("a", time.Second)
	o.Mark("b", time.Minute)
	clk.Advance(time.Second)

	assert.Equal(t, 1, o.Sweep())
	assert.Equal(t, 1, o.Len())
}
