package mutation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/registry"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type countingRefresher struct{ n int }

func (r *countingRefresher) Trigger() { r.n++ }

type fixture struct {
	clk     *clock.Fake
	pending *registry.PendingRegistry
	refresh *countingRefresher
	events  []Event
	coord   *Coordinator
}

func newFixture(ids ...string) *fixture {
	f := &fixture{clk: clock.NewFake(t0), refresh: &countingRefresher{}}
	f.pending = registry.NewPendingRegistry(f.clk, clock.NewFixedGenerator(ids...))
	f.coord = New(f.pending,
		WithClock(f.clk),
		WithRefresher(f.refresh),
		WithObserver(func(e Event) { f.events = append(f.events, e) }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

func (f *fixture) kinds() []EventKind {
	out := make([]EventKind, len(f.events))
	for i, e := range f.events {
		out[i] = e.Kind
	}
	return out
}

var done = model.Fields{"status": model.String("done")}

func TestRun_SuccessAcksAndRefreshes(t *testing.T) {
	f := newFixture("op-1")

	var seenOp string
	res := f.coord.Run(context.Background(), "T1", done, func(_ context.Context, opID string) error {
		seenOp = opID
		assert.True(t, f.pending.IsActive("T1"), "pending is registered before the call")
		return nil
	})

	require.True(t, res.OK())
	assert.Equal(t, "op-1", res.OpID)
	assert.Equal(t, "op-1", seenOp)
	assert.False(t, f.pending.IsActive("T1"))
	assert.Equal(t, 1, f.refresh.n)
	assert.Equal(t, []EventKind{EventRegistered, EventAcked}, f.kinds())
}

func TestRun_FailureRollsBack(t *testing.T) {
	f := newFixture("op-1")
	cause := errors.New("connection reset")

	res := f.coord.Run(context.Background(), "T1", done, func(context.Context, string) error {
		return cause
	})

	require.False(t, res.OK())
	assert.True(t, IsNetworkFailure(res.Err))
	assert.ErrorIs(t, res.Err, cause)
	assert.Equal(t, 0, f.pending.Len())
	assert.Equal(t, 0, f.refresh.n)
	assert.Equal(t, []EventKind{EventRegistered, EventRolledBack}, f.kinds())

	var me *Error
	require.ErrorAs(t, res.Err, &me)
	assert.Equal(t, "op-1", me.OpID)
	assert.Equal(t, "T1", me.EntityID)
}

func TestRun_PanicBecomesNetworkFailure(t *testing.T) {
	f := newFixture("op-1")

	res := f.coord.Run(context.Background(), "T1", done, func(context.Context, string) error {
		panic("boom")
	})

	assert.True(t, IsNetworkFailure(res.Err))
	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, 0, f.pending.Len())
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture("op-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	res := f.coord.Run(ctx, "T1", done, func(context.Context, string) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.True(t, IsNetworkFailure(res.Err))
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, f.pending.Len())
}

func TestRun_LateAckOfSupersededEditIsIgnored(t *testing.T) {
	f := newFixture("op-1", "op-2")

	res := f.coord.Run(context.Background(), "T1", done, func(context.Context, string) error {
		f.pending.Add("T1", model.Fields{"status": model.String("archived")}, time.Minute)
		return nil
	})

	assert.True(t, res.OK())
	assert.True(t, res.Superseded)
	assert.True(t, f.pending.IsActive("T1"), "newer edit is left in place")
	assert.Equal(t, []EventKind{EventRegistered, EventSuperseded}, f.kinds())
	assert.Equal(t, 1, f.refresh.n)
}

func TestRun_FailureAfterSupersedeKeepsNewerEdit(t *testing.T) {
	clk := clock.NewFake(t0)
	pending := registry.NewPendingRegistry(clk, clock.NewFixedGenerator("op-1", "op-2"))
	coord := New(pending, WithClock(clk), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	res := coord.Run(context.Background(), "T1", done, func(context.Context, string) error {
		pending.Add("T1", model.Fields{"status": model.String("archived")}, time.Minute)
		return errors.New("timeout")
	})

	assert.True(t, IsNetworkFailure(res.Err))
	assert.True(t, res.Superseded)
	rec, ok := pending.Get("T1")
	require.True(t, ok)
	assert.Equal(t, "op-2", rec.OpID)
}

func TestRun_InvalidMutation(t *testing.T) {
	f := newFixture()
	noop := func(context.Context, string) error { return nil }

	tests := []struct {
		name string
		id   string
		diff model.Fields
		call RemoteCall
	}{
		{"empty id", "", done, noop},
		{"empty diff", "T1", nil, noop},
		{"nil call", "T1", done, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.coord.Run(context.Background(), tt.id, tt.diff, tt.call)
			assert.True(t, IsInvalidMutation(res.Err))
			assert.Equal(t, 0, f.pending.Len())
		})
	}
}

func TestError_Message(t *testing.T) {
	err := fmt.Errorf("update: %w", NewNetworkFailure("T1", "op-1", errors.New("503")))
	assert.Equal(t, "update: NETWORK_FAILURE: remote call failed (entity=T1): 503", err.Error())
	assert.False(t, IsInvalidMutation(err))
	assert.False(t, IsNetworkFailure(errors.New("plain")))
}
