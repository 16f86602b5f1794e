package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_FIFO(t *testing.T) {
	n := newNotifier()
	var got []int64
	n.subscribe(func(s Snapshot) { got = append(got, s.Seq) })

	for i := int64(1); i <= 5; i++ {
		require.True(t, n.publish(Snapshot{Seq: i}))
	}
	assert.Equal(t, 5, n.flush())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
	assert.Equal(t, 0, n.flush(), "queue drained")
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := newNotifier()
	calls := 0
	cancel := n.subscribe(func(Snapshot) { calls++ })

	n.publish(Snapshot{Seq: 1})
	n.flush()
	cancel()
	n.publish(Snapshot{Seq: 2})
	n.flush()

	assert.Equal(t, 1, calls)
}

func TestNotifier_SubscribersInRegistrationOrder(t *testing.T) {
	n := newNotifier()
	var order []string
	n.subscribe(func(Snapshot) { order = append(order, "first") })
	n.subscribe(func(Snapshot) { order = append(order, "second") })

	n.publish(Snapshot{Seq: 1})
	n.flush()

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNotifier_ClosedRejectsPublish(t *testing.T) {
	n := newNotifier()
	n.publish(Snapshot{Seq: 1})
	n.close()
	n.close()

	assert.False(t, n.publish(Snapshot{Seq: 2}))
	assert.Equal(t, 1, n.flush(), "queued snapshots survive close")
}

func TestNotifier_RunStopsOnClose(t *testing.T) {
	n := newNotifier()
	got := make(chan int64, 4)
	n.subscribe(func(s Snapshot) { got <- s.Seq })

	done := make(chan error, 1)
	go func() { done <- n.run(context.Background()) }()

	n.publish(Snapshot{Seq: 1})
	select {
	case seq := <-got:
		assert.Equal(t, int64(1), seq)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not deliver")
	}

	n.close()
	assert.NoError(t, <-done)
}
