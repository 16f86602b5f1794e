package engine

import (
	"context"
	"slices"
	"sync"
)

// Subscriber receives snapshots in the order they were published. It runs
// on the delivering goroutine and must not call back into Flush or Run.
type Subscriber func(Snapshot)

// notifier is a FIFO queue of snapshots fanned out to subscribers.
//
// The queue is unbounded so publishing never blocks a merge or a mutation.
// Publishing is safe from any goroutine; delivery happens either in the Run
// loop or in an explicit Flush, serialized by deliverMu so subscribers see
// snapshots strictly in sequence order.
type notifier struct {
	mu      sync.Mutex
	pending []Snapshot
	subs    map[int]Subscriber
	nextSub int
	closed  bool
	signal  chan struct{} // buffered, size 1

	deliverMu sync.Mutex
}

func newNotifier() *notifier {
	return &notifier{
		pending: make([]Snapshot, 0, 16),
		subs:    make(map[int]Subscriber),
		signal:  make(chan struct{}, 1),
	}
}

// subscribe registers fn and returns a function removing it.
func (n *notifier) subscribe(fn Subscriber) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// publish queues s. Returns false once the notifier is closed.
func (n *notifier) publish(s Snapshot) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}
	n.pending = append(n.pending, s)

	select {
	case n.signal <- struct{}{}:
	default:
	}
	return true
}

// next pops the oldest snapshot together with the subscribers to notify.
func (n *notifier) next() (Snapshot, []Subscriber, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) == 0 {
		return Snapshot{}, nil, false
	}
	s := n.pending[0]
	n.pending[0] = Snapshot{}
	if len(n.pending) == 1 {
		n.pending = n.pending[:0]
	} else {
		n.pending = n.pending[1:]
	}

	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, n.subs[id])
	}
	return s, subs, true
}

// flush delivers everything queued and returns how many snapshots went out.
func (n *notifier) flush() int {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	delivered := 0
	for {
		s, subs, ok := n.next()
		if !ok {
			return delivered
		}
		for _, fn := range subs {
			fn(s)
		}
		delivered++
	}
}

// run delivers snapshots as they arrive until ctx is done or the notifier
// is closed.
func (n *notifier) run(ctx context.Context) error {
	for {
		n.flush()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-n.signal:
			if !ok {
				n.flush()
				return nil
			}
		}
	}
}

// close stops accepting snapshots and wakes the run loop. Already queued
// snapshots can still be flushed.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	close(n.signal)
}
