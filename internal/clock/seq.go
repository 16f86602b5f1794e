package clock

import "sync/atomic"

// Seq is a monotonic logical counter for event ordering.
//
// Snapshot events are stamped from Seq rather than wall time so that
// subscribers can detect gaps and order events even when the wall clock
// is frozen (tests) or jumps (NTP adjustments).
//
// Thread-safety: Seq is safe for concurrent use (atomic operations).
type Seq struct {
	n atomic.Int64
}

// NewSeq creates a counter starting at 0.
func NewSeq() *Seq {
	return &Seq{}
}

// NewSeqAt creates a counter starting at a specific value.
func NewSeqAt(start int64) *Seq {
	s := &Seq{}
	s.n.Store(start)
	return s
}

// Next increments the counter and returns the new value.
func (s *Seq) Next() int64 {
	return s.n.Add(1)
}

// Current returns the current value without incrementing.
func (s *Seq) Current() int64 {
	return s.n.Load()
}
