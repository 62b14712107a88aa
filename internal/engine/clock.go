package engine

import (
	"sync/atomic"
	"time"
)

// Clock is the monotonic time source used to measure budgets and deferral.
//
// SystemClock is used in production. Tests use testutil.FakeClock, which
// only moves when told to.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. time.Now carries a monotonic reading, so
// durations computed with Sub are immune to wall-clock jumps.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sequence is a monotonic counter, used for generations.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequenceAt creates a sequence whose next value is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next value and increments the sequence.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the current value without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
