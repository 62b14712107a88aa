package engine

import "time"

// Unlimited disables a budget. A zero budget is not unlimited: it degrades
// as soon as there is any work to do.
const Unlimited time.Duration = -1

// BudgetTracker measures elapsed time against a wall-clock limit.
//
// One tracker lives for one converge invocation. Check is called before each
// step; once it reports exhaustion the remaining relevant steps are carried
// over to the next transaction.
type BudgetTracker struct {
	clock Clock
	start time.Time
	limit time.Duration
}

// NewBudgetTracker starts measuring now.
func NewBudgetTracker(clock Clock, limit time.Duration) *BudgetTracker {
	return &BudgetTracker{
		clock: clock,
		start: clock.Now(),
		limit: limit,
	}
}

// Exhausted reports whether elapsed >= limit.
func (b *BudgetTracker) Exhausted() bool {
	if b.limit < 0 {
		return false
	}
	return b.Elapsed() >= b.limit
}

// Elapsed returns the time since the tracker started.
func (b *BudgetTracker) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

// Limit returns the configured limit, Unlimited when disabled.
func (b *BudgetTracker) Limit() time.Duration {
	return b.limit
}

// Start returns the instant the tracker started.
func (b *BudgetTracker) Start() time.Time {
	return b.start
}

func limitMs(d time.Duration) float64 {
	if d < 0 {
		return -1
	}
	return durationMs(d)
}
