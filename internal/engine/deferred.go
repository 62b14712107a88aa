package engine

import (
	"slices"
	"time"
)

// DeferredScheduler holds deferred steps until their debounce window closes.
//
// A step is due at min(last+debounce, first+maxLag): rescheduling pushes the
// debounce edge out, but never beyond maxLag after the first request. A
// maxLag <= 0 disables the cap.
//
// Not safe for concurrent use; it belongs to one executor.
type DeferredScheduler struct {
	debounce time.Duration
	maxLag   time.Duration
	pending  map[int]*deferredEntry

	superseded int64
	dropped    int64
}

type deferredEntry struct {
	first time.Time
	last  time.Time
}

// DeferredStats reports scheduler counters.
type DeferredStats struct {
	Pending    int   `json:"pending"`
	Superseded int64 `json:"superseded"`
	Dropped    int64 `json:"dropped"`
}

// NewDeferredScheduler creates an empty scheduler.
func NewDeferredScheduler(debounce, maxLag time.Duration) *DeferredScheduler {
	return &DeferredScheduler{
		debounce: debounce,
		maxLag:   maxLag,
		pending:  make(map[int]*deferredEntry),
	}
}

// Schedule requests a run of stepID. An already pending request for the same
// step is superseded: it is dropped and counted, keeping its first time.
func (s *DeferredScheduler) Schedule(stepID int, now time.Time) {
	if e, ok := s.pending[stepID]; ok {
		s.superseded++
		e.last = now
		return
	}
	s.pending[stepID] = &deferredEntry{first: now, last: now}
}

func (s *DeferredScheduler) dueAt(e *deferredEntry) time.Time {
	due := e.last.Add(s.debounce)
	if s.maxLag > 0 {
		if capAt := e.first.Add(s.maxLag); capAt.Before(due) {
			due = capAt
		}
	}
	return due
}

// Due removes and returns, in ascending order, the steps due at now.
func (s *DeferredScheduler) Due(now time.Time) []int {
	var due []int
	for id, e := range s.pending {
		if !now.Before(s.dueAt(e)) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(s.pending, id)
	}
	slices.Sort(due)
	return due
}

// NextDue returns the earliest due time among pending steps.
func (s *DeferredScheduler) NextDue() (time.Time, bool) {
	var next time.Time
	found := false
	for _, e := range s.pending {
		if at := s.dueAt(e); !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

// Pending returns the waiting step ids in ascending order.
func (s *DeferredScheduler) Pending() []int {
	ids := make([]int, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Cancel drops every pending step and returns how many were dropped.
func (s *DeferredScheduler) Cancel() int {
	n := len(s.pending)
	s.dropped += int64(n)
	clear(s.pending)
	return n
}

// Stats returns the scheduler counters.
func (s *DeferredScheduler) Stats() DeferredStats {
	return DeferredStats{
		Pending:    len(s.pending),
		Superseded: s.superseded,
		Dropped:    s.dropped,
	}
}
