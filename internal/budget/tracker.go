// Package budget tracks the upstream rate limit and turns it into a safe
// per-poll spacing.
//
// The upstream budget is advisory and delayed (we only learn about it after a
// request completes), so the tracker degrades to a static worst-case budget
// whenever feedback is stale or absent. It never assumes unlimited capacity
// once feedback has been seen.
package budget

import (
	"sync"
	"time"
)

// Snapshot is the most recent rate-limit feedback from the upstream source.
// It is wholly replaced on each update, never merged.
type Snapshot struct {
	Used       float64
	Remaining  float64
	ResetIn    time.Duration
	CapturedAt time.Time
}

// expired reports whether the snapshot's reset window has elapsed.
// A snapshot without reset information never expires by time; its usefulness
// is decided per call site instead.
func (s Snapshot) expired(now time.Time) bool {
	if s.ResetIn <= 0 {
		return false
	}
	return !now.Before(s.CapturedAt.Add(s.ResetIn))
}

// resetRemaining returns the time left in the snapshot's window.
func (s Snapshot) resetRemaining(now time.Time) time.Duration {
	return s.CapturedAt.Add(s.ResetIn).Sub(now)
}

// Tracker owns the current snapshot. All access goes through its methods;
// the scheduling loop is the only writer in practice but reporting jobs may
// read concurrently.
type Tracker struct {
	mu   sync.Mutex
	snap *Snapshot

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Update replaces the current snapshot. A nil snapshot is ignored so callers
// can pass fetch feedback through unconditionally.
func (t *Tracker) Update(s *Snapshot) {
	if s == nil {
		return
	}
	cp := *s
	if cp.CapturedAt.IsZero() {
		cp.CapturedAt = t.now()
	}
	t.mu.Lock()
	t.snap = &cp
	t.mu.Unlock()
}

// Current returns the live snapshot. ok is false when no feedback has been
// seen yet or the last snapshot's reset window has elapsed.
func (t *Tracker) Current() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.liveLocked()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

func (t *Tracker) liveLocked() *Snapshot {
	if t.snap == nil {
		return nil
	}
	if t.snap.expired(t.now()) {
		return nil
	}
	return t.snap
}

// CanAdmit reports whether a poll costing cost requests may proceed.
// With no usable snapshot it is optimistic; the spacing computed by Spacing
// is then the only brake.
func (t *Tracker) CanAdmit(cost float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.liveLocked()
	if s == nil {
		return true
	}
	if s.ResetIn <= 0 && s.Remaining < cost {
		// Exhausted with no reset information: we cannot know when capacity
		// returns, so static pacing governs instead of blocking forever.
		return true
	}
	return s.Remaining >= cost
}

// Spacing returns the suggested delay before the next poll.
//
//   - No snapshot, expired snapshot, or no reset information: static spacing
//     60s / (fallbackPerMinute / cost), floored at 1s.
//   - Fewer than one poll's worth of budget left: wait out the reset window.
//   - Otherwise: spread the remaining requests over the rest of the window,
//     floored at 1s to prevent tight loops.
func (t *Tracker) Spacing(cost, fallbackPerMinute float64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.liveLocked()
	if s == nil || s.ResetIn <= 0 {
		return staticSpacing(cost, fallbackPerMinute)
	}

	window := s.resetRemaining(t.now())
	if window < time.Second {
		window = time.Second
	}
	if s.Remaining < cost {
		return window
	}
	d := time.Duration(float64(window) / s.Remaining)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func staticSpacing(cost, perMinute float64) time.Duration {
	if cost <= 0 {
		cost = 1
	}
	if perMinute <= 0 {
		// No usable budget configured; stay conservative.
		return time.Minute
	}
	polls := perMinute / cost
	d := time.Duration(float64(time.Minute) / polls)
	if d < time.Second {
		d = time.Second
	}
	return d
}
