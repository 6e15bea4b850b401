// Package rotation decides which source to poll next.
//
// The ledger keeps a last-polled timestamp per source and always hands out
// the least recently polled one, so no configured source is starved even
// when budgets force long gaps between polls.
package rotation

import (
	"sort"
	"sync"
	"time"
)

// Ledger tracks poll recency per source name. The zero timestamp means the
// source has never been polled and therefore sorts first.
type Ledger struct {
	mu    sync.Mutex
	order []string
	last  map[string]time.Time

	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Init reconciles the ledger with the configured source names. History for
// names that survive the reload is kept; removed names are forgotten; new
// names start as never polled. The given order becomes the tie-break order.
func (l *Ledger) Init(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]time.Time, len(names))
	for _, name := range names {
		if at, ok := l.last[name]; ok {
			next[name] = at
		}
	}
	l.last = next
	l.order = make([]string, len(names))
	copy(l.order, names)
}

// Next returns up to n source names, least recently polled first. Sources
// that have never been polled come before all others; ties fall back to the
// configured order.
func (l *Ledger) Next(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || len(l.order) == 0 {
		return nil
	}
	picked := make([]string, len(l.order))
	copy(picked, l.order)
	sort.SliceStable(picked, func(i, j int) bool {
		return l.last[picked[i]].Before(l.last[picked[j]])
	})
	if n > len(picked) {
		n = len(picked)
	}
	return picked[:n]
}

// MarkPolled records a poll attempt. Failed polls advance the rotation too,
// so one broken source cannot monopolize the schedule.
func (l *Ledger) MarkPolled(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[name] = l.now()
}

// LastPolled returns when the named source was last polled. ok is false for
// unknown or never-polled sources.
func (l *Ledger) LastPolled(name string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.last[name]
	if !ok || at.IsZero() {
		return time.Time{}, false
	}
	return at, true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}
