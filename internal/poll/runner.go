// Package poll runs the scheduling loop.
//
// One sequential loop walks AWAIT_CAPACITY, SELECT_SOURCE, FETCH,
// FILTER_MATCH_NOTIFY and ADVANCE. There are no parallel fetches and no
// worker pool; all suspension happens at explicit cancellation-aware sleeps.
// Cancellation finishes the in-flight attempt, persists the seen store and
// exits.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedwatch/internal/budget"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/retry"
	"feedwatch/internal/rotation"
	"feedwatch/internal/seen"
	"feedwatch/internal/source"
	logx "feedwatch/pkg/logx"
)

// Matcher reports the first configured pattern matching any of the texts.
type Matcher interface {
	Match(texts ...string) (string, bool)
}

// Notifier delivers one matched item. Errors follow the retry taxonomy.
type Notifier interface {
	Notify(ctx context.Context, item source.Item, pattern string) error
}

// Config holds the scheduling knobs.
type Config struct {
	FallbackPerMinute float64 // static request budget when no snapshot is live
	CostPerPoll       float64 // requests per poll cycle; 0 derives it from categories
	IdleWait          time.Duration

	// StaticPacing discards upstream rate feedback so polls are spaced purely
	// from FallbackPerMinute.
	StaticPacing bool

	FetchRetry  retry.Policy
	NotifyRetry retry.Policy
}

// PollEvent summarizes one completed poll cycle.
type PollEvent struct {
	Source   string    `json:"source"`
	Fetched  int       `json:"fetched"`
	Matched  int       `json:"matched"`
	Notified int       `json:"notified"`
	Skipped  int       `json:"skipped"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// MatchEvent is published for every fresh match, before delivery.
type MatchEvent struct {
	Source  string `json:"source"`
	ItemID  string `json:"item_id"`
	Kind    string `json:"kind"`
	Pattern string `json:"pattern"`
	Title   string `json:"title,omitempty"`
}

// SaveEvent reports a seen-store flush.
type SaveEvent struct {
	Entries int `json:"entries"`
}

// Runner owns the loop. Collaborators are injected; the loop is the only
// goroutine touching them during Run, except for Apply on config reload.
type Runner struct {
	log      logx.Logger
	matcher  Matcher
	notifier Notifier
	store    seen.Store
	ledger   *rotation.Ledger
	tracker  *budget.Tracker
	bus      eventbus.Bus

	mu       sync.Mutex
	cfg      Config
	fetchers map[string]source.Fetcher
	cost     float64

	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

func NewRunner(cfg Config, fetchers []source.Fetcher, matcher Matcher, notifier Notifier, store seen.Store, ledger *rotation.Ledger, tracker *budget.Tracker, bus eventbus.Bus, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		log:      log,
		matcher:  matcher,
		notifier: notifier,
		store:    store,
		ledger:   ledger,
		tracker:  tracker,
		bus:      bus,
		fetchers: map[string]source.Fetcher{},
		sleep:    sleepCtx,
		now:      time.Now,
	}
	r.applyLocked(cfg, fetchers)
	return r
}

// Apply reconfigures the loop. A nil fetcher slice keeps the current sources;
// a non-nil one replaces them and reconciles the rotation ledger.
func (r *Runner) Apply(cfg Config, fetchers []source.Fetcher) {
	r.mu.Lock()
	r.applyLocked(cfg, fetchers)
	r.mu.Unlock()
}

func (r *Runner) applyLocked(cfg Config, fetchers []source.Fetcher) {
	if cfg.FallbackPerMinute <= 0 {
		cfg.FallbackPerMinute = 10
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 15 * time.Second
	}
	if cfg.FetchRetry.MaxAttempts <= 0 {
		cfg.FetchRetry = retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute}
	}
	if cfg.NotifyRetry.MaxAttempts <= 0 {
		cfg.NotifyRetry = retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
	}
	r.cfg = cfg

	if fetchers != nil {
		m := make(map[string]source.Fetcher, len(fetchers))
		names := make([]string, 0, len(fetchers))
		for _, f := range fetchers {
			if f == nil {
				continue
			}
			m[f.Name()] = f
			names = append(names, f.Name())
		}
		r.fetchers = m
		r.ledger.Init(names)
	}

	// Admission uses one uniform cost. Without explicit config it is the
	// widest source's category count, so the gate never under-counts.
	cost := cfg.CostPerPoll
	if cost <= 0 {
		for _, f := range r.fetchers {
			if n := float64(len(f.Categories())); n > cost {
				cost = n
			}
		}
		if cost < 1 {
			cost = 1
		}
	}
	r.cost = cost
}

func (r *Runner) snapshot() (Config, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.cost
}

// Run drives the loop until ctx is canceled. It always flushes the seen
// store once more before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("scheduling loop started")
	defer r.finalSave()

	for {
		if ctx.Err() != nil {
			return nil
		}
		cfg, cost := r.snapshot()

		// Hard backpressure gate: never fetch while the budget says no.
		for !r.tracker.CanAdmit(cost) {
			d := r.tracker.Spacing(cost, cfg.FallbackPerMinute)
			r.log.Debug("awaiting capacity", logx.Duration("wait", d))
			if !r.sleep(ctx, d) {
				return nil
			}
		}

		name, fetcher, ok := r.nextSource()
		if !ok {
			if !r.sleep(ctx, cfg.IdleWait) {
				return nil
			}
			continue
		}

		stats := r.pollSource(ctx, name, fetcher, cfg)

		// Failed polls advance the rotation too.
		r.ledger.MarkPolled(name)
		if ctx.Err() == nil {
			// Skipped when already canceled; finalSave covers that path.
			r.saveStore(ctx)
		}

		ev := PollEvent{
			Source:   name,
			Fetched:  stats.fetched,
			Matched:  stats.matched,
			Notified: stats.notified,
			Skipped:  stats.skipped,
			At:       r.now(),
		}
		if stats.err != nil {
			ev.Error = stats.err.Error()
		}
		r.publish("poll.completed", ev)

		if ctx.Err() != nil {
			return nil
		}
		d := r.tracker.Spacing(cost, cfg.FallbackPerMinute)
		r.log.Debug("poll cycle done",
			logx.String("source", name),
			logx.Int("fetched", stats.fetched),
			logx.Int("notified", stats.notified),
			logx.Duration("next_in", d))
		if !r.sleep(ctx, d) {
			return nil
		}
	}
}

func (r *Runner) nextSource() (string, source.Fetcher, bool) {
	names := r.ledger.Next(1)
	if len(names) == 0 {
		return "", nil, false
	}
	r.mu.Lock()
	f := r.fetchers[names[0]]
	r.mu.Unlock()
	if f == nil {
		// Ledger and fetcher map can briefly disagree during a reload.
		return "", nil, false
	}
	return names[0], f, true
}

type cycleStats struct {
	fetched  int
	matched  int
	notified int
	skipped  int
	err      error
}

func (r *Runner) pollSource(ctx context.Context, name string, f source.Fetcher, cfg Config) cycleStats {
	var st cycleStats
	log := r.log.With(logx.String("source", name))

	var items []source.Item
	for _, cat := range f.Categories() {
		var batch []source.Item
		err := retry.Do(ctx, log, cfg.FetchRetry, fmt.Sprintf("fetch %s/%s", name, cat), func(c context.Context) error {
			// An attempt already on the wire runs to completion; cancellation
			// lands at the envelope's next attempt check or backoff sleep.
			// The fetcher's own client timeout bounds the attempt.
			got, fb, err := f.Fetch(context.WithoutCancel(c), cat)
			// Rate feedback arrives even on rejected requests; apply it
			// before deciding anything else.
			if !cfg.StaticPacing {
				r.tracker.Update(fb)
			}
			if err != nil {
				return err
			}
			batch = got
			return nil
		})
		if err != nil {
			// Abandon the remaining categories; items already fetched
			// this cycle are still processed.
			st.err = err
			log.Error("fetch failed",
				logx.String("category", string(cat)), logx.Err(err))
			break
		}
		items = append(items, batch...)
	}
	st.fetched = len(items)

	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if r.store.Seen(it.ID) {
			st.skipped++
			continue
		}
		pattern, ok := r.matcher.Match(it.Title, it.Body)
		if !ok {
			// Unmatched items stay unmarked so a future pattern change
			// can still catch them.
			continue
		}
		st.matched++
		r.publish("item.matched", MatchEvent{
			Source:  name,
			ItemID:  it.ID,
			Kind:    string(it.Kind),
			Pattern: pattern,
			Title:   it.Title,
		})
		log.Info("item matched",
			logx.String("item_id", it.ID),
			logx.String("kind", string(it.Kind)),
			logx.String("pattern", pattern))

		item := it
		err := retry.Do(ctx, log, cfg.NotifyRetry, "notify "+it.ID, func(c context.Context) error {
			// Same shutdown rule as fetch: a send already in flight
			// completes, so a delivered notification is always marked.
			return r.notifier.Notify(context.WithoutCancel(c), item, pattern)
		})
		if err != nil {
			// Left unmarked: the item is re-checked and re-delivered on
			// a later cycle.
			log.Error("notification failed",
				logx.String("item_id", it.ID), logx.Err(err))
			continue
		}
		r.store.Mark(it.ID, r.now())
		st.notified++
	}
	return st
}

func (r *Runner) saveStore(ctx context.Context) {
	if err := r.store.Save(ctx); err != nil {
		// Persistence degradation is never fatal; the in-memory set
		// still dedupes this run.
		r.log.Warn("seen store save failed", logx.Err(err))
		return
	}
	r.publish("store.saved", SaveEvent{Entries: r.store.Len()})
}

// finalSave runs on its own context; the loop context is already canceled
// by the time shutdown reaches here.
func (r *Runner) finalSave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.saveStore(ctx)
	r.log.Info("scheduling loop stopped", logx.Int("seen_entries", r.store.Len()))
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
