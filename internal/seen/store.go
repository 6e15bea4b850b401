package seen

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	logx "feedwatch/pkg/logx"
)

// DefaultMaxBytes caps the on-disk snapshot at 1 MiB unless configured.
const DefaultMaxBytes = 1 << 20

// Config configures the seen-id store.
//
// Driver values:
//   - "file": dependency-free JSON snapshot (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	MaxBytes    int64         // on-disk ceiling; oldest entries are pruned past it
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store remembers which item ids were already notified so a restart does not
// repeat notifications. Load replaces the in-memory set from persisted state;
// no persisted state means an empty store, not an error. Mark keeps the first
// sighting; marking the same id again is a no-op. Seen and Mark never touch
// disk; Save flushes. PruneBefore drops ids first seen before the cutoff and
// reports how many went.
type Store interface {
	Load(ctx context.Context) error
	Seen(id string) bool
	Mark(id string, at time.Time)
	Len() int
	OldestAt() (time.Time, bool)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Save(ctx context.Context) error
	Close() error
}

// Open initializes the configured store and loads persisted state. Unreadable
// state is logged and the store starts empty; Open never fails on that.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown seen store driver: " + cfg.Driver)
	}
}

// memory is the in-process id set shared by both drivers.
type memory struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func newMemory() memory {
	return memory{ids: map[string]time.Time{}}
}

func (m *memory) Seen(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

// markLocked records the first sighting of id. Callers hold mu and pass a
// trimmed id.
func (m *memory) markLocked(id string, at time.Time) bool {
	if id == "" {
		return false
	}
	if _, ok := m.ids[id]; ok {
		return false
	}
	if at.IsZero() {
		at = time.Now()
	}
	m.ids[id] = at
	return true
}

func (m *memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

func (m *memory) OldestAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	for _, at := range m.ids {
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	return oldest, !oldest.IsZero()
}

// pruneBeforeLocked drops every id first seen before cutoff and returns the
// dropped ids. Callers hold mu.
func (m *memory) pruneBeforeLocked(cutoff time.Time) []string {
	var dropped []string
	for id, at := range m.ids {
		if at.Before(cutoff) {
			delete(m.ids, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// pruneOldest drops the oldest quarter of ids, rounded up, and returns the
// dropped ids. Ties on timestamp break by id so pruning is deterministic.
// Callers hold the store lock.
func pruneOldest(ids map[string]time.Time) []string {
	n := len(ids)
	if n == 0 {
		return nil
	}
	drop := (n*25 + 99) / 100

	type rec struct {
		id string
		at time.Time
	}
	recs := make([]rec, 0, n)
	for id, at := range ids {
		recs = append(recs, rec{id: id, at: at})
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].at.Equal(recs[j].at) {
			return recs[i].at.Before(recs[j].at)
		}
		return recs[i].id < recs[j].id
	})

	dropped := make([]string, 0, drop)
	for _, r := range recs[:drop] {
		delete(ids, r.id)
		dropped = append(dropped, r.id)
	}
	return dropped
}
