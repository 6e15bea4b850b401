package seen

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "feedwatch/pkg/logx"
)

// fileStore flushes the id set to a single JSON snapshot mapping id to the
// unix second it was first seen. Writes go through a temp file + rename so a
// crash mid-save leaves the previous snapshot intact.
type fileStore struct {
	memory
	log logx.Logger

	path     string
	maxBytes int64
	dirty    bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("seen store path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		memory:   newMemory(),
		log:      log,
		path:     path,
		maxBytes: cfg.MaxBytes,
	}
	if err := s.Load(context.Background()); err != nil {
		// A damaged snapshot must not block startup; worst case a few
		// items get notified again.
		log.Warn("seen snapshot unreadable, starting empty",
			logx.String("path", path), logx.Err(err))
	}
	return s, nil
}

// Load replaces the in-memory set with the snapshot on disk. A missing
// snapshot is not an error; it just means an empty store.
func (s *fileStore) Load(ctx context.Context) error {
	_ = ctx
	var snap map[string]int64
	b, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err == nil {
		if err := json.Unmarshal(b, &snap); err != nil {
			return err
		}
	}

	ids := make(map[string]time.Time, len(snap))
	for id, sec := range snap {
		if id == "" {
			continue
		}
		ids[id] = time.Unix(sec, 0).UTC()
	}
	s.mu.Lock()
	s.ids = ids
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Mark(id string, at time.Time) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markLocked(id, at) {
		s.dirty = true
	}
}

// PruneBefore drops old entries in memory; the snapshot shrinks on the next
// Save.
func (s *fileStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.pruneBeforeLocked(cutoff)
	if len(dropped) > 0 {
		s.dirty = true
	}
	return len(dropped), nil
}

// Save writes the snapshot, pruning the oldest quarter of entries for as
// long as the encoded size exceeds the ceiling. Unchanged stores are not
// rewritten.
func (s *fileStore) Save(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	b, err := s.encodeLocked()
	if err != nil {
		return err
	}
	for int64(len(b)) > s.maxBytes && len(s.ids) > 0 {
		dropped := pruneOldest(s.ids)
		s.log.Info("seen store pruned",
			logx.Int("dropped", len(dropped)),
			logx.Int("kept", len(s.ids)))
		if b, err = s.encodeLocked(); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *fileStore) encodeLocked() ([]byte, error) {
	snap := make(map[string]int64, len(s.ids))
	for id, at := range s.ids {
		snap[id] = at.Unix()
	}
	return json.Marshal(snap)
}

func (s *fileStore) Close() error { return nil }
