package seen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "feedwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS seen (
	id      TEXT PRIMARY KEY,
	seen_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_seen_seen_at ON seen(seen_at);
`

// sqliteStore mirrors the id set in memory and flushes new marks to the
// database on Save.
type sqliteStore struct {
	memory
	log logx.Logger

	db       *sql.DB
	path     string
	maxBytes int64
	dirty    map[string]time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("seen store path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	// auto_vacuum only takes effect when set before the first table exists;
	// without it deletes never shrink the file.
	_, _ = db.Exec("PRAGMA auto_vacuum = FULL")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &sqliteStore{
		memory:   newMemory(),
		log:      log,
		db:       db,
		path:     path,
		maxBytes: cfg.MaxBytes,
		dirty:    map[string]time.Time{},
	}
	if err := s.Load(context.Background()); err != nil {
		// Same rule as the file driver: unreadable rows must not block
		// startup.
		log.Warn("seen store unreadable, starting empty",
			logx.String("path", path), logx.Err(err))
	}
	return s, nil
}

// Load replaces the in-memory set with the persisted rows and resets the
// pending flush.
func (s *sqliteStore) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, seen_at FROM seen`)
	if err != nil {
		return err
	}
	defer rows.Close()

	ids := map[string]time.Time{}
	for rows.Next() {
		var id string
		var sec int64
		if err := rows.Scan(&id, &sec); err != nil {
			return err
		}
		if id == "" {
			continue
		}
		ids[id] = time.Unix(sec, 0).UTC()
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.ids = ids
	s.dirty = map[string]time.Time{}
	s.mu.Unlock()
	return nil
}

func (s *sqliteStore) Mark(id string, at time.Time) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markLocked(id, at) {
		s.dirty[id] = s.ids[id]
	}
}

// PruneBefore drops old entries from memory and deletes the same rows
// immediately. Pruned ids still waiting in the dirty set are discarded so
// they never reach the database.
func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.pruneBeforeLocked(cutoff)
	if len(dropped) == 0 {
		return 0, nil
	}
	for _, id := range dropped {
		delete(s.dirty, id)
	}
	err := s.deleteIDs(ctx, dropped)
	return len(dropped), err
}

func (s *sqliteStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) > 0 {
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
	}
	return s.pruneLocked(ctx)
}

func (s *sqliteStore) flushLocked(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for id, at := range s.dirty {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seen(id, seen_at) VALUES(?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			id, at.Unix(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dirty = map[string]time.Time{}
	return nil
}

// pruneLocked drops the oldest quarter of ids for as long as the database
// file exceeds the ceiling.
func (s *sqliteStore) pruneLocked(ctx context.Context) error {
	size, err := s.fileSize(ctx)
	if err != nil {
		return err
	}
	for size > s.maxBytes && len(s.ids) > 0 {
		dropped := pruneOldest(s.ids)
		if err := s.deleteIDs(ctx, dropped); err != nil {
			return err
		}
		s.log.Info("seen store pruned",
			logx.Int("dropped", len(dropped)),
			logx.Int("kept", len(s.ids)))

		prev := size
		if size, err = s.fileSize(ctx); err != nil {
			return err
		}
		if size >= prev {
			// Page granularity means small deletes may free nothing;
			// compact explicitly and stop if even that makes no progress.
			_, _ = s.db.ExecContext(ctx, "VACUUM")
			if size, err = s.fileSize(ctx); err != nil {
				return err
			}
			if size >= prev {
				break
			}
		}
	}
	return nil
}

func (s *sqliteStore) deleteIDs(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM seen WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// fileSize folds the WAL into the main file first so the stat reflects
// committed data.
func (s *sqliteStore) fileSize(ctx context.Context) (int64, error) {
	_, _ = s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
