package seen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "feedwatch/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

func openTestFile(t *testing.T, path string, maxBytes int64) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path, MaxBytes: maxBytes}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileMarkAndSeen(t *testing.T) {
	st := openTestFile(t, filepath.Join(t.TempDir(), "seen.json"), 0)

	if st.Seen("t3_abc") {
		t.Fatal("Seen = true before Mark, want false")
	}
	st.Mark("t3_abc", time.Now())
	if !st.Seen("t3_abc") {
		t.Fatal("Seen = false after Mark, want true")
	}
	if st.Seen("") {
		t.Fatal("Seen(empty) = true, want false")
	}

	st.Mark("   ", time.Now())
	if got := st.Len(); got != 1 {
		t.Fatalf("Len = %d after blank Mark, want 1", got)
	}
}

func TestFileMarkIsIdempotent(t *testing.T) {
	st := openTestFile(t, filepath.Join(t.TempDir(), "seen.json"), 0)

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.Mark("t3_abc", first)
	st.Mark("t3_abc", first.Add(time.Hour))

	if got := st.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	oldest, ok := st.OldestAt()
	if !ok {
		t.Fatal("OldestAt ok = false, want true")
	}
	if !oldest.Equal(first) {
		t.Fatalf("OldestAt = %v, want first sighting %v", oldest, first)
	}
}

func TestFileSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 0)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"t3_a", "t3_b", "t1_c"} {
		st.Mark(id, at)
	}
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulated restart: a fresh store must still dedupe the old ids.
	re := openTestFile(t, path, 0)
	for _, id := range []string{"t3_a", "t3_b", "t1_c"} {
		if !re.Seen(id) {
			t.Fatalf("Seen(%q) = false after reload, want true", id)
		}
	}
	if got := re.Len(); got != 3 {
		t.Fatalf("Len = %d after reload, want 3", got)
	}
}

func TestFileCorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := openTestFile(t, path, 0)
	if got := st.Len(); got != 0 {
		t.Fatalf("Len = %d with corrupt snapshot, want 0", got)
	}
}

func TestFileLoadReplacesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 0)

	st.Mark("stale", time.Now())
	if err := os.WriteFile(path, []byte(`{"t3_disk":1700000000}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Seen("stale") {
		t.Fatal("Load kept an id the snapshot does not hold")
	}
	if !st.Seen("t3_disk") {
		t.Fatal("Seen(t3_disk) = false after Load, want true")
	}

	// A missing snapshot is an empty store, not an error.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load with no snapshot: %v", err)
	}
	if got := st.Len(); got != 0 {
		t.Fatalf("Len = %d with no snapshot, want 0", got)
	}

	// Load leaves the store clean, so this Save must not write anything.
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Load left the store dirty, stat err = %v", err)
	}
}

func TestFileLoadCorruptSnapshotErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 0)

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := st.Load(context.Background()); err == nil {
		t.Fatal("Load = nil for corrupt snapshot, want error")
	}
}

func TestFileSavePrunesOldestPastCeiling(t *testing.T) {
	// Eight entries encode to 145 bytes; a 120-byte ceiling forces exactly
	// one prune round dropping the oldest quarter (two entries).
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 120)

	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 8; i++ {
		st.Mark(fmt.Sprintf("id-%d", i), base.Add(time.Duration(i)*time.Minute))
	}
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if got := st.Len(); got != 6 {
		t.Fatalf("Len = %d after prune, want 6", got)
	}
	for _, id := range []string{"id-0", "id-1"} {
		if st.Seen(id) {
			t.Fatalf("Seen(%q) = true, want pruned", id)
		}
	}
	if !st.Seen("id-2") {
		t.Fatal("Seen(id-2) = false, want true")
	}

	re := openTestFile(t, path, 120)
	if got := re.Len(); got != 6 {
		t.Fatalf("Len = %d after reload, want 6", got)
	}
	if re.Seen("id-0") {
		t.Fatal("pruned id resurrected on reload")
	}
}

func TestFilePruneBeforeDropsOldEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 0)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	st.Mark("old-a", base)
	st.Mark("old-b", base.Add(time.Hour))
	st.Mark("fresh", base.Add(48*time.Hour))
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := st.PruneBefore(context.Background(), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("PruneBefore = %d, want 2", n)
	}
	if st.Seen("old-a") || st.Seen("old-b") {
		t.Fatal("pruned ids still seen")
	}
	if !st.Seen("fresh") {
		t.Fatal("Seen(fresh) = false, want true")
	}

	// The prune dirtied a previously clean store, so this Save must rewrite
	// the snapshot.
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	re := openTestFile(t, path, 0)
	if got := re.Len(); got != 1 {
		t.Fatalf("Len = %d after reload, want 1", got)
	}
	if re.Seen("old-a") {
		t.Fatal("pruned id resurrected on reload")
	}
}

func TestFilePruneBeforeNoMatchesStaysClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 0)

	n, err := st.PruneBefore(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 0 {
		t.Fatalf("PruneBefore = %d, want 0", n)
	}
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("no-op prune dirtied the store, stat err = %v", err)
	}
}

func TestFileSaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st := openTestFile(t, path, 0)

	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("clean Save wrote a snapshot, stat err = %v", err)
	}
}
