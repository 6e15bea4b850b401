package seen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneOldestQuarter(t *testing.T) {
	cases := []struct {
		size     int
		wantDrop int
	}{
		{size: 8, wantDrop: 2},
		{size: 10, wantDrop: 3},
		{size: 4, wantDrop: 1},
		{size: 1, wantDrop: 1},
	}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(fmt.Sprintf("size %d", tc.size), func(t *testing.T) {
			ids := map[string]time.Time{}
			for i := 0; i < tc.size; i++ {
				ids[fmt.Sprintf("id-%02d", i)] = base.Add(time.Duration(i) * time.Minute)
			}

			dropped := pruneOldest(ids)

			if len(dropped) != tc.wantDrop {
				t.Fatalf("dropped %d ids, want %d", len(dropped), tc.wantDrop)
			}
			if len(ids) != tc.size-tc.wantDrop {
				t.Fatalf("kept %d ids, want %d", len(ids), tc.size-tc.wantDrop)
			}
			// The dropped ids are exactly the oldest ones.
			for i := 0; i < tc.wantDrop; i++ {
				id := fmt.Sprintf("id-%02d", i)
				if _, ok := ids[id]; ok {
					t.Fatalf("oldest id %q survived prune", id)
				}
			}
		})
	}
}

func TestPruneOldestEmpty(t *testing.T) {
	if got := pruneOldest(map[string]time.Time{}); got != nil {
		t.Fatalf("pruneOldest(empty) = %v, want nil", got)
	}
}

func TestPruneOldestTieBreaksByID(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ids := map[string]time.Time{"d": at, "a": at, "c": at, "b": at}

	dropped := pruneOldest(ids)

	if len(dropped) != 1 || dropped[0] != "a" {
		t.Fatalf("dropped = %v, want [a]", dropped)
	}
}

func TestOpenDefaultsToFileDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	st, err := Open(Config{Path: path}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	st.Mark("abc", time.Now())
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "bolt", Path: "x"}, testLogger())
	if err == nil {
		t.Fatal("Open with unknown driver returned nil error")
	}
}
