package budget

import (
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestStaticSpacing(t *testing.T) {
	cases := []struct {
		name      string
		cost      float64
		perMinute float64
		want      time.Duration
	}{
		{name: "ten per minute cost two", cost: 2, perMinute: 10, want: 12 * time.Second},
		{name: "sixty per minute cost one", cost: 1, perMinute: 60, want: time.Second},
		{name: "floor at one second", cost: 1, perMinute: 600, want: time.Second},
		{name: "one per minute", cost: 1, perMinute: 1, want: time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker()
			got := tr.Spacing(tc.cost, tc.perMinute)
			if got != tc.want {
				t.Fatalf("Spacing(%v, %v) = %v, want %v", tc.cost, tc.perMinute, got, tc.want)
			}
		})
	}
}

func TestAdaptiveSpacingSpreadsRemainingOverWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = fixedClock(now)

	tr.Update(&Snapshot{Used: 8, Remaining: 2, ResetIn: 30 * time.Second, CapturedAt: now})

	if got, want := tr.Spacing(2, 10), 15*time.Second; got != want {
		t.Fatalf("Spacing = %v, want %v", got, want)
	}
}

func TestSpacingCooldownWhenBudgetExhausted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = fixedClock(now)

	tr.Update(&Snapshot{Used: 10, Remaining: 1, ResetIn: 20 * time.Second, CapturedAt: now})

	// Remaining 1 < cost 2: wait out the rest of the window.
	if got, want := tr.Spacing(2, 10), 20*time.Second; got != want {
		t.Fatalf("Spacing = %v, want %v", got, want)
	}
	if tr.CanAdmit(2) {
		t.Fatal("CanAdmit(2) = true with remaining 1, want false")
	}
	if !tr.CanAdmit(1) {
		t.Fatal("CanAdmit(1) = false with remaining 1, want true")
	}
}

func TestSnapshotExpiryFallsBackToStatic(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = fixedClock(start)

	tr.Update(&Snapshot{Used: 10, Remaining: 0, ResetIn: 30 * time.Second, CapturedAt: start})

	if tr.CanAdmit(1) {
		t.Fatal("CanAdmit = true before reset, want false")
	}

	// Jump past the reset boundary: snapshot expires, admission is
	// optimistic again and spacing goes static.
	tr.now = fixedClock(start.Add(30 * time.Second))

	if _, ok := tr.Current(); ok {
		t.Fatal("Current() ok = true after reset elapsed, want false")
	}
	if !tr.CanAdmit(1) {
		t.Fatal("CanAdmit = false after reset elapsed, want true")
	}
	if got, want := tr.Spacing(2, 10), 12*time.Second; got != want {
		t.Fatalf("Spacing after expiry = %v, want %v", got, want)
	}
}

func TestUpdateReplacesWholeSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = fixedClock(now)

	tr.Update(&Snapshot{Used: 2, Remaining: 8, ResetIn: 60 * time.Second, CapturedAt: now})
	tr.Update(&Snapshot{Used: 9, Remaining: 1, ResetIn: 10 * time.Second, CapturedAt: now})

	got, ok := tr.Current()
	if !ok {
		t.Fatal("Current() ok = false, want true")
	}
	if got.Remaining != 1 || got.ResetIn != 10*time.Second {
		t.Fatalf("Current() = %+v, want remaining 1 reset 10s", got)
	}
}

func TestUpdateIgnoresNil(t *testing.T) {
	tr := NewTracker()
	tr.Update(nil)
	if _, ok := tr.Current(); ok {
		t.Fatal("Current() ok = true after nil update, want false")
	}
}

func TestUpdateStampsCaptureTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = fixedClock(now)

	tr.Update(&Snapshot{Remaining: 5, ResetIn: 30 * time.Second})

	got, ok := tr.Current()
	if !ok {
		t.Fatal("Current() ok = false, want true")
	}
	if !got.CapturedAt.Equal(now) {
		t.Fatalf("CapturedAt = %v, want %v", got.CapturedAt, now)
	}
}

func TestExhaustedWithoutResetInfoStaysOptimistic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = fixedClock(now)

	tr.Update(&Snapshot{Used: 10, Remaining: 0, CapturedAt: now})

	if !tr.CanAdmit(1) {
		t.Fatal("CanAdmit = false with no reset info, want true")
	}
	if got, want := tr.Spacing(2, 10), 12*time.Second; got != want {
		t.Fatalf("Spacing = %v, want %v", got, want)
	}
}
