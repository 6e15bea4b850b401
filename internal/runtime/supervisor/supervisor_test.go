package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "feedwatch/pkg/logx"
)

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("boom", func(context.Context) error { panic("kaboom") })

	err := s.Stop(context.Background())
	if err == nil {
		t.Fatal("Stop err = nil after panic")
	}
	if !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Err = %v, want panic error naming the goroutine", err)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(context.Context) error { return errors.New("db down") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context not canceled after error")
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("Err = %v, want first error", err)
	}
}

func TestContextCanceledIsCleanExit(t *testing.T) {
	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait = %v, want nil for a canceled worker", err)
	}
}

func TestGoRestartRestartsAfterError(t *testing.T) {
	var runs int64
	done := make(chan struct{})
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.GoRestart("flaky", func(context.Context) error {
		if atomic.AddInt64(&runs, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine was not restarted")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := atomic.LoadInt64(&runs); n != 3 {
		t.Fatalf("runs = %d, want 3", n)
	}
}

func TestGoRestartStopsOnCleanExitByDefault(t *testing.T) {
	var runs int64
	s := New(context.Background())
	s.GoRestart("once", func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := atomic.LoadInt64(&runs); n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
}

func TestGoRestartRestartsCleanExitWhenConfigured(t *testing.T) {
	var runs int64
	s := New(context.Background())
	s.GoRestart("loop", func(ctx context.Context) error {
		if atomic.AddInt64(&runs, 1) >= 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}, WithStopOnCleanExit(false), WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	deadline := time.After(5 * time.Second)
	for atomic.LoadInt64(&runs) < 3 {
		select {
		case <-deadline:
			t.Fatal("clean exits were not restarted")
		case <-time.After(time.Millisecond):
		}
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoRestartRecoversPanic(t *testing.T) {
	var runs int64
	done := make(chan struct{})
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.GoRestart("panicky", func(context.Context) error {
		if atomic.AddInt64(&runs, 1) == 1 {
			panic("first run dies")
		}
		close(done)
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("panicked goroutine was not restarted")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}

	close(release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after release = %v", err)
	}
}

func TestCounts(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		s.Go0("worker", func(context.Context) { <-release })
	}

	deadline := time.After(2 * time.Second)
	for s.Counts().Active != 3 {
		select {
		case <-deadline:
			t.Fatalf("Active = %d, want 3", s.Counts().Active)
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	c := s.Counts()
	if c.Active != 0 || c.Started != 3 {
		t.Fatalf("Counts = %+v, want 0 active, 3 started", c)
	}
}
