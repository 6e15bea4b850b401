package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: "poll.completed", Data: "golang"})

	select {
	case e := <-ch:
		if e.Type != "poll.completed" {
			t.Fatalf("Type = %q, want %q", e.Type, "poll.completed")
		}
		if e.Time.IsZero() {
			t.Fatalf("Time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // buffer full, must not block

	e := <-ch
	if e.Type != "a" {
		t.Fatalf("Type = %q, want %q", e.Type, "a")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %q", e.Type)
	default:
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic on the closed channel.
	b.Publish(Event{Type: "notify.sent"})
}
