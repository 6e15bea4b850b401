package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedwatch/internal/retry"
	"feedwatch/internal/source"
)

func testItem() source.Item {
	return source.Item{
		ID:       "t3_abc",
		Kind:     source.KindPost,
		Source:   "r-golang",
		Title:    "Big news",
		Body:     "something happened",
		Author:   "alice",
		URL:      "https://www.reddit.com/r/golang/comments/abc/",
		PostedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestWebhookSendPostsEmbed(t *testing.T) {
	var (
		got         webhookPayload
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhook(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	if err := sink.Send(context.Background(), testItem(), "news"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if contentType != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", contentType)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("got %d embeds, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Big news" || e.Description != "something happened" {
		t.Fatalf("embed = %+v, want title and body carried over", e)
	}
	if e.Color != colorPost {
		t.Fatalf("Color = %#x, want %#x for posts", e.Color, colorPost)
	}
	if e.Author == nil || e.Author.Name != "alice" {
		t.Fatalf("Author = %+v, want alice", e.Author)
	}
	if e.Footer == nil || !strings.Contains(e.Footer.Text, `"news"`) {
		t.Fatalf("Footer = %+v, want matched pattern", e.Footer)
	}
	if e.Timestamp == "" {
		t.Fatal("Timestamp empty, want RFC3339 posted time")
	}
}

func TestWebhookTruncatesLongBodies(t *testing.T) {
	item := testItem()
	item.Body = strings.Repeat("x", descriptionLimit+100)

	e := buildEmbed(item, "p")

	if got, want := len([]rune(e.Description)), descriptionLimit+3; got != want {
		t.Fatalf("description length = %d, want %d", got, want)
	}
	if !strings.HasSuffix(e.Description, "...") {
		t.Fatal("truncated description missing ellipsis")
	}
}

func TestWebhookCommentColor(t *testing.T) {
	item := testItem()
	item.Kind = source.KindComment

	if e := buildEmbed(item, "p"); e.Color != colorComment {
		t.Fatalf("Color = %#x, want %#x for comments", e.Color, colorComment)
	}
}

func TestWebhookEmbedTitleFallback(t *testing.T) {
	item := testItem()
	item.Kind = source.KindComment
	item.Title = ""

	if e := buildEmbed(item, "p"); e.Title != "New comment" {
		t.Fatalf("Title = %q, want fallback", e.Title)
	}
}

func TestWebhook429CarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2.5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink, _ := NewWebhook(WebhookConfig{URL: srv.URL})
	err := sink.Send(context.Background(), testItem(), "p")
	if err == nil {
		t.Fatal("Send on 429 returned nil error")
	}
	var ra retry.RetryAfterError
	if !errors.As(err, &ra) {
		t.Fatalf("error %v carries no retry-after hint", err)
	}
	if got, want := ra.RetryAfter(), 2500*time.Millisecond; got != want {
		t.Fatalf("RetryAfter = %v, want %v", got, want)
	}
}

func TestWebhook404IsNoRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sink, _ := NewWebhook(WebhookConfig{URL: srv.URL})
	if err := sink.Send(context.Background(), testItem(), "p"); !retry.IsNoRetry(err) {
		t.Fatalf("404 error = %v, want no-retry", err)
	}
}

func TestWebhook500IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, _ := NewWebhook(WebhookConfig{URL: srv.URL})
	err := sink.Send(context.Background(), testItem(), "p")
	if err == nil {
		t.Fatal("Send on 502 returned nil error")
	}
	if retry.IsNoRetry(err) {
		t.Fatalf("502 error = %v marked no-retry, want transient", err)
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook(WebhookConfig{}); err == nil {
		t.Fatal("NewWebhook without url returned nil error")
	}
}
