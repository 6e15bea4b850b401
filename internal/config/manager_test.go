package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
sources:
  - name: golang
    kind: reddit
    subreddit: golang
    categories: [posts, comments]
    limit: 50
  - name: releases
    kind: rss
    url: https://example.com/feed.xml
patterns:
  - cve
  - "data breach"
budget:
  mode: adaptive
  fallback_per_minute: 10
  idle_wait: 15s
fetch:
  timeout: 20s
  user_agent: feedwatch-test/1.0
  retry:
    max_attempts: 4
    base_delay: 1s
    max_delay: 1m
notify:
  sink: webhook
  rate_per_sec: 1
  history_size: 100
  webhook:
    url: https://discord.test/api/webhooks/x
    timeout: 10s
store:
  driver: file
  path: ./seen.json
  max_bytes: 1048576
  save_every: 2m
  report_at: "06:30"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].Kind != "reddit" || cfg.Sources[0].Subreddit != "golang" || cfg.Sources[0].Limit != 50 {
		t.Fatalf("sources[0] = %+v", cfg.Sources[0])
	}
	if cfg.Sources[1].Kind != "rss" || cfg.Sources[1].URL != "https://example.com/feed.xml" {
		t.Fatalf("sources[1] = %+v", cfg.Sources[1])
	}
	if len(cfg.Patterns) != 2 || cfg.Patterns[1] != "data breach" {
		t.Fatalf("patterns = %v", cfg.Patterns)
	}
	if cfg.Budget.Mode != "adaptive" || cfg.Budget.FallbackPerMinute != 10 {
		t.Fatalf("budget = %+v", cfg.Budget)
	}
	if cfg.Notify.Sink != "webhook" || cfg.Notify.Webhook == nil || cfg.Notify.Webhook.URL == "" {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
	if cfg.Store.MaxBytes != 1048576 || cfg.Store.ReportAt != "06:30" {
		t.Fatalf("store = %+v", cfg.Store)
	}
}

func TestParseJSON(t *testing.T) {
	body := `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "sources": [{"name": "golang", "kind": "reddit", "subreddit": "golang"}],
  "patterns": ["cve"],
  "notify": {"sink": "telegram", "telegram": {"token": "t", "chat_id": 42}},
  "store": {"path": "./seen.json"}
}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Notify.Telegram == nil || cfg.Notify.Telegram.ChatID != 42 {
		t.Fatalf("telegram = %+v", cfg.Notify.Telegram)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	body := sampleYAML + "\nworkers: 4\n"
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse err = nil for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	body := `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"sources":[],"patterns":[],"notify":{"sink":""},"store":{"path":"x"}}{"extra":1}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse err = nil for trailing data")
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get = %p, want the committed config %p", got, cfg)
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Patterns: []string{"a"}}
	second := &Config{Patterns: []string{"b"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got != second {
		t.Fatalf("subscriber got %v, want the newest config", got.Patterns)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra config %v", extra.Patterns)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	// publishing after unsubscribe must not panic
	m.publish(&Config{})
}

func TestHashConfigDetectsContentChange(t *testing.T) {
	a := &Config{Patterns: []string{"cve"}}
	b := &Config{Patterns: []string{"cve"}}
	c := &Config{Patterns: []string{"breach"}}
	if hashConfig(a) != hashConfig(b) {
		t.Fatal("equal configs hash differently")
	}
	if hashConfig(a) == hashConfig(c) {
		t.Fatal("different configs hash the same")
	}
}
