package config

import (
	"testing"
	"time"

	"feedwatch/internal/retry"
)

func validConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Sources: []SourceConfig{
			{Name: "golang", Kind: "reddit", Subreddit: "golang", Categories: []string{"posts", "comments"}},
			{Name: "releases", Kind: "rss", URL: "https://example.com/feed.xml"},
		},
		Patterns: []string{"cve", "breach"},
		Budget:   BudgetConfig{Mode: "adaptive", FallbackPerMinute: 10, IdleWait: "15s"},
		Fetch:    FetchConfig{Timeout: "20s", Retry: RetryConfig{MaxAttempts: 4, BaseDelay: "1s", MaxDelay: "1m"}},
		Notify: NotifyConfig{
			Sink:    "webhook",
			Webhook: &WebhookConfig{URL: "https://discord.test/hook", Timeout: "10s"},
		},
		Store: StoreConfig{Driver: "file", Path: "./seen.json", SaveEvery: "2m", ReportAt: "06:30"},
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"blank source name", func(c *Config) { c.Sources[0].Name = " " }},
		{"duplicate source name", func(c *Config) { c.Sources[1].Name = c.Sources[0].Name }},
		{"reddit without subreddit", func(c *Config) { c.Sources[0].Subreddit = "" }},
		{"bad category", func(c *Config) { c.Sources[0].Categories = []string{"upvotes"} }},
		{"rss without url", func(c *Config) { c.Sources[1].URL = "" }},
		{"rss with categories", func(c *Config) { c.Sources[1].Categories = []string{"posts"} }},
		{"unknown kind", func(c *Config) { c.Sources[0].Kind = "usenet" }},
		{"negative limit", func(c *Config) { c.Sources[0].Limit = -1 }},
		{"no patterns", func(c *Config) { c.Patterns = nil }},
		{"invalid pattern", func(c *Config) { c.Patterns = []string{"["} }},
		{"bad budget mode", func(c *Config) { c.Budget.Mode = "burst" }},
		{"negative fallback", func(c *Config) { c.Budget.FallbackPerMinute = -1 }},
		{"bad idle wait", func(c *Config) { c.Budget.IdleWait = "soon" }},
		{"bad fetch timeout", func(c *Config) { c.Fetch.Timeout = "-5s" }},
		{"unknown sink", func(c *Config) { c.Notify.Sink = "carrier-pigeon" }},
		{"webhook without url", func(c *Config) { c.Notify.Webhook = nil }},
		{"telegram without chat id", func(c *Config) {
			c.Notify.Sink = "telegram"
			c.Notify.Telegram = &TelegramConfig{Token: "t"}
		}},
		{"store without path", func(c *Config) { c.Store.Path = "" }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"bad save_every", func(c *Config) { c.Store.SaveEvery = "hourly" }},
		{"bad report_at", func(c *Config) { c.Store.ReportAt = "25:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("Validate err = nil, want error")
			}
		})
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	def := retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute}

	p, err := RetryConfig{}.Policy("fetch.retry", def)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if p != def {
		t.Fatalf("empty override = %+v, want defaults %+v", p, def)
	}

	p, err = RetryConfig{MaxAttempts: 2, BaseDelay: "250ms"}.Policy("fetch.retry", def)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if p.MaxAttempts != 2 || p.BaseDelay != 250*time.Millisecond || p.MaxDelay != time.Minute {
		t.Fatalf("partial override = %+v", p)
	}

	if _, err := (RetryConfig{BaseDelay: "fast"}).Policy("fetch.retry", def); err == nil {
		t.Fatal("Policy err = nil for invalid duration")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		raw     string
		hour    int
		minute  int
		wantErr bool
	}{
		{"06:30", 6, 30, false},
		{" 09:05 ", 9, 5, false},
		{"23:59", 23, 59, false},
		{"", 0, 0, false},
		{"25:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12", 0, 0, true},
		{"noon", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			h, m, err := ParseClock("store.report_at", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClock(%q) err = nil", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q): %v", tt.raw, err)
			}
			if h != tt.hour || m != tt.minute {
				t.Fatalf("ParseClock(%q) = %d:%d, want %d:%d", tt.raw, h, m, tt.hour, tt.minute)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 10s "); err != nil || d != 10*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "later"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}
