package config

import (
	"fmt"
	"strings"

	"feedwatch/internal/match"
	"feedwatch/internal/retry"
	"feedwatch/internal/source"
)

// Validate checks a parsed config for structural problems. The app installs
// it as the Manager's validator hook so a bad reload never reaches the
// running services; `feedwatch checkconfig` runs the same checks offline.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if len(cfg.Sources) == 0 {
		return fmt.Errorf("sources: at least one source is required")
	}
	names := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		at := fmt.Sprintf("sources[%d]", i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if names[name] {
			return fmt.Errorf("%s: duplicate name %q", at, name)
		}
		names[name] = true

		switch strings.ToLower(strings.TrimSpace(s.Kind)) {
		case "reddit":
			if strings.TrimSpace(s.Subreddit) == "" {
				return fmt.Errorf("%s: subreddit is required for kind reddit", at)
			}
			for _, c := range s.Categories {
				if _, err := source.ParseCategory(c); err != nil {
					return fmt.Errorf("%s: %w", at, err)
				}
			}
		case "rss":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("%s: url is required for kind rss", at)
			}
			if len(s.Categories) > 0 {
				return fmt.Errorf("%s: rss sources take no categories", at)
			}
		default:
			return fmt.Errorf("%s: unknown kind %q", at, s.Kind)
		}
		if s.Limit < 0 {
			return fmt.Errorf("%s: limit must be >= 0", at)
		}
	}

	if len(cfg.Patterns) == 0 {
		return fmt.Errorf("patterns: at least one pattern is required")
	}
	if err := match.Validate(cfg.Patterns); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}

	if err := validateBudget(&cfg.Budget); err != nil {
		return err
	}
	if err := validateFetch(&cfg.Fetch); err != nil {
		return err
	}
	if err := validateNotify(&cfg.Notify); err != nil {
		return err
	}
	if err := validateStore(&cfg.Store); err != nil {
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func validateBudget(b *BudgetConfig) error {
	switch strings.ToLower(strings.TrimSpace(b.Mode)) {
	case "", "adaptive", "static":
	default:
		return fmt.Errorf("budget.mode: must be adaptive or static, got %q", b.Mode)
	}
	if b.FallbackPerMinute < 0 {
		return fmt.Errorf("budget.fallback_per_minute: must be >= 0")
	}
	if b.CostPerPoll < 0 {
		return fmt.Errorf("budget.cost_per_poll: must be >= 0")
	}
	_, err := ParseDurationField("budget.idle_wait", b.IdleWait)
	return err
}

func validateFetch(f *FetchConfig) error {
	if _, err := ParseDurationField("fetch.timeout", f.Timeout); err != nil {
		return err
	}
	if f.Limit < 0 {
		return fmt.Errorf("fetch.limit: must be >= 0")
	}
	return validateRetry("fetch.retry", f.Retry)
}

func validateNotify(n *NotifyConfig) error {
	switch strings.ToLower(strings.TrimSpace(n.Sink)) {
	case "webhook":
		if n.Webhook == nil || strings.TrimSpace(n.Webhook.URL) == "" {
			return fmt.Errorf("notify.webhook.url: required for sink webhook")
		}
		if _, err := ParseDurationField("notify.webhook.timeout", n.Webhook.Timeout); err != nil {
			return err
		}
	case "telegram":
		if n.Telegram == nil || strings.TrimSpace(n.Telegram.Token) == "" {
			return fmt.Errorf("notify.telegram.token: required for sink telegram")
		}
		if n.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id: required for sink telegram")
		}
	default:
		return fmt.Errorf("notify.sink: must be webhook or telegram, got %q", n.Sink)
	}
	if n.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec: must be >= 0")
	}
	if n.HistorySize < 0 {
		return fmt.Errorf("notify.history_size: must be >= 0")
	}
	return validateRetry("notify.retry", n.Retry)
}

func validateStore(s *StoreConfig) error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", s.Driver)
	}
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path: required")
	}
	if s.MaxBytes < 0 {
		return fmt.Errorf("store.max_bytes: must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"store.save_every", s.SaveEvery},
		{"store.retention", s.Retention},
		{"store.busy_timeout", s.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	_, _, err := ParseClock("store.report_at", s.ReportAt)
	return err
}

func validateRetry(path string, r RetryConfig) error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts: must be >= 0", path)
	}
	if _, err := ParseDurationField(path+".base_delay", r.BaseDelay); err != nil {
		return err
	}
	_, err := ParseDurationField(path+".max_delay", r.MaxDelay)
	return err
}

// Policy converts to a retry.Policy, keeping def for omitted fields.
func (r RetryConfig) Policy(path string, def retry.Policy) (retry.Policy, error) {
	p := def
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if d, err := ParseDurationField(path+".base_delay", r.BaseDelay); err != nil {
		return p, err
	} else if d > 0 {
		p.BaseDelay = d
	}
	if d, err := ParseDurationField(path+".max_delay", r.MaxDelay); err != nil {
		return p, err
	} else if d > 0 {
		p.MaxDelay = d
	}
	return p, nil
}
