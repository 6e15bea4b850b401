package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/notify"
	"feedwatch/internal/observability/pprof"
	"feedwatch/internal/poll"
	"feedwatch/internal/retry"
	"feedwatch/internal/seen"
	"feedwatch/internal/source"
	logx "feedwatch/pkg/logx"
)

// The mapXConfig functions convert the JSON config into runtime component
// configs, parsing duration strings and applying defaults. They never start
// anything, so the reload validator can call them to reject a bad config
// before it is published.

// CheckConfig runs schema validation plus every component mapping. The
// checkconfig command and the reload validator share it, so a config that any
// component would refuse to apply never gets committed.
func CheckConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapPollConfig(cfg); err != nil {
		return err
	}
	if _, err := buildFetchers(cfg); err != nil {
		return err
	}
	if _, err := mapNotifyConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSeenConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenanceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPollConfig(cfg *config.Config) (poll.Config, error) {
	idle, err := config.ParseDurationOrDefault("budget.idle_wait", cfg.Budget.IdleWait, 15*time.Second)
	if err != nil {
		return poll.Config{}, err
	}
	fetchRetry, err := cfg.Fetch.Retry.Policy("fetch.retry",
		retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute})
	if err != nil {
		return poll.Config{}, err
	}
	notifyRetry, err := cfg.Notify.Retry.Policy("notify.retry",
		retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second})
	if err != nil {
		return poll.Config{}, err
	}
	return poll.Config{
		FallbackPerMinute: cfg.Budget.FallbackPerMinute,
		CostPerPoll:       cfg.Budget.CostPerPoll,
		IdleWait:          idle,
		StaticPacing:      strings.EqualFold(strings.TrimSpace(cfg.Budget.Mode), "static"),
		FetchRetry:        fetchRetry,
		NotifyRetry:       notifyRetry,
	}, nil
}

// buildFetchers constructs one fetcher per configured source, in config
// order. The order matters: the rotation ledger breaks ties by it.
func buildFetchers(cfg *config.Config) ([]source.Fetcher, error) {
	timeout, err := config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	ua := strings.TrimSpace(cfg.Fetch.UserAgent)

	fetchers := make([]source.Fetcher, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(sc.Kind)) {
		case "reddit":
			cats, err := mapCategories(sc.Categories)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			limit := sc.Limit
			if limit == 0 {
				limit = cfg.Fetch.Limit
			}
			f, err := source.NewReddit(source.RedditConfig{
				Name:       sc.Name,
				Subreddit:  sc.Subreddit,
				Categories: cats,
				Limit:      limit,
				Timeout:    timeout,
				UserAgent:  ua,
			})
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			fetchers = append(fetchers, f)
		case "rss":
			f, err := source.NewRSS(source.RSSConfig{
				Name:      sc.Name,
				URL:       sc.URL,
				Timeout:   timeout,
				UserAgent: ua,
			})
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			fetchers = append(fetchers, f)
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", sc.Name, sc.Kind)
		}
	}
	return fetchers, nil
}

func mapCategories(raw []string) ([]source.Category, error) {
	if len(raw) == 0 {
		return []source.Category{source.CategoryPosts}, nil
	}
	cats := make([]source.Category, 0, len(raw))
	for _, r := range raw {
		c, err := source.ParseCategory(r)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	out := notify.Config{
		Sink:        cfg.Notify.Sink,
		RatePerSec:  cfg.Notify.RatePerSec,
		HistorySize: cfg.Notify.HistorySize,
	}
	if cfg.Notify.Webhook != nil {
		t, err := config.ParseDurationOrDefault("notify.webhook.timeout", cfg.Notify.Webhook.Timeout, 10*time.Second)
		if err != nil {
			return notify.Config{}, err
		}
		out.Webhook = notify.WebhookConfig{URL: cfg.Notify.Webhook.URL, Timeout: t}
	}
	if cfg.Notify.Telegram != nil {
		out.Telegram = notify.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
		}
	}
	return out, nil
}

func mapSeenConfig(cfg *config.Config) (seen.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return seen.Config{}, err
	}
	return seen.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		MaxBytes:    cfg.Store.MaxBytes,
		BusyTimeout: busy,
	}, nil
}

func mapMaintenanceConfig(cfg *config.Config) (maintenanceConfig, error) {
	saveEvery, err := config.ParseDurationOrDefault("store.save_every", cfg.Store.SaveEvery, 2*time.Minute)
	if err != nil {
		return maintenanceConfig{}, err
	}
	retention, err := config.ParseDurationField("store.retention", cfg.Store.Retention)
	if err != nil {
		return maintenanceConfig{}, err
	}
	hour, minute, err := config.ParseClock("store.report_at", cfg.Store.ReportAt)
	if err != nil {
		return maintenanceConfig{}, err
	}
	return maintenanceConfig{
		SaveEvery:    saveEvery,
		Retention:    retention,
		ReportHour:   hour,
		ReportMinute: minute,
		ReportSet:    strings.TrimSpace(cfg.Store.ReportAt) != "",
		StorePath:    strings.TrimSpace(cfg.Store.Path),
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	out := pprof.Config{
		Enabled:       pc.Enabled,
		Addr:          strings.TrimSpace(pc.Addr),
		Prefix:        strings.TrimSpace(pc.Prefix),
		Token:         strings.TrimSpace(pc.Token),
		AllowInsecure: pc.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}

	readTO, err := config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	// WriteTimeout stays 0 unless set; /profile needs 30s+.
	writeTO, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO
	out.IdleTimeout = idleTO

	if pc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("pprof.mutex_profile_fraction must be >= 0")
	}
	if pc.BlockProfileRate < 0 {
		return out, fmt.Errorf("pprof.block_profile_rate must be >= 0")
	}
	if pc.MemProfileRate < 0 {
		return out, fmt.Errorf("pprof.mem_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = pc.MutexProfileFraction
	out.BlockProfileRate = pc.BlockProfileRate
	out.MemProfileRate = pc.MemProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("pprof.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !loopbackAddr(out.Addr) {
			return out, fmt.Errorf("pprof: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

func loopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
