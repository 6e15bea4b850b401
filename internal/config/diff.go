package config

import (
	"reflect"
	"sort"
	"strings"

	logx "feedwatch/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (tokens, webhook URLs) are reported
// only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.Int("sources.count", len(newCfg.Sources)),
			logx.String("sources.names", strings.Join(sourceNames(newCfg.Sources), ",")),
		)
	}

	// Patterns can be sensitive search terms; report the count only.
	if !reflect.DeepEqual(oldCfg.Patterns, newCfg.Patterns) {
		changed = append(changed, "patterns")
		attrs = append(attrs, logx.Int("patterns.count", len(newCfg.Patterns)))
	}

	if oldCfg.Budget != newCfg.Budget {
		changed = append(changed, "budget")
		attrs = append(attrs,
			logx.String("budget.mode", strings.TrimSpace(newCfg.Budget.Mode)),
			logx.Float64("budget.fallback_per_minute", newCfg.Budget.FallbackPerMinute),
			logx.Float64("budget.cost_per_poll", newCfg.Budget.CostPerPoll),
			logx.String("budget.idle_wait", strings.TrimSpace(newCfg.Budget.IdleWait)),
		)
	}

	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		attrs = append(attrs,
			logx.String("fetch.timeout", strings.TrimSpace(newCfg.Fetch.Timeout)),
			logx.Int("fetch.limit", newCfg.Fetch.Limit),
			logx.Int("fetch.retry_max", newCfg.Fetch.Retry.MaxAttempts),
		)
	}

	// Notify (never log the token or webhook URL)
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.sink", strings.TrimSpace(newCfg.Notify.Sink)),
			logx.Float64("notify.rate_per_sec", newCfg.Notify.RatePerSec),
			logx.Int("notify.history_size", newCfg.Notify.HistorySize),
			logx.Bool("notify.webhook_set", newCfg.Notify.Webhook != nil && strings.TrimSpace(newCfg.Notify.Webhook.URL) != ""),
			logx.Bool("notify.telegram_set", newCfg.Notify.Telegram != nil && strings.TrimSpace(newCfg.Notify.Telegram.Token) != ""),
		)
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
			logx.String("store.save_every", strings.TrimSpace(newCfg.Store.SaveEvery)),
			logx.String("store.retention", strings.TrimSpace(newCfg.Store.Retention)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// StoreRestartRequired reports whether a store change cannot be applied live.
// Driver and path switches need a restart; the running loop keeps the old store.
func StoreRestartRequired(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(oldCfg.Store.Driver), strings.TrimSpace(newCfg.Store.Driver)) ||
		strings.TrimSpace(oldCfg.Store.Path) != strings.TrimSpace(newCfg.Store.Path)
}

func sourceNames(list []SourceConfig) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, strings.TrimSpace(s.Name))
	}
	return out
}
