package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Sources is the fixed set of feeds the daemon polls, in rotation order.
	Sources []SourceConfig `json:"sources"`

	// Patterns are case-insensitive regular expressions matched against item
	// title and body. A plain word works as a substring match.
	Patterns []string `json:"patterns"`

	Budget BudgetConfig `json:"budget,omitempty"`
	Fetch  FetchConfig  `json:"fetch,omitempty"`
	Notify NotifyConfig `json:"notify"`

	// Store controls seen-item persistence. It is required: deduplication
	// across restarts is the point of the daemon.
	Store StoreConfig `json:"store"`

	Pprof PprofConfig `json:"pprof,omitempty"`
}

// SourceConfig declares one polled feed.
//
// kind "reddit" reads subreddit, categories and limit; kind "rss" reads url.
type SourceConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	Subreddit  string   `json:"subreddit,omitempty"`
	Categories []string `json:"categories,omitempty"` // default: ["posts"]
	Limit      int      `json:"limit,omitempty"`      // items per fetch, max 100

	URL string `json:"url,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BudgetConfig controls poll admission and spacing.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type BudgetConfig struct {
	// Mode "adaptive" (default) paces polls from live rate-limit feedback;
	// "static" ignores feedback and spaces purely from FallbackPerMinute.
	Mode string `json:"mode,omitempty"`

	// FallbackPerMinute is the assumed request budget when no live rate
	// snapshot exists. Default 10.
	FallbackPerMinute float64 `json:"fallback_per_minute,omitempty"`

	// CostPerPoll overrides the derived per-cycle request cost (normally the
	// widest source's category count).
	CostPerPoll float64 `json:"cost_per_poll,omitempty"`

	// IdleWait is the sleep between checks while no sources are configured.
	IdleWait string `json:"idle_wait,omitempty"`
}

type FetchConfig struct {
	// Timeout bounds a single upstream request. Default 30s.
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Limit is the default items-per-fetch for sources that don't set one.
	Limit int `json:"limit,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`
}

// RetryConfig mirrors retry.Policy with duration strings.
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
}

type NotifyConfig struct {
	// Sink selects the delivery backend: "webhook" or "telegram".
	Sink string `json:"sink"`

	RatePerSec  float64     `json:"rate_per_sec,omitempty"`
	HistorySize int         `json:"history_size,omitempty"`
	Retry       RetryConfig `json:"retry,omitempty"`

	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type WebhookConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// StoreConfig controls the seen-item persistence layer.
//
// Example:
//
//	"store": { "driver": "file", "path": "./feedwatch_seen.json" }
type StoreConfig struct {
	Driver   string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes,omitempty"`

	// SaveEvery is the periodic flush interval. Default "2m".
	SaveEvery string `json:"save_every,omitempty"`

	// Retention drops records older than this during the daily report job.
	// Empty keeps records until size pruning removes them.
	Retention string `json:"retention,omitempty"`

	// ReportAt is a daily "HH:MM" at which store size and age are logged.
	ReportAt string `json:"report_at,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
