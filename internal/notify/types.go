package notify

import "time"

// Config controls notification delivery.
type Config struct {
	Sink        string  // "webhook" or "telegram"
	RatePerSec  float64 // delivery pacing; also the burst size
	HistorySize int
	Webhook     WebhookConfig
	Telegram    TelegramConfig
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Delivery is one entry in the in-memory history.
type Delivery struct {
	ID      string
	At      time.Time
	Source  string
	ItemID  string
	Pattern string
	Error   string // empty on success
}

// DeliveryEvent is emitted on the event bus for delivery outcomes.
// Keep it small; Data may be logged/serialized by subscribers.
type DeliveryEvent struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	ItemID  string    `json:"item_id"`
	Kind    string    `json:"kind"`
	Pattern string    `json:"pattern"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
