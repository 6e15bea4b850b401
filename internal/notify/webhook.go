package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feedwatch/internal/retry"
	"feedwatch/internal/source"
)

const (
	webhookTimeout   = 10 * time.Second
	descriptionLimit = 500

	colorPost    = 0x5865F2
	colorComment = 0xFEE75C
	colorUnknown = 0x99AAB5
)

// WebhookSink posts matched items to a Discord-compatible webhook as a
// single embed per item.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhook(cfg WebhookConfig) (*WebhookSink, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = webhookTimeout
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}, nil
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, item source.Item, pattern string) error {
	payload := webhookPayload{Embeds: []webhookEmbed{buildEmbed(item, pattern)}}
	b, err := json.Marshal(payload)
	if err != nil {
		return retry.NoRetry(fmt.Errorf("encode webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return retry.NoRetry(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("webhook: status 429")
		if after := parseRetryAfter(resp.Header); after > 0 {
			return retry.RetryAfter(err, after)
		}
		return err
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return retry.NoRetry(fmt.Errorf("webhook: status %d", resp.StatusCode))
	}
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Author      *webhookAuthor `json:"author,omitempty"`
	Footer      *webhookFooter `json:"footer,omitempty"`
}

type webhookAuthor struct {
	Name string `json:"name,omitempty"`
}

type webhookFooter struct {
	Text string `json:"text,omitempty"`
}

func buildEmbed(item source.Item, pattern string) webhookEmbed {
	e := webhookEmbed{
		Title:       embedTitle(item),
		URL:         item.URL,
		Description: truncate(item.Body, descriptionLimit),
		Color:       colorForKind(item.Kind),
		Footer:      &webhookFooter{Text: fmt.Sprintf("%s matched %q", item.Source, pattern)},
	}
	if item.Author != "" {
		e.Author = &webhookAuthor{Name: item.Author}
	}
	if !item.PostedAt.IsZero() {
		e.Timestamp = item.PostedAt.UTC().Format(time.RFC3339)
	}
	return e
}

func embedTitle(item source.Item) string {
	if strings.TrimSpace(item.Title) != "" {
		return truncate(item.Title, 256)
	}
	return "New " + string(item.Kind)
}

func colorForKind(k source.Kind) int {
	switch k {
	case source.KindPost:
		return colorPost
	case source.KindComment:
		return colorComment
	}
	return colorUnknown
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	// Discord reports fractional seconds; the standard header is integral.
	sec, err := strconv.ParseFloat(v, 64)
	if err != nil || sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}
