package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedwatch/internal/budget"
	"feedwatch/internal/retry"
)

const (
	rssTimeout   = 30 * time.Second
	rssUserAgent = "feedwatch/1.0"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// RSSFetcher polls a single RSS/Atom feed. Feeds carry no rate-limit
// headers, so Fetch always reports nil feedback and the static budget
// governs pacing.
type RSSFetcher struct {
	name   string
	url    string
	parser *gofeed.Parser
}

type RSSConfig struct {
	Name      string
	URL       string
	Timeout   time.Duration // default 30s
	UserAgent string
}

func NewRSS(cfg RSSConfig) (*RSSFetcher, error) {
	feedURL := strings.TrimSpace(cfg.URL)
	if feedURL == "" {
		return nil, errors.New("rss: feed url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = rssTimeout
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = rssUserAgent
	}

	fp := gofeed.NewParser()
	fp.Client = &http.Client{
		Timeout:   timeout,
		Transport: &uaTransport{base: http.DefaultTransport, agent: ua},
	}
	return &RSSFetcher{name: cfg.Name, url: feedURL, parser: fp}, nil
}

func (f *RSSFetcher) Name() string { return f.name }

func (f *RSSFetcher) Categories() []Category { return []Category{CategoryPosts} }

func (f *RSSFetcher) Fetch(ctx context.Context, cat Category) ([]Item, *budget.Snapshot, error) {
	if cat != CategoryPosts {
		return nil, nil, retry.NoRetry(fmt.Errorf("rss %s: unsupported category %q", f.name, cat))
	}
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, nil, classifyRSSError(f.url, err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		// GUID is the canonical identity; older feeds omit it and the
		// link has to serve.
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if id == "" {
			continue
		}
		items = append(items, Item{
			ID:       id,
			Kind:     KindPost,
			Source:   f.name,
			Title:    entry.Title,
			Body:     entryBody(entry),
			Author:   entryAuthor(entry),
			URL:      entry.Link,
			PostedAt: entryPublishedTime(entry),
		})
	}
	return items, nil, nil
}

// classifyRSSError separates what a retry can fix from what it cannot: a URL
// serving something that is not a feed, or a client-error status, stays broken
// across attempts. 429 and 5xx are transient like transport errors.
func classifyRSSError(url string, err error) error {
	wrapped := fmt.Errorf("fetch %s: %w", url, err)
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return retry.NoRetry(wrapped)
	}
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) &&
		httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
		httpErr.StatusCode != http.StatusTooManyRequests {
		return retry.NoRetry(wrapped)
	}
	return wrapped
}

// uaTransport injects a User-Agent header into every request gofeed makes.
type uaTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

func entryPublishedTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

func entryAuthor(entry *gofeed.Item) string {
	if entry.Author != nil && entry.Author.Name != "" {
		return entry.Author.Name
	}
	for _, a := range entry.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

func entryBody(entry *gofeed.Item) string {
	raw := entry.Content
	if raw == "" {
		raw = entry.Description
	}
	return stripHTML(raw)
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
