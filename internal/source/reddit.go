package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feedwatch/internal/budget"
	"feedwatch/internal/retry"
)

const (
	redditBaseURL   = "https://www.reddit.com"
	redditTimeout   = 30 * time.Second
	redditUserAgent = "feedwatch/1.0"
	redditMaxLimit  = 100
)

// RedditFetcher polls a subreddit's newest posts and comments via the public
// JSON listings. No authentication; the anonymous rate budget applies and is
// reported back through X-Ratelimit headers.
type RedditFetcher struct {
	name      string
	subreddit string
	cats      []Category
	limit     int
	client    *http.Client
	baseURL   string
	userAgent string
}

type RedditConfig struct {
	Name       string
	Subreddit  string
	Categories []Category    // default: posts only
	Limit      int           // default and max 100
	Timeout    time.Duration // default 30s
	UserAgent  string
}

func NewReddit(cfg RedditConfig) (*RedditFetcher, error) {
	sub := strings.TrimSpace(cfg.Subreddit)
	if sub == "" {
		return nil, errors.New("reddit: subreddit is required")
	}
	cats := cfg.Categories
	if len(cats) == 0 {
		cats = []Category{CategoryPosts}
	}
	for _, c := range cats {
		if c != CategoryPosts && c != CategoryComments {
			return nil, fmt.Errorf("reddit: unsupported category %q", c)
		}
	}
	limit := cfg.Limit
	if limit <= 0 || limit > redditMaxLimit {
		limit = redditMaxLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = redditTimeout
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = redditUserAgent
	}
	return &RedditFetcher{
		name:      cfg.Name,
		subreddit: sub,
		cats:      cats,
		limit:     limit,
		client:    &http.Client{Timeout: timeout},
		baseURL:   redditBaseURL,
		userAgent: ua,
	}, nil
}

func (f *RedditFetcher) Name() string { return f.name }

func (f *RedditFetcher) Categories() []Category { return f.cats }

func (f *RedditFetcher) Fetch(ctx context.Context, cat Category) ([]Item, *budget.Snapshot, error) {
	path, kind := "new", KindPost
	if cat == CategoryComments {
		path, kind = "comments", KindComment
	}
	url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d&raw_json=1", f.baseURL, f.subreddit, path, f.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, retry.NoRetry(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch r/%s %s: %w", f.subreddit, cat, err)
	}
	defer func() { _ = resp.Body.Close() }()

	fb := rateFeedback(resp.Header)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("r/%s %s: status 429", f.subreddit, cat)
		if after := retryAfterHeader(resp.Header); after > 0 {
			return nil, fb, retry.RetryAfter(err, after)
		}
		return nil, fb, err
	case resp.StatusCode >= 500:
		return nil, fb, fmt.Errorf("r/%s %s: status %d", f.subreddit, cat, resp.StatusCode)
	default:
		return nil, fb, retry.NoRetry(fmt.Errorf("r/%s %s: status %d", f.subreddit, cat, resp.StatusCode))
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fb, retry.NoRetry(fmt.Errorf("decode r/%s %s: %w", f.subreddit, cat, err))
	}
	return f.itemsFromListing(listing, kind), fb, nil
}

func (f *RedditFetcher) itemsFromListing(l redditListing, kind Kind) []Item {
	items := make([]Item, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		d := child.Data
		// The fullname ("t3_..." for posts, "t1_..." for comments) is the
		// stable, kind-unique identity.
		if d.Name == "" {
			continue
		}
		it := Item{
			ID:       d.Name,
			Kind:     kind,
			Source:   f.name,
			Author:   d.Author,
			URL:      redditBaseURL + d.Permalink,
			PostedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
		}
		if kind == KindComment {
			it.Title = d.LinkTitle
			it.Body = d.Body
		} else {
			it.Title = d.Title
			it.Body = d.Selftext
		}
		items = append(items, it)
	}
	return items
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditThing `json:"data"`
}

type redditThing struct {
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Body       string  `json:"body"`       // comments only
	LinkTitle  string  `json:"link_title"` // comments only
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

// rateFeedback parses the X-Ratelimit headers. Remaining and Reset must both
// be present for a usable snapshot; Used is best effort.
func rateFeedback(h http.Header) *budget.Snapshot {
	remaining, okR := headerFloat(h, "X-Ratelimit-Remaining")
	reset, okS := headerFloat(h, "X-Ratelimit-Reset")
	if !okR || !okS {
		return nil
	}
	used, _ := headerFloat(h, "X-Ratelimit-Used")
	return &budget.Snapshot{
		Used:      used,
		Remaining: remaining,
		ResetIn:   time.Duration(reset * float64(time.Second)),
	}
}

func headerFloat(h http.Header, key string) (float64, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func retryAfterHeader(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}
