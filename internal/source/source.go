// Package source fetches items from upstream feeds and normalizes them.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedwatch/internal/budget"
)

// Kind is the closed set of item variants.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// Category is one upstream listing to poll. A source's poll cost equals the
// number of categories it fetches.
type Category string

const (
	CategoryPosts    Category = "posts"
	CategoryComments Category = "comments"
)

// ParseCategory maps a config-supplied name to a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryPosts:
		return CategoryPosts, nil
	case CategoryComments:
		return CategoryComments, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Item is a single fetched entry, normalized across source kinds.
// ID is source-scoped and stable across fetches; it is the dedup key.
type Item struct {
	ID       string
	Kind     Kind
	Source   string
	Title    string
	Body     string
	Author   string
	URL      string
	PostedAt time.Time
}

// Fetcher pulls the newest items for one configured source.
//
// Fetch returns rate-limit feedback when the upstream provides it; nil means
// no feedback. Feedback may accompany an error, since a rejected request
// still carries rate headers.
type Fetcher interface {
	Name() string
	Categories() []Category
	Fetch(ctx context.Context, cat Category) ([]Item, *budget.Snapshot, error)
}
