// Package search defines the search-enrichment provider interface used
// both by the article generation handler (snippet context per keyword)
// and the trendingwatch built-in handler (trending-topics snapshot).
// spec.md §1 scopes the concrete provider out as an opaque
// request/response contract; this package is that contract plus a stub
// implementation for when no SEARCH_API_KEY is configured.
package search

import "context"

// Result is one search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Provider fetches enrichment snippets and trending-topic snapshots.
// Absence of a configured API key is not an error at this layer: the
// NoopProvider below always returns an empty result set, and callers
// (spec.md §4.6 step 1) proceed with empty context rather than failing.
type Provider interface {
	// Search returns up to n snippets relevant to query.
	Search(ctx context.Context, query string, n int) ([]Result, error)
	// Trending returns up to n trending topics, most significant first.
	Trending(ctx context.Context, n int) ([]Result, error)
}

// NoopProvider is used when no search key is configured. It always
// succeeds with an empty result set.
type NoopProvider struct{}

func (NoopProvider) Search(context.Context, string, int) ([]Result, error) { return nil, nil }

func (NoopProvider) Trending(context.Context, int) ([]Result, error) { return nil, nil }

var _ Provider = NoopProvider{}
