// Package search provides web search provider clients.
package search

import "context"

// DefaultMaxResults bounds how many results a provider returns.
const DefaultMaxResults = 5

// Client is a web search provider. An empty result set is a success.
type Client interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Result is one ranked search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}
