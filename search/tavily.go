package search

import (
	"context"
	"strings"

	"github.com/petal-labs/finagent/upstream"
)

// TavilyBaseURL is the Tavily API host.
const TavilyBaseURL = "https://api.tavily.com"

// Tavily queries the Tavily search API.
type Tavily struct {
	http       *upstream.Client
	maxResults int
	depth      string
}

// TavilyOption configures a Tavily client.
type TavilyOption func(*Tavily)

// WithMaxResults caps the number of results per query.
func WithMaxResults(n int) TavilyOption {
	return func(t *Tavily) {
		if n > 0 {
			t.maxResults = n
		}
	}
}

// WithSearchDepth selects "basic" or "advanced" search.
func WithSearchDepth(depth string) TavilyOption {
	return func(t *Tavily) {
		if depth = strings.TrimSpace(depth); depth != "" {
			t.depth = depth
		}
	}
}

// TavilyUpstream returns the upstream configuration for Tavily with bearer
// credentials applied on top of base.
func TavilyUpstream(apiKey string, base upstream.Config) upstream.Config {
	cfg := base
	cfg.Name = "tavily"
	if cfg.BaseURL == "" {
		cfg.BaseURL = TavilyBaseURL
	}
	cfg.Headers = make(map[string]string, len(base.Headers)+1)
	for key, value := range base.Headers {
		cfg.Headers[key] = value
	}
	cfg.Headers["Authorization"] = "Bearer " + strings.TrimSpace(apiKey)
	return cfg
}

// NewTavily wraps an upstream client configured with TavilyUpstream.
func NewTavily(client *upstream.Client, opts ...TavilyOption) *Tavily {
	t := &Tavily{http: client, maxResults: DefaultMaxResults, depth: "basic"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Client = (*Tavily)(nil)

type tavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs query. Auth and quota failures come back as UpstreamError with
// details.reason set to "auth" or "quota".
func (t *Tavily) Search(ctx context.Context, query string) ([]Result, error) {
	var resp tavilyResponse
	err := t.http.PostJSON(ctx, "/search", tavilyRequest{
		Query:       query,
		MaxResults:  t.maxResults,
		SearchDepth: t.depth,
	}, &resp)
	if err != nil {
		return nil, upstream.MissingAsUpstream(err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.URL,
			Snippet: strings.TrimSpace(r.Content),
			Score:   r.Score,
		})
	}
	return results, nil
}
