package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/petal-labs/finagent/tool"
	"github.com/petal-labs/finagent/upstream"
)

func newTavily(t *testing.T, handler http.HandlerFunc) *Tavily {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := TavilyUpstream("tvly-test", upstream.Config{BaseURL: server.URL})
	return NewTavily(upstream.New(cfg), WithMaxResults(3))
}

func TestTavilySearch(t *testing.T) {
	client := newTavily(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tvly-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Query != "nvidia earnings" || body.MaxResults != 3 {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"results":[
			{"title":"NVIDIA Q4","url":"https://example.com/q4","content":"Revenue rose.","score":0.91},
			{"title":"Analysts react","url":"https://example.com/r","content":"Mixed.","score":0.55}
		]}`))
	})

	results, err := client.Search(context.Background(), "nvidia earnings")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 || results[0].Title != "NVIDIA Q4" || results[0].Snippet != "Revenue rose." {
		t.Fatalf("results = %+v", results)
	}
}

func TestTavilyEmptyResultsIsSuccess(t *testing.T) {
	client := newTavily(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	results, err := client.Search(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("results = %#v, want empty slice", results)
	}
}

func TestTavilyFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason string
	}{
		{name: "bad key", status: http.StatusUnauthorized, reason: upstream.ReasonAuth},
		{name: "plan limit", status: 432, reason: upstream.ReasonQuota},
		{name: "endpoint missing", status: http.StatusNotFound, reason: upstream.ReasonStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTavily(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.Search(context.Background(), "q")
			toolErr, ok := tool.AsError(err)
			if !ok || toolErr.Kind != tool.KindUpstream {
				t.Fatalf("Search() error = %v, want UpstreamError", err)
			}
			if toolErr.Details["reason"] != tt.reason {
				t.Fatalf("reason = %v, want %s", toolErr.Details["reason"], tt.reason)
			}
		})
	}
}

const duckPage = `<html><body>
<div class="result results_links result--ad">
  <h2 class="result__title"><a class="result__a" href="https://ads.example.com">Sponsored</a></h2>
</div>
<div class="result results_links web-result">
  <h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fnvda&amp;rut=abc">NVDA stock</a></h2>
  <a class="result__snippet" href="#">Shares of <b>NVIDIA</b> climbed.</a>
</div>
<div class="result results_links web-result">
  <h2 class="result__title"><a class="result__a" href="https://example.org/chips">Chip outlook</a></h2>
  <a class="result__snippet" href="#">Demand stays strong.</a>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/html/" || r.URL.Query().Get("q") != "nvda" {
			t.Errorf("request = %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(duckPage))
	}))
	defer server.Close()

	client := NewDuckDuckGo(upstream.New(upstream.Config{Name: "duckduckgo", BaseURL: server.URL}), 5)
	results, err := client.Search(context.Background(), "nvda")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (ad skipped): %+v", len(results), results)
	}
	if results[0].URL != "https://example.com/nvda" {
		t.Fatalf("URL = %q, want redirect unwrapped", results[0].URL)
	}
	if !strings.Contains(results[0].Snippet, "NVIDIA") || strings.Contains(results[0].Snippet, "<b>") {
		t.Fatalf("snippet = %q", results[0].Snippet)
	}
	if results[1].Title != "Chip outlook" {
		t.Fatalf("second title = %q", results[1].Title)
	}
}

func TestDuckDuckGoRespectsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(duckPage))
	}))
	defer server.Close()

	client := NewDuckDuckGo(upstream.New(upstream.Config{Name: "duckduckgo", BaseURL: server.URL}), 1)
	results, err := client.Search(context.Background(), "nvda")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}
