package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/finagent/tool"
)

type retryRecorder struct {
	mu      sync.Mutex
	retries []tool.RetryObservation
}

func (r *retryRecorder) ObserveInvoke(tool.InvokeObservation) {}

func (r *retryRecorder) ObserveRetry(obs tool.RetryObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, obs)
}

func TestGetJSONSendsHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/chart/NVDA" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("interval = %q", r.URL.Query().Get("interval"))
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Key") != "secret" {
			t.Errorf("X-Key = %q", r.Header.Get("X-Key"))
		}
		_, _ = w.Write([]byte(`{"price":134.5}`))
	}))
	defer server.Close()

	client := New(Config{
		Name:      "yahoo",
		BaseURL:   server.URL + "/",
		UserAgent: "test-agent",
		Headers:   map[string]string{"X-Key": "secret"},
	})
	defer client.Close()

	var out struct {
		Price float64 `json:"price"`
	}
	if err := client.GetJSON(context.Background(), "v8/chart/NVDA", url.Values{"interval": {"1d"}}, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out.Price != 134.5 {
		t.Fatalf("price = %v, want 134.5", out.Price)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  tool.Kind
		reason    string
		retryable bool
	}{
		{status: http.StatusNotFound, wantKind: tool.KindNotFound},
		{status: http.StatusUnauthorized, wantKind: tool.KindUpstream, reason: ReasonAuth},
		{status: http.StatusForbidden, wantKind: tool.KindUpstream, reason: ReasonAuth},
		{status: http.StatusTooManyRequests, wantKind: tool.KindUpstream, reason: ReasonQuota, retryable: true},
		{status: statusPlanLimit, wantKind: tool.KindUpstream, reason: ReasonQuota},
		{status: http.StatusBadGateway, wantKind: tool.KindUpstream, reason: ReasonStatus, retryable: true},
		{status: http.StatusBadRequest, wantKind: tool.KindUpstream, reason: ReasonStatus},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := StatusError("tavily", tt.status, nil)
			if err.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", err.Kind, tt.wantKind)
			}
			if err.Retryable != tt.retryable {
				t.Fatalf("retryable = %v, want %v", err.Retryable, tt.retryable)
			}
			if tt.reason != "" && err.Details["reason"] != tt.reason {
				t.Fatalf("reason = %v, want %s", err.Details["reason"], tt.reason)
			}
			if err.Details["status"] != tt.status {
				t.Fatalf("status detail = %v", err.Details["status"])
			}
		})
	}
}

func TestMissingAsUpstream(t *testing.T) {
	missing := StatusError("tavily", http.StatusNotFound, nil)
	err := MissingAsUpstream(missing)
	toolErr, ok := tool.AsError(err)
	if !ok || toolErr.Kind != tool.KindUpstream {
		t.Fatalf("MissingAsUpstream() = %v, want UpstreamError", err)
	}
	if toolErr.Details["reason"] != ReasonStatus || toolErr.Details["status"] != http.StatusNotFound {
		t.Fatalf("details = %v", toolErr.Details)
	}
	if missing.Kind != tool.KindNotFound {
		t.Fatal("original error was modified")
	}

	auth := StatusError("tavily", http.StatusUnauthorized, nil)
	if got := MissingAsUpstream(auth); got != error(auth) {
		t.Fatalf("MissingAsUpstream(auth) = %v, want it unchanged", got)
	}
	if MissingAsUpstream(nil) != nil {
		t.Fatal("MissingAsUpstream(nil) != nil")
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	recorder := &retryRecorder{}
	tool.SetObserver(recorder)
	defer tool.SetObserver(nil)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(Config{
		Name:    "yahoo",
		BaseURL: server.URL,
		Retry:   RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
	var out map[string]any
	if err := client.GetJSON(context.Background(), "/", nil, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.retries) != 2 {
		t.Fatalf("retry observations = %d, want 2", len(recorder.retries))
	}
	if recorder.retries[0].Upstream != "yahoo" || recorder.retries[0].Status != http.StatusServiceUnavailable {
		t.Fatalf("retry observation = %+v", recorder.retries[0])
	}
}

func TestDoesNotRetryPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(Config{Name: "yahoo", BaseURL: server.URL, Retry: RetryPolicy{MaxAttempts: 5}})
	_, err := client.Get(context.Background(), "/missing", nil)
	if !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("Get() error = %v, want NotFound", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestTimeoutIsUpstreamError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(Config{
		Name:       "tavily",
		BaseURL:    server.URL,
		HTTPClient: &http.Client{Timeout: 20 * time.Millisecond},
	})
	err := client.PostJSON(context.Background(), "/search", map[string]string{"query": "x"}, nil)
	toolErr, ok := tool.AsError(err)
	if !ok {
		t.Fatalf("PostJSON() error = %v, want *tool.Error", err)
	}
	if toolErr.Kind != tool.KindUpstream || toolErr.Details["reason"] != ReasonTimeout {
		t.Fatalf("error = %+v, want upstream timeout", toolErr)
	}
}

func TestMalformedJSONIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	client := New(Config{Name: "yahoo", BaseURL: server.URL})
	var out map[string]any
	err := client.GetJSON(context.Background(), "/", nil, &out)
	if tool.KindOf(err) != tool.KindUpstream {
		t.Fatalf("kind = %s, want UpstreamError", tool.KindOf(err))
	}
}
