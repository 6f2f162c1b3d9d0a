// Package upstream is the shared HTTP plumbing for provider clients: pooled
// transports, bounded retries with linear backoff, and mapping of transport
// and status failures onto the tool failure taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 15 * time.Second

// DefaultUserAgent is sent when a provider does not need a specific one.
const DefaultUserAgent = "finagent/1.0"

const maxResponseBytes = 8 << 20

// Config describes one upstream provider endpoint.
type Config struct {
	// Name identifies the provider in errors, logs and metrics.
	Name      string
	BaseURL   string
	Timeout   time.Duration
	Retry     RetryPolicy
	UserAgent string
	// Headers are sent on every request, e.g. authorization.
	Headers map[string]string
	// HTTPClient overrides the pooled client. Tests use it to inject fakes.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client performs requests against one provider.
type Client struct {
	name      string
	baseURL   string
	userAgent string
	headers   map[string]string
	retry     RetryPolicy
	http      *http.Client
	logger    *slog.Logger
}

// New builds a client. Clients are safe for concurrent use.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = sharedPool.client(timeout)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "upstream"
	}
	headers := make(map[string]string, len(cfg.Headers))
	for key, value := range cfg.Headers {
		headers[key] = value
	}
	return &Client{
		name:      name,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		userAgent: userAgent,
		headers:   headers,
		retry:     cfg.Retry,
		http:      httpClient,
		logger:    logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Get fetches path and returns the raw body of a 2xx response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.withRetry(ctx, func(ctx context.Context, attempt int) ([]byte, int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
		if err != nil {
			return nil, 0, fmt.Errorf("upstream: build request: %w", err)
		}
		return c.do(req)
	})
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.decodeError(err)
	}
	return nil
}

// PostJSON sends payload as JSON and decodes the JSON response into out.
// A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("upstream: encode request: %w", err)
	}
	body, err := c.withRetry(ctx, func(ctx context.Context, attempt int) ([]byte, int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(encoded))
		if err != nil {
			return nil, 0, fmt.Errorf("upstream: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req)
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.decodeError(err)
	}
	return nil
}

// Close releases idle connections held for this client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/html;q=0.9")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, c.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, c.transportError(err)
	}
	c.logger.Debug("upstream response",
		"upstream", c.name,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, StatusError(c.name, resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target = c.baseURL + path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}
