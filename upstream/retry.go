package upstream

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/petal-labs/finagent/tool"
)

// RetryPolicy bounds how often a transient upstream failure is retried.
// Backoff grows linearly with the attempt number.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `json:"backoff" yaml:"backoff"`
}

// DefaultRetryPolicy retries twice with a short linear backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 250 * time.Millisecond}

type attemptFunc func(ctx context.Context, attempt int) ([]byte, int, error)

func (c *Client) withRetry(ctx context.Context, fn attemptFunc) ([]byte, error) {
	policy := normalizeRetryPolicy(c.retry)
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.transportError(err)
		}

		body, status, err := fn(ctx, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts || !isRetryable(err) {
			return nil, err
		}
		tool.NotifyRetry(tool.RetryObservation{
			Upstream:  c.name,
			Attempt:   attempt,
			ErrorKind: tool.KindOf(err),
			Status:    status,
		})
		c.logger.Debug("retrying upstream request",
			"upstream", c.name,
			"attempt", attempt,
			"status", status,
			"error", err,
		)

		wait := backoffDuration(policy, attempt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.transportError(ctx.Err())
		case <-timer.C:
		}
	}

	return nil, lastErr
}

func normalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	out := policy
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.Backoff < 0 {
		out.Backoff = 0
	}
	return out
}

func backoffDuration(policy RetryPolicy, attempt int) time.Duration {
	if policy.Backoff <= 0 || attempt <= 0 {
		return 0
	}
	return policy.Backoff * time.Duration(attempt)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if toolErr, ok := tool.AsError(err); ok {
		return toolErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
