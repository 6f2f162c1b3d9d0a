package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/petal-labs/finagent/tool"
)

// Reasons attached to upstream failures under Details["reason"].
const (
	ReasonAuth      = "auth"
	ReasonQuota     = "quota"
	ReasonTimeout   = "timeout"
	ReasonStatus    = "status"
	ReasonTransport = "transport"
	ReasonDecode    = "decode"
)

// Tavily reports exhausted plan and key limits with these non-standard codes.
const (
	statusPlanLimit = 432
	statusKeyLimit  = 433
)

const maxErrorPreview = 200

// StatusError maps a non-2xx response onto the failure taxonomy.
func StatusError(upstream string, status int, body []byte) *tool.Error {
	preview := tool.Truncate(strings.TrimSpace(string(body)), maxErrorPreview)
	if preview == "" {
		preview = http.StatusText(status)
	}
	details := map[string]any{"upstream": upstream, "status": status}

	switch {
	case status == http.StatusNotFound:
		return tool.Errorf(tool.KindNotFound, "%s: not found", upstream).WithDetails(details)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		details["reason"] = ReasonAuth
		return tool.Errorf(tool.KindUpstream, "%s rejected the credentials (status %d)", upstream, status).WithDetails(details)
	case status == http.StatusTooManyRequests:
		details["reason"] = ReasonQuota
		return tool.Errorf(tool.KindUpstream, "%s rate limit exceeded", upstream).
			WithRetryable(true).
			WithDetails(details)
	case status == statusPlanLimit || status == statusKeyLimit:
		details["reason"] = ReasonQuota
		return tool.Errorf(tool.KindUpstream, "%s usage limit exceeded: %s", upstream, preview).WithDetails(details)
	case status >= http.StatusInternalServerError:
		details["reason"] = ReasonStatus
		return tool.Errorf(tool.KindUpstream, "%s returned status %d: %s", upstream, status, preview).
			WithRetryable(true).
			WithDetails(details)
	default:
		details["reason"] = ReasonStatus
		return tool.Errorf(tool.KindUpstream, "%s returned status %d: %s", upstream, status, preview).WithDetails(details)
	}
}

func (c *Client) transportError(err error) *tool.Error {
	details := map[string]any{"upstream": c.name}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		details["reason"] = ReasonTimeout
		return tool.Wrap(tool.KindUpstream, err, fmt.Sprintf("%s timed out", c.name)).
			WithRetryable(true).
			WithDetails(details)
	case errors.Is(err, context.Canceled):
		details["reason"] = ReasonTransport
		return tool.Wrap(tool.KindUpstream, err, fmt.Sprintf("%s request canceled", c.name)).WithDetails(details)
	default:
		details["reason"] = ReasonTransport
		return tool.Wrap(tool.KindUpstream, err, fmt.Sprintf("%s unreachable: %v", c.name, err)).WithDetails(details)
	}
}

func (c *Client) decodeError(err error) *tool.Error {
	return tool.Wrap(tool.KindUpstream, err, fmt.Sprintf("%s returned a malformed response: %v", c.name, err)).
		WithDetails(map[string]any{"upstream": c.name, "reason": ReasonDecode})
}

// MissingAsUpstream turns a NotFound from an endpoint that is not keyed by
// an entity (news feeds, search) into an UpstreamError. A 404 there means
// the endpoint moved, not that the subject does not exist.
func MissingAsUpstream(err error) error {
	toolErr, ok := tool.AsError(err)
	if !ok || toolErr.Kind != tool.KindNotFound {
		return err
	}
	details := map[string]any{"reason": ReasonStatus}
	for key, value := range toolErr.Details {
		details[key] = value
	}
	return tool.Wrap(tool.KindUpstream, toolErr.Cause, toolErr.Message).WithDetails(details)
}
