package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so the runtime and callers can react without
// parsing messages.
type Kind string

const (
	// KindValidation marks malformed input. Recoverable by caller correction, never retried.
	KindValidation Kind = "ValidationError"
	// KindInvalidRange marks a date range whose start is after its end.
	KindInvalidRange Kind = "InvalidRange"
	// KindNotFound marks an upstream report that the entity does not exist.
	KindNotFound Kind = "NotFound"
	// KindUpstream marks transport, auth, quota and other provider faults.
	KindUpstream Kind = "UpstreamError"
	// KindAssembly marks missing or invalid startup configuration.
	KindAssembly Kind = "AssemblyError"
)

// Sentinels usable with errors.Is. They match any *Error of the same kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrInvalidRange = &Error{Kind: KindInvalidRange}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUpstream     = &Error{Kind: KindUpstream}
	ErrAssembly     = &Error{Kind: KindAssembly}
)

// Error is a structured failure that can flow from provider clients through
// adapters, the HTTP API and agent events without losing its kind or
// retryability.
type Error struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	kind := strings.TrimSpace(string(e.Kind))
	msg := strings.TrimSpace(e.Message)
	switch {
	case kind == "" && msg == "":
		return string(KindUpstream)
	case kind == "":
		return msg
	case msg == "":
		return kind
	default:
		return fmt.Sprintf("%s: %s", kind, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if t.Message != "" || t.Cause != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// NewError builds an error of the given kind.
func NewError(kind Kind, message string) *Error {
	if strings.TrimSpace(string(kind)) == "" {
		kind = KindUpstream
	}
	return &Error{Kind: kind, Message: strings.TrimSpace(message)}
}

// Errorf builds an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// Wrap builds an error of the given kind around cause. An empty message
// falls back to the cause text.
func Wrap(kind Kind, cause error, message string) *Error {
	err := NewError(kind, message)
	if err.Message == "" && cause != nil {
		err.Message = cause.Error()
	}
	err.Cause = cause
	return err
}

// WithRetryable sets the retry hint and returns e.
func (e *Error) WithRetryable(retryable bool) *Error {
	if e == nil {
		return nil
	}
	e.Retryable = retryable
	return e
}

// WithDetails merges details into e and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil || len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		e.Details[key] = value
	}
	return e
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *Error
	if errors.As(err, &toolErr) && toolErr != nil {
		return toolErr, true
	}
	return nil, false
}

// KindOf returns the failure kind for err. Errors outside the taxonomy are
// upstream faults; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if toolErr, ok := AsError(err); ok && toolErr.Kind != "" {
		return toolErr.Kind
	}
	return KindUpstream
}

// normalizeError maps any error onto the taxonomy. Context errors become
// upstream failures since the provider never answered.
func normalizeError(err error) *Error {
	if toolErr, ok := AsError(err); ok {
		return toolErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindUpstream, err, "upstream call timed out").WithRetryable(true)
	case errors.Is(err, context.Canceled):
		return Wrap(KindUpstream, err, "upstream call canceled")
	default:
		return Wrap(KindUpstream, err, "")
	}
}

// Code returns the wire code for k used in HTTP error bodies and stream
// events, e.g. VALIDATION_ERROR.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindInvalidRange:
		return "INVALID_RANGE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindAssembly:
		return "ASSEMBLY_ERROR"
	default:
		return "UPSTREAM_ERROR"
	}
}

// Fields returns the offending field names recorded on err, if any.
func Fields(err error) []string {
	toolErr, ok := AsError(err)
	if !ok {
		return nil
	}
	switch fields := toolErr.Details["fields"].(type) {
	case []string:
		return fields
	case []any:
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
