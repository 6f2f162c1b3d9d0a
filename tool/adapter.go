package tool

import (
	"context"
	"strings"
	"time"
)

// Adapter is one agent-callable operation. Implementations validate their
// inputs before touching a provider and must be safe for concurrent use.
type Adapter interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, args map[string]any) Result
}

// Func is the invocation body of a function-backed adapter.
type Func func(ctx context.Context, args map[string]any) Result

type funcAdapter struct {
	descriptor Descriptor
	fn         Func
}

// NewFunc wraps fn as an Adapter. Inputs are checked against the descriptor
// before fn runs.
func NewFunc(descriptor Descriptor, fn Func) Adapter {
	return &funcAdapter{descriptor: descriptor, fn: fn}
}

func (a *funcAdapter) Descriptor() Descriptor {
	return a.descriptor
}

func (a *funcAdapter) Invoke(ctx context.Context, args map[string]any) Result {
	if a.fn == nil {
		return Fail(KindUpstream, "tool "+a.descriptor.Name+" has no implementation")
	}
	if err := CheckInputs(a.descriptor, args); err != nil {
		return FailureFrom(err)
	}
	return a.fn(ctx, args)
}

// StringArg returns the trimmed string input name, or "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return strings.TrimSpace(s)
}

// DateArg parses the date input name. Callers validate inputs first, so a
// parse failure here is reported as a ValidationError for that field.
func DateArg(args map[string]any, name string) (time.Time, error) {
	raw := StringArg(args, name)
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, Errorf(KindValidation, "%s must be a date in YYYY-MM-DD format, got %q", name, raw).
			WithDetails(map[string]any{"fields": []string{name}})
	}
	return t, nil
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
