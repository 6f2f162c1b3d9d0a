package tool

import (
	"encoding/json"
	"strings"
)

// Failure is the error variant of a Result.
type Failure struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one tool invocation: exactly one of Success
// (Payload) or Failure is set. A failure is data handed back to the agent,
// not a Go error that aborts the request.
type Result struct {
	Payload any
	Failure *Failure
}

// Success wraps a payload. The payload may be a scalar, mapping or sequence.
func Success(payload any) Result {
	return Result{Payload: payload}
}

// Fail builds a failure result.
func Fail(kind Kind, message string) Result {
	if strings.TrimSpace(string(kind)) == "" {
		kind = KindUpstream
	}
	return Result{Failure: &Failure{Kind: kind, Message: strings.TrimSpace(message)}}
}

// FailureFrom converts err into a failure result, keeping kind and details
// when err carries them.
func FailureFrom(err error) Result {
	if err == nil {
		return Fail(KindUpstream, "tool failed without an error")
	}
	toolErr := normalizeError(err)
	result := Fail(toolErr.Kind, toolErr.Message)
	if len(toolErr.Details) > 0 {
		result.Failure.Details = make(map[string]any, len(toolErr.Details))
		for key, value := range toolErr.Details {
			result.Failure.Details[key] = value
		}
	}
	return result
}

// OK reports whether the result is the Success variant.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Err returns the failure as an *Error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return NewError(r.Failure.Kind, r.Failure.Message).WithDetails(r.Failure.Details)
}

type resultJSON struct {
	OK      bool     `json:"ok"`
	Payload any      `json:"payload,omitempty"`
	Error   *Failure `json:"error,omitempty"`
}

// MarshalJSON renders {"ok":true,"payload":...} or {"ok":false,"error":{...}}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failure != nil {
		return json.Marshal(resultJSON{OK: false, Error: r.Failure})
	}
	return json.Marshal(resultJSON{OK: true, Payload: r.Payload})
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw struct {
		OK      bool            `json:"ok"`
		Payload json.RawMessage `json:"payload"`
		Error   *Failure        `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Result{}
	if !raw.OK {
		if raw.Error == nil {
			raw.Error = &Failure{Kind: KindUpstream}
		}
		r.Failure = raw.Error
		return nil
	}
	if len(raw.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return err
		}
		r.Payload = payload
	}
	return nil
}
