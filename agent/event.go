// Package agent assembles the financial assistant: a language-model runtime,
// conversation memory and the tool registry, and drives one chat turn at a
// time as a stream of events.
package agent

import (
	"encoding/json"
	"time"

	"github.com/petal-labs/finagent/tool"
)

// EventKind identifies the type of event emitted during a turn.
type EventKind string

const (
	// EventStarted is emitted once a request passed validation and history is loaded.
	EventStarted EventKind = "agent.started"

	// EventToolCall is emitted when the model requests a tool invocation.
	EventToolCall EventKind = "tool.call"

	// EventToolResult is emitted when a tool invocation completes, successfully or not.
	EventToolResult EventKind = "tool.result"

	// EventFinal carries the final assistant answer.
	EventFinal EventKind = "message.final"

	// EventFailed is emitted when the turn cannot produce an answer.
	EventFailed EventKind = "agent.failed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is one step of a chat turn.
type Event struct {
	Kind       EventKind       `json:"kind"`
	ThreadID   string          `json:"threadId"`
	ResponseID string          `json:"responseId"`
	Time       time.Time       `json:"time"`
	Tool       string          `json:"tool,omitempty"`
	CallID     string          `json:"callId,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     *tool.Result    `json:"result,omitempty"`
	Text       string          `json:"text,omitempty"`
	// Elapsed is set on tool results and terminal events.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// TraceID and SpanID link the event to its OpenTelemetry span when
	// tracing is enabled.
	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(kind EventKind) Event {
	return Event{Kind: kind, Time: time.Now()}
}
