// Package sse streams agent turn events to HTTP clients as Server-Sent
// Events.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/petal-labs/finagent/agent"
	"github.com/petal-labs/finagent/tool"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// ErrStreamingUnsupported is returned before any bytes are written when the
// response writer cannot flush.
var ErrStreamingUnsupported = errors.New("sse: streaming not supported")

// sseEvent is the JSON-serializable representation of an agent event sent
// over the stream.
type sseEvent struct {
	Kind       string          `json:"kind"`
	ThreadID   string          `json:"threadId"`
	ResponseID string          `json:"responseId"`
	MessageID  string          `json:"messageId,omitempty"`
	Time       time.Time       `json:"time"`
	Tool       string          `json:"tool,omitempty"`
	CallID     string          `json:"callId,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     *tool.Result    `json:"result,omitempty"`
	Text       string          `json:"text,omitempty"`
	ElapsedMs  int64           `json:"elapsedMs,omitempty"`
	TraceID    string          `json:"traceId,omitempty"`
	SpanID     string          `json:"spanId,omitempty"`
	Error      *sseError       `json:"error,omitempty"`
}

type sseError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func toSSEEvent(e agent.Event, err error, messageID string) sseEvent {
	out := sseEvent{
		Kind:       string(e.Kind),
		ThreadID:   e.ThreadID,
		ResponseID: e.ResponseID,
		Time:       e.Time,
		Tool:       e.Tool,
		CallID:     e.CallID,
		Arguments:  e.Arguments,
		Result:     e.Result,
		Text:       e.Text,
		ElapsedMs:  e.Elapsed.Milliseconds(),
		TraceID:    e.TraceID,
		SpanID:     e.SpanID,
	}
	if e.Kind == agent.EventFinal {
		out.MessageID = messageID
	}
	if err != nil {
		if out.Kind == "" {
			out.Kind = string(agent.EventFailed)
		}
		out.Error = &sseError{
			Code:    tool.KindOf(err).Code(),
			Message: err.Error(),
			Fields:  tool.Fields(err),
		}
	}
	return out
}

// Options tunes a stream.
type Options struct {
	// MessageID is attached to the message.final event.
	MessageID string
	// Heartbeat overrides HeartbeatInterval.
	Heartbeat time.Duration
}

type item struct {
	event agent.Event
	err   error
}

// Stream writes the events of seq to w until a message.final or
// agent.failed event has been sent, seq ends, or ctx is done.
//
// SSE format:
//
//	id: {n}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent while the turn is idle.
func Stream(ctx context.Context, w http.ResponseWriter, seq iter.Seq2[agent.Event, error], opts Options) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}
	interval := opts.Heartbeat
	if interval <= 0 {
		interval = HeartbeatInterval
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The turn is pulled on its own goroutine so heartbeats keep flowing
	// while a model or tool call is in flight.
	items := make(chan item)
	go func() {
		defer close(items)
		for ev, err := range seq {
			select {
			case items <- item{event: ev, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case it, ok := <-items:
			if !ok {
				return nil
			}
			n++
			if err := writeSSEEvent(w, n, toSSEEvent(it.event, it.err, opts.MessageID)); err != nil {
				return err
			}
			flusher.Flush()
			if it.err != nil || it.event.Kind == agent.EventFinal || it.event.Kind == agent.EventFailed {
				return nil
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, id uint64, evt sseEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, evt.Kind, data)
	return err
}
