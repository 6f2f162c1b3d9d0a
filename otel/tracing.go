// Package otel provides OpenTelemetry integration for agent turns and tool
// invocations.
package otel

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/finagent/agent"
)

// TracingHandler translates agent events into OpenTelemetry spans: one root
// span per turn and one child span per tool call.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	turns map[string]*turnSpans // turn key -> open spans
	seq   atomic.Uint64
}

// turnSpans holds the open spans of one turn.
type turnSpans struct {
	span  trace.Span
	ctx   context.Context
	calls map[string]trace.Span // call id -> span
}

// NewTracingHandler creates a TracingHandler that uses tracer for spans.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		turns:  make(map[string]*turnSpans),
	}
}

func turnKey(e agent.Event) string {
	return e.ThreadID + "/" + e.ResponseID
}

// newTurnKey returns a key no other turn uses, so a retried request with the
// same thread and response ids gets its own spans.
func (h *TracingHandler) newTurnKey() string {
	return "#" + strconv.FormatUint(h.seq.Add(1), 10)
}

// Handle creates or ends spans for one event. Events are grouped into turns
// by thread and response id.
func (h *TracingHandler) Handle(e agent.Event) {
	h.handle(turnKey(e), e)
}

func (h *TracingHandler) handle(key string, e agent.Event) {
	switch e.Kind {
	case agent.EventStarted:
		h.handleStarted(key, e)
	case agent.EventToolCall:
		h.handleToolCall(key, e)
	case agent.EventToolResult:
		h.handleToolResult(key, e)
	case agent.EventFinal, agent.EventFailed:
		h.handleFinished(key, e)
	}
}

func (h *TracingHandler) handleStarted(key string, e agent.Event) {
	ctx, span := h.tracer.Start(context.Background(), "agent.turn",
		trace.WithAttributes(
			attribute.String("finagent.thread_id", e.ThreadID),
			attribute.String("finagent.response_id", e.ResponseID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	prev := h.turns[key]
	h.turns[key] = &turnSpans{span: span, ctx: ctx, calls: make(map[string]trace.Span)}
	h.mu.Unlock()
	if prev != nil {
		endAbandoned(prev, "superseded")
	}
}

func (h *TracingHandler) handleToolCall(key string, e agent.Event) {
	h.mu.RLock()
	turn, ok := h.turns[key]
	h.mu.RUnlock()
	parentCtx := context.Background()
	if ok {
		parentCtx = turn.ctx
	}

	_, span := h.tracer.Start(parentCtx, "tool:"+e.Tool,
		trace.WithAttributes(
			attribute.String("finagent.thread_id", e.ThreadID),
			attribute.String("finagent.tool_name", e.Tool),
			attribute.String("finagent.call_id", e.CallID),
		),
		trace.WithTimestamp(e.Time),
	)

	if !ok {
		// No turn to attach to; nothing would ever end it.
		span.SetStatus(codes.Error, "no active turn")
		span.End()
		return
	}
	h.mu.Lock()
	turn.calls[e.CallID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleToolResult(key string, e agent.Event) {
	h.mu.Lock()
	var span trace.Span
	turn, ok := h.turns[key]
	if ok {
		span, ok = turn.calls[e.CallID]
		delete(turn.calls, e.CallID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if e.Result != nil && !e.Result.OK() {
		span.SetAttributes(attribute.String("finagent.failure_kind", string(e.Result.Failure.Kind)))
		span.SetStatus(codes.Error, e.Result.Failure.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleFinished(key string, e agent.Event) {
	turn := h.remove(key)
	if turn == nil {
		return
	}

	for _, call := range turn.calls {
		call.SetStatus(codes.Error, "turn finished before tool result")
		call.End(trace.WithTimestamp(e.Time))
	}
	span := turn.span
	span.SetAttributes(attribute.String("finagent.duration", e.Elapsed.String()))
	if e.Kind == agent.EventFailed {
		span.SetStatus(codes.Error, e.Text)
		span.RecordError(spanError(e.Text), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// abandon ends every span still open for key. It is a no-op once the turn
// has finished.
func (h *TracingHandler) abandon(key string) {
	if turn := h.remove(key); turn != nil {
		endAbandoned(turn, "abandoned")
	}
}

func (h *TracingHandler) remove(key string) *turnSpans {
	h.mu.Lock()
	defer h.mu.Unlock()
	turn, ok := h.turns[key]
	if !ok {
		return nil
	}
	delete(h.turns, key)
	return turn
}

func endAbandoned(turn *turnSpans, reason string) {
	for _, call := range turn.calls {
		call.SetStatus(codes.Error, reason)
		call.End()
	}
	turn.span.SetStatus(codes.Error, reason)
	turn.span.End()
}

// OpenTurns reports how many turns still have an open span.
func (h *TracingHandler) OpenTurns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// ActiveSpanContext returns the span context of an open tool call span, or
// of the turn span when the call has none. It returns an empty SpanContext
// when neither is open.
func (h *TracingHandler) ActiveSpanContext(e agent.Event) trace.SpanContext {
	return h.activeSpanContext(turnKey(e), e)
}

func (h *TracingHandler) activeSpanContext(key string, e agent.Event) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	turn, ok := h.turns[key]
	if !ok {
		return trace.SpanContext{}
	}
	if e.CallID != "" {
		if span, ok := turn.calls[e.CallID]; ok {
			return span.SpanContext()
		}
	}
	return turn.span.SpanContext()
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
