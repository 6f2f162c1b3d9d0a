package otel

import (
	"iter"

	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/finagent/agent"
)

// Handler consumes agent events.
type Handler interface {
	Handle(e agent.Event)
}

// Instrument passes every event of seq through handlers before yielding it.
// When tracing is non-nil, events also carry the trace and span ids of
// their active span, and a turn that stops before its final or failed event
// (the consumer went away) has its spans ended as abandoned. Events with an
// error still reach the handlers.
func Instrument(seq iter.Seq2[agent.Event, error], tracing *TracingHandler, handlers ...Handler) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		var key string
		if tracing != nil {
			key = tracing.newTurnKey()
			defer tracing.abandon(key)
		}
		for e, err := range seq {
			if tracing != nil {
				sc := stampSpan(tracing, key, e)
				if sc.IsValid() {
					e.TraceID = sc.TraceID().String()
					e.SpanID = sc.SpanID().String()
				}
			}
			for _, h := range handlers {
				h.Handle(e)
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// stampSpan feeds e to tracing under the turn key and returns the span e
// belongs to. Closing events are resolved before their span ends, opening
// events after their span starts.
func stampSpan(tracing *TracingHandler, key string, e agent.Event) trace.SpanContext {
	switch e.Kind {
	case agent.EventStarted, agent.EventToolCall:
		tracing.handle(key, e)
		return tracing.activeSpanContext(key, e)
	default:
		sc := tracing.activeSpanContext(key, e)
		tracing.handle(key, e)
		return sc
	}
}
