package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/finagent/agent"
)

// AgentMetrics translates agent events into OpenTelemetry metrics.
// It records counters for requests, tool calls and failures, and a
// histogram of turn durations.
type AgentMetrics struct {
	requests     metric.Int64Counter
	toolCalls    metric.Int64Counter
	failures     metric.Int64Counter
	turnDuration metric.Float64Histogram
}

// NewAgentMetrics creates the agent instruments on meter.
func NewAgentMetrics(meter metric.Meter) (*AgentMetrics, error) {
	requests, err := meter.Int64Counter("finagent.agent.requests",
		metric.WithDescription("Number of chat requests accepted by the agent"),
	)
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter("finagent.agent.tool_calls",
		metric.WithDescription("Number of tool calls requested by the model"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("finagent.agent.failures",
		metric.WithDescription("Number of chat requests that ended without an answer"),
	)
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram("finagent.agent.turn.duration",
		metric.WithDescription("Duration of a chat turn in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &AgentMetrics{
		requests:     requests,
		toolCalls:    toolCalls,
		failures:     failures,
		turnDuration: turnDuration,
	}, nil
}

// Handle records the metrics for one event.
func (m *AgentMetrics) Handle(e agent.Event) {
	ctx := context.Background()
	switch e.Kind {
	case agent.EventStarted:
		m.requests.Add(ctx, 1)
	case agent.EventToolCall:
		m.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", e.Tool)))
	case agent.EventFinal:
		m.turnDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(attribute.String("status", "completed")))
	case agent.EventFailed:
		m.failures.Add(ctx, 1)
		m.turnDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(attribute.String("status", "failed")))
	}
}
