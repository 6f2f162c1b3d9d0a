package agent

import (
	"context"
	"iter"

	"github.com/petal-labs/finagent/chat"
	"github.com/petal-labs/finagent/memory"
	"github.com/petal-labs/finagent/tool"
)

// Turn is everything a runtime needs to answer one prompt.
type Turn struct {
	ThreadID   string
	ResponseID string
	System     string
	History    []memory.Message
	Prompt     chat.Prompt
	Tools      *tool.Registry
}

// Runtime decides which tools to call and produces the final answer. It
// yields tool.call, tool.result and exactly one message.final event, or
// stops with an error. The agent treats it as opaque.
type Runtime interface {
	Run(ctx context.Context, turn Turn) iter.Seq2[Event, error]
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, turn Turn) iter.Seq2[Event, error]

// Run calls f.
func (f RuntimeFunc) Run(ctx context.Context, turn Turn) iter.Seq2[Event, error] {
	return f(ctx, turn)
}
