package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	iriscore "github.com/petal-labs/iris/core"
	iristools "github.com/petal-labs/iris/tools"

	"github.com/petal-labs/finagent/chat"
	"github.com/petal-labs/finagent/tool"
)

// DefaultMaxTurns bounds model round trips per prompt.
const DefaultMaxTurns = 8

// IrisRuntimeConfig configures an IrisRuntime.
type IrisRuntimeConfig struct {
	Provider iriscore.Provider
	Model    string
	MaxTurns int
	Logger   *slog.Logger
}

// IrisRuntime is a tool-calling loop over an iris chat provider. Requested
// tools run sequentially in the order the model emitted them; their results
// are fed back until the model answers in text.
type IrisRuntime struct {
	provider iriscore.Provider
	model    string
	maxTurns int
	logger   *slog.Logger
}

// NewIrisRuntime validates cfg and returns a runtime.
func NewIrisRuntime(cfg IrisRuntimeConfig) (*IrisRuntime, error) {
	if cfg.Provider == nil {
		return nil, tool.NewError(tool.KindAssembly, "agent: iris provider is nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, tool.NewError(tool.KindAssembly, "agent: model name is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &IrisRuntime{
		provider: cfg.Provider,
		model:    strings.TrimSpace(cfg.Model),
		maxTurns: cfg.MaxTurns,
		logger:   cfg.Logger,
	}, nil
}

var _ Runtime = (*IrisRuntime)(nil)

// Run drives the model until it answers, yielding tool activity as it
// happens.
func (r *IrisRuntime) Run(ctx context.Context, turn Turn) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		req := &iriscore.ChatRequest{
			Model:    iriscore.ModelID(r.model),
			Messages: buildMessages(turn),
		}
		if turn.Tools != nil {
			req.Tools = irisToolsFor(turn.Tools.Descriptors())
		}

		for round := 1; round <= r.maxTurns; round++ {
			resp, err := r.provider.Chat(ctx, req)
			if err != nil {
				yield(Event{}, tool.Wrap(tool.KindUpstream, err, fmt.Sprintf("model provider %s: %v", r.provider.ID(), err)).
					WithDetails(map[string]any{"upstream": r.provider.ID(), "round": round}))
				return
			}
			if resp == nil {
				yield(Event{}, tool.Errorf(tool.KindUpstream, "model provider %s returned no response", r.provider.ID()))
				return
			}

			if !resp.HasToolCalls() {
				final := NewEvent(EventFinal)
				final.Text = resp.Output
				yield(final, nil)
				return
			}

			r.logger.Debug("model requested tools",
				"round", round,
				"calls", len(resp.ToolCalls),
				"thread_id", turn.ThreadID,
			)
			req.Messages = append(req.Messages, iriscore.Message{
				Role:      iriscore.RoleAssistant,
				Content:   resp.Output,
				ToolCalls: resp.ToolCalls,
			})

			results := make([]iriscore.ToolResult, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				callEvent := NewEvent(EventToolCall)
				callEvent.Tool = call.Name
				callEvent.CallID = call.ID
				callEvent.Arguments = call.Arguments
				if !yield(callEvent, nil) {
					return
				}

				start := time.Now()
				result := invokeTool(ctx, turn.Tools, call)
				resultEvent := NewEvent(EventToolResult)
				resultEvent.Tool = call.Name
				resultEvent.CallID = call.ID
				resultEvent.Result = &result
				resultEvent.Elapsed = time.Since(start)
				if !yield(resultEvent, nil) {
					return
				}

				results = append(results, iriscore.ToolResult{
					CallID:  call.ID,
					Content: result,
					IsError: !result.OK(),
				})
			}
			req.Messages = append(req.Messages, iriscore.Message{
				Role:        iriscore.RoleTool,
				ToolResults: results,
			})
		}

		yield(Event{}, tool.Errorf(tool.KindUpstream, "model did not answer within %d rounds", r.maxTurns).
			WithDetails(map[string]any{"max_turns": r.maxTurns}))
	}
}

func invokeTool(ctx context.Context, registry *tool.Registry, call iriscore.ToolCall) tool.Result {
	if registry == nil {
		return tool.Fail(tool.KindValidation, fmt.Sprintf("unknown tool %q", call.Name))
	}
	return registry.InvokeJSON(ctx, call.Name, call.Arguments)
}

func buildMessages(turn Turn) []iriscore.Message {
	messages := make([]iriscore.Message, 0, len(turn.History)+2)
	if strings.TrimSpace(turn.System) != "" {
		messages = append(messages, iriscore.Message{Role: iriscore.RoleSystem, Content: turn.System})
	}
	for _, msg := range turn.History {
		messages = append(messages, iriscore.Message{Role: toIrisRole(msg.Role), Content: msg.Content})
	}
	messages = append(messages, iriscore.Message{
		Role:    toIrisRole(turn.Prompt.Role),
		Content: turn.Prompt.Content,
	})
	return messages
}

// toIrisRole maps chat roles onto iris roles. Stored tool messages carry no
// call id, so they are replayed as user context.
func toIrisRole(role chat.Role) iriscore.Role {
	switch role {
	case chat.RoleSystem:
		return iriscore.RoleSystem
	case chat.RoleAssistant:
		return iriscore.RoleAssistant
	default:
		return iriscore.RoleUser
	}
}

// irisTool exposes a tool descriptor to iris providers.
type irisTool struct {
	desc   tool.Descriptor
	schema json.RawMessage
}

func (t irisTool) Name() string {
	return t.desc.Name
}

func (t irisTool) Description() string {
	return t.desc.Description
}

func (t irisTool) Schema() iristools.ToolSchema {
	return iristools.ToolSchema{JSONSchema: t.schema}
}

func irisToolsFor(descs []tool.Descriptor) []iriscore.Tool {
	out := make([]iriscore.Tool, 0, len(descs))
	for _, desc := range descs {
		out = append(out, irisTool{desc: desc, schema: desc.RawSchema()})
	}
	return out
}
