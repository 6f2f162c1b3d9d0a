package agent

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/finagent/chat"
	"github.com/petal-labs/finagent/memory"
	"github.com/petal-labs/finagent/tool"
)

// Config wires an Agent's collaborators.
type Config struct {
	Runtime Runtime
	Memory  memory.Store
	Tools   *tool.Registry
	// System is the system prompt sent ahead of the history.
	System string
	Logger *slog.Logger
}

// Agent answers chat requests using a runtime, thread memory and tools.
// It is safe for concurrent use.
type Agent struct {
	runtime Runtime
	memory  memory.Store
	tools   *tool.Registry
	system  string
	logger  *slog.Logger
}

// New validates cfg and returns an agent.
func New(cfg Config) (*Agent, error) {
	missing := make([]string, 0, 3)
	if cfg.Runtime == nil {
		missing = append(missing, "runtime")
	}
	if cfg.Memory == nil {
		missing = append(missing, "memory")
	}
	if cfg.Tools == nil || cfg.Tools.Len() == 0 {
		missing = append(missing, "tools")
	}
	if len(missing) > 0 {
		return nil, tool.Errorf(tool.KindAssembly, "agent: missing %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"fields": missing})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		runtime: cfg.Runtime,
		memory:  cfg.Memory,
		tools:   cfg.Tools,
		system:  cfg.System,
		logger:  cfg.Logger,
	}, nil
}

// Tools returns the registry the agent exposes to its runtime.
func (a *Agent) Tools() *tool.Registry {
	return a.tools
}

// Stream answers req lazily. The sequence yields agent.started, the
// runtime's tool activity, then message.final; on failure it yields one
// agent.failed event paired with the error and stops. The prompt and the
// final answer are appended to thread memory before message.final is
// yielded.
func (a *Agent) Stream(ctx context.Context, req chat.Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		start := time.Now()
		stamp := func(ev Event) Event {
			ev.ThreadID = req.ThreadID
			ev.ResponseID = req.ResponseID
			return ev
		}
		fail := func(err error) {
			ev := stamp(NewEvent(EventFailed))
			ev.Text = err.Error()
			ev.Elapsed = time.Since(start)
			a.logger.Warn("agent turn failed",
				"thread_id", req.ThreadID,
				"response_id", req.ResponseID,
				"kind", tool.KindOf(err),
				"error", err,
			)
			yield(ev, err)
		}

		if err := chat.Validate(req); err != nil {
			fail(err)
			return
		}
		history, err := a.memory.Load(ctx, req.ThreadID)
		if err != nil {
			fail(tool.Wrap(tool.KindUpstream, err, "loading conversation memory"))
			return
		}
		if !yield(stamp(NewEvent(EventStarted)), nil) {
			return
		}

		turn := Turn{
			ThreadID:   req.ThreadID,
			ResponseID: req.ResponseID,
			System:     a.system,
			History:    history,
			Prompt:     req.Prompt,
			Tools:      a.tools,
		}
		for ev, err := range a.runtime.Run(ctx, turn) {
			if err != nil {
				fail(err)
				return
			}
			ev = stamp(ev)
			if ev.Kind != EventFinal {
				if !yield(ev, nil) {
					return
				}
				continue
			}

			if err := a.remember(ctx, req, ev); err != nil {
				a.logger.Error("storing conversation memory failed",
					"thread_id", req.ThreadID,
					"error", err,
				)
			}
			ev.Elapsed = time.Since(start)
			yield(ev, nil)
			return
		}
		fail(tool.NewError(tool.KindUpstream, "runtime ended without an answer"))
	}
}

func (a *Agent) remember(ctx context.Context, req chat.Request, final Event) error {
	return a.memory.Append(ctx, req.ThreadID,
		memory.Message{ID: req.Prompt.ID, Role: req.Prompt.Role, Content: req.Prompt.Content},
		memory.Message{Role: chat.RoleAssistant, Content: final.Text, Time: final.Time},
	)
}

// Ask drains Stream into a single response.
func (a *Agent) Ask(ctx context.Context, req chat.Request) (chat.Response, error) {
	return Collect(req, a.Stream(ctx, req))
}

// Collect drains a turn's events into a response, pairing each tool call
// with its result. The response gets a fresh message id.
func Collect(req chat.Request, seq iter.Seq2[Event, error]) (chat.Response, error) {
	resp := chat.Response{
		ResponseID: req.ResponseID,
		ThreadID:   req.ThreadID,
		Role:       chat.RoleAssistant,
	}
	calls := make(map[string]int)
	for ev, err := range seq {
		if err != nil {
			return chat.Response{}, err
		}
		switch ev.Kind {
		case EventToolCall:
			calls[ev.CallID] = len(resp.ToolCalls)
			resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{ID: ev.CallID, Name: ev.Tool, Arguments: ev.Arguments})
		case EventToolResult:
			if i, ok := calls[ev.CallID]; ok && ev.Result != nil {
				resp.ToolCalls[i].Result = *ev.Result
			}
		case EventFinal:
			resp.MessageID = uuid.NewString()
			resp.Content = ev.Text
			return resp, nil
		}
	}
	return chat.Response{}, errors.New("agent: stream ended without an answer")
}
