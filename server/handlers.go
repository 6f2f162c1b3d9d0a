package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/petal-labs/finagent/agent"
	"github.com/petal-labs/finagent/chat"
	"github.com/petal-labs/finagent/sse"
	"github.com/petal-labs/finagent/tool"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toolView is a descriptor as listed by the API.
type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Inputs      []tool.Param    `json:"inputs"`
	Schema      json.RawMessage `json:"schema"`
}

// handleListTools returns every registered tool in registration order.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, []toolView{})
		return
	}
	descs := s.tools.Descriptors()
	out := make([]toolView, 0, len(descs))
	for _, d := range descs {
		out = append(out, toolView{
			Name:        d.Name,
			Description: d.Description,
			Inputs:      d.Inputs,
			Schema:      d.RawSchema(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleInvokeTool runs one tool with the JSON object body as arguments.
// Both result variants answer 200; only an unknown tool or an unreadable
// body is a transport error.
func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.tools == nil {
		writeError(w, http.StatusNotFound, tool.KindNotFound.Code(), "tool \""+name+"\" not found")
		return
	}
	if _, ok := s.tools.Get(name); !ok {
		writeError(w, http.StatusNotFound, tool.KindNotFound.Code(), "tool \""+name+"\" not found")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeToolError(w, tool.Wrap(tool.KindValidation, err, "reading request body").
			WithDetails(map[string]any{"fields": []string{chat.FieldBody}}))
		return
	}

	result := s.tools.InvokeJSON(r.Context(), name, body)
	s.logger.Info("tool invoked over http",
		"tool", name,
		"ok", result.OK(),
	)
	writeJSON(w, http.StatusOK, result)
}

// handleChat answers one chat turn. Clients that accept text/event-stream
// receive the turn's events as they happen; others get the final
// chat.Response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, tool.KindAssembly.Code(), "agent is not configured")
		return
	}

	req, err := chat.Decode(r.Body)
	if err != nil {
		writeToolError(w, err)
		return
	}

	stream := wantsEventStream(r)
	s.logger.Info("chat request",
		"thread_id", req.ThreadID,
		"response_id", req.ResponseID,
		"prompt", tool.Truncate(req.Prompt.Content, tool.LogPreviewLimit),
		"stream", stream,
	)

	events := s.telemetry.Instrument(s.agent.Stream(r.Context(), req))
	if stream {
		err := sse.Stream(r.Context(), w, events, sse.Options{MessageID: uuid.NewString()})
		if !errors.Is(err, sse.ErrStreamingUnsupported) {
			if err != nil {
				s.logger.Debug("chat stream ended early", "thread_id", req.ThreadID, "error", err)
			}
			return
		}
	}

	resp, err := agent.Collect(req, events)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func wantsEventStream(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/event-stream" {
			return true
		}
	}
	return false
}
