// Package server exposes the financial assistant over HTTP: tool discovery
// and invocation, and chat turns as JSON or Server-Sent Events.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/petal-labs/finagent/agent"
	"github.com/petal-labs/finagent/otel"
	"github.com/petal-labs/finagent/tool"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Agent *agent.Agent
	// Tools defaults to the agent's registry.
	Tools *tool.Registry
	// Telemetry, when set, traces and meters every chat turn.
	Telemetry  *otel.Telemetry
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the finagent HTTP API server.
type Server struct {
	agent      *agent.Agent
	tools      *tool.Registry
	telemetry  *otel.Telemetry
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	tools := cfg.Tools
	if tools == nil && cfg.Agent != nil {
		tools = cfg.Agent.Tools()
	}
	return &Server{
		agent:      cfg.Agent,
		tools:      tools,
		telemetry:  cfg.Telemetry,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools/{name}/invoke", s.handleInvokeTool)
	mux.HandleFunc("POST /api/chat", s.handleChat)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

// writeToolError maps a failure kind onto an HTTP status. Details list the
// offending fields.
func writeToolError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
		return
	}
	kind := tool.KindOf(err)
	writeError(w, statusFor(kind), kind.Code(), err.Error(), tool.Fields(err)...)
}

func statusFor(kind tool.Kind) int {
	switch kind {
	case tool.KindValidation, tool.KindInvalidRange:
		return http.StatusBadRequest
	case tool.KindNotFound:
		return http.StatusNotFound
	case tool.KindAssembly:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
