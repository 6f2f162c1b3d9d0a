package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/finagent/tool"
)

// Environment variables.
const (
	EnvConfigPath       = "FINAGENT_CONFIG"
	EnvLLMName          = "LLM_NAME"
	EnvLLMBaseURL       = "LLM_BASE_URL"
	EnvLLMProvider      = "LLM_PROVIDER"
	EnvLLMAPIKey        = "LLM_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvSearchProvider   = "SEARCH_PROVIDER"
	EnvTavilyAPIKey     = "TAVILY_API_KEY"
	EnvMemoryDSN        = "FINAGENT_MEMORY_DSN"
	EnvMemoryRetention  = "FINAGENT_MEMORY_RETENTION"
	EnvPruneSchedule    = "FINAGENT_MEMORY_PRUNE_SCHEDULE"
	EnvHTTPTimeout      = "FINAGENT_HTTP_TIMEOUT"
	EnvRetryMaxAttempts = "FINAGENT_RETRY_MAX_ATTEMPTS"
	EnvRetryBackoff     = "FINAGENT_RETRY_BACKOFF"
	EnvSystemPrompt     = "FINAGENT_SYSTEM_PROMPT"
	EnvMaxTurns         = "FINAGENT_MAX_TURNS"
	EnvOTLPEndpoint     = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTELServiceName  = "OTEL_SERVICE_NAME"
)

// LookupFunc reads one environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg. Unparseable numbers and
// durations are reported together as an AssemblyError.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}
	setString := func(key string, dst *string) {
		if value, ok := get(key); ok {
			*dst = value
		}
	}

	diags := make([]tool.Diagnostic, 0)
	setInt := func(key string, dst *int) {
		value, ok := get(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			diags = append(diags, tool.ErrorDiag(key, tool.CodeInvalidType,
				fmt.Sprintf("%s must be an integer, got %q", key, value)))
			return
		}
		*dst = n
	}
	setDuration := func(key string, dst *time.Duration) {
		value, ok := get(key)
		if !ok {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			diags = append(diags, tool.ErrorDiag(key, tool.CodeInvalidType,
				fmt.Sprintf("%s must be a duration such as 30s or 24h, got %q", key, value)))
			return
		}
		*dst = d
	}

	setString(EnvLLMName, &cfg.LLM.Name)
	setString(EnvLLMBaseURL, &cfg.LLM.BaseURL)
	if value, ok := get(EnvLLMProvider); ok {
		cfg.LLM.Provider = strings.ToLower(value)
	}
	setString(EnvOpenAIAPIKey, &cfg.LLM.APIKey)
	setString(EnvLLMAPIKey, &cfg.LLM.APIKey)

	if value, ok := get(EnvSearchProvider); ok {
		cfg.Search.Provider = strings.ToLower(value)
	}
	setString(EnvTavilyAPIKey, &cfg.Search.TavilyAPIKey)

	setString(EnvMemoryDSN, &cfg.Memory.DSN)
	setDuration(EnvMemoryRetention, &cfg.Memory.Retention)
	setString(EnvPruneSchedule, &cfg.Memory.PruneSchedule)

	setDuration(EnvHTTPTimeout, &cfg.HTTP.Timeout)
	setInt(EnvRetryMaxAttempts, &cfg.HTTP.RetryMaxAttempts)
	setDuration(EnvRetryBackoff, &cfg.HTTP.RetryBackoff)

	setString(EnvSystemPrompt, &cfg.Agent.SystemPrompt)
	setInt(EnvMaxTurns, &cfg.Agent.MaxTurns)

	setString(EnvOTLPEndpoint, &cfg.Telemetry.OTLPEndpoint)
	setString(EnvOTELServiceName, &cfg.Telemetry.ServiceName)

	if err := tool.DiagnosticsError(tool.KindAssembly, "invalid environment", diags); err != nil {
		return err
	}
	return nil
}
