// Package config resolves finagent configuration from a YAML file and the
// environment, and checks it before anything is assembled.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/finagent/tool"
	"github.com/petal-labs/finagent/upstream"
)

const (
	projectConfigName = "finagent.yaml"
	homeConfigName    = "config.yaml"
)

// Provider names.
const (
	LLMProviderOpenAI  = "openai"
	LLMProviderOllama  = "ollama"
	SearchTavily       = "tavily"
	SearchDuckDuckGo   = "duckduckgo"
	DefaultMaxTurns    = 8
	DefaultHTTPTimeout = 15 * time.Second
)

// DefaultSystemPrompt frames the assistant for financial questions.
const DefaultSystemPrompt = "You are a financial research assistant. Use the available tools to look up " +
	"stock prices, price history, balance sheets, news and web results before answering. " +
	"Cite the figures you retrieved, say when a tool failed, and never invent numbers."

// Config is the complete runtime configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Market    MarketConfig    `yaml:"market"`
	Memory    MemoryConfig    `yaml:"memory"`
	HTTP      HTTPConfig      `yaml:"http"`
	Agent     AgentConfig     `yaml:"agent"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LLMConfig selects the language model connection.
type LLMConfig struct {
	// Name is the model identifier, e.g. gpt-4o-mini.
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
}

// SearchConfig selects the web search provider.
type SearchConfig struct {
	Provider     string `yaml:"provider"`
	TavilyAPIKey string `yaml:"tavily_api_key"`
	BaseURL      string `yaml:"base_url"`
	MaxResults   int    `yaml:"max_results"`
}

// MarketConfig points the market-data client at a Yahoo Finance host.
type MarketConfig struct {
	BaseURL   string `yaml:"base_url"`
	NewsCount int    `yaml:"news_count"`
}

// MemoryConfig selects the conversation store. An empty DSN keeps history
// in memory; a zero retention disables pruning.
type MemoryConfig struct {
	DSN           string        `yaml:"dsn"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// HTTPConfig bounds every upstream request.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

// AgentConfig tunes the tool-calling loop.
type AgentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	MaxTurns     int    `yaml:"max_turns"`
}

// TelemetryConfig configures OpenTelemetry export. An empty endpoint keeps
// traces in-process.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used before any file or environment
// overrides.
func Default() Config {
	return Config{
		LLM:    LLMConfig{Provider: LLMProviderOpenAI},
		Search: SearchConfig{Provider: SearchTavily},
		Memory: MemoryConfig{PruneSchedule: "@hourly"},
		HTTP: HTTPConfig{
			Timeout:          DefaultHTTPTimeout,
			RetryMaxAttempts: upstream.DefaultRetryPolicy.MaxAttempts,
			RetryBackoff:     upstream.DefaultRetryPolicy.Backoff,
		},
		Agent:     AgentConfig{SystemPrompt: DefaultSystemPrompt, MaxTurns: DefaultMaxTurns},
		Telemetry: TelemetryConfig{ServiceName: "finagent"},
	}
}

// Load resolves configuration: defaults, then the discovered YAML file, then
// the process environment. explicitPath overrides FINAGENT_CONFIG.
func Load(explicitPath string) (Config, error) {
	if strings.TrimSpace(explicitPath) == "" {
		explicitPath = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, err
	}
	if found {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DiscoverPath resolves the config file location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath) != ""
	if explicit {
		candidates = append(candidates, filepath.Clean(strings.TrimSpace(explicitPath)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, ".finagent", homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return nil
}

// Validate reports every missing or invalid setting in one AssemblyError.
// Fields are named by their environment variables.
func (c Config) Validate() error {
	diags := c.llmDiagnostics()
	diags = append(diags, c.toolDiagnostics()...)
	diags = append(diags, c.agentDiagnostics()...)
	return assemblyError(diags)
}

// ValidateTools checks only what the financial tools need, for commands that
// invoke tools without a language model.
func (c Config) ValidateTools() error {
	return assemblyError(c.toolDiagnostics())
}

func assemblyError(diags []tool.Diagnostic) error {
	if err := tool.DiagnosticsError(tool.KindAssembly, "configuration incomplete", diags); err != nil {
		return err
	}
	return nil
}

func requiredDiag(diags []tool.Diagnostic, field, value string) []tool.Diagnostic {
	if strings.TrimSpace(value) == "" {
		return append(diags, tool.ErrorDiag(field, tool.CodeMissingRequired, field+" is required"))
	}
	return diags
}

func (c Config) llmDiagnostics() []tool.Diagnostic {
	diags := make([]tool.Diagnostic, 0)
	diags = requiredDiag(diags, EnvLLMName, c.LLM.Name)
	diags = requiredDiag(diags, EnvLLMBaseURL, c.LLM.BaseURL)
	switch c.LLM.Provider {
	case LLMProviderOpenAI:
		diags = requiredDiag(diags, EnvLLMAPIKey, c.LLM.APIKey)
	case LLMProviderOllama:
	default:
		diags = append(diags, tool.ErrorDiag(EnvLLMProvider, tool.CodeInvalidValue,
			fmt.Sprintf("%s %q must be %s or %s", EnvLLMProvider, c.LLM.Provider, LLMProviderOpenAI, LLMProviderOllama)))
	}
	return diags
}

func (c Config) toolDiagnostics() []tool.Diagnostic {
	diags := make([]tool.Diagnostic, 0)
	switch c.Search.Provider {
	case SearchTavily:
		diags = requiredDiag(diags, EnvTavilyAPIKey, c.Search.TavilyAPIKey)
	case SearchDuckDuckGo:
	default:
		diags = append(diags, tool.ErrorDiag(EnvSearchProvider, tool.CodeInvalidValue,
			fmt.Sprintf("%s %q must be %s or %s", EnvSearchProvider, c.Search.Provider, SearchTavily, SearchDuckDuckGo)))
	}
	if c.HTTP.Timeout <= 0 {
		diags = append(diags, tool.ErrorDiag(EnvHTTPTimeout, tool.CodeInvalidValue, EnvHTTPTimeout+" must be positive"))
	}
	if c.HTTP.RetryMaxAttempts < 1 {
		diags = append(diags, tool.ErrorDiag(EnvRetryMaxAttempts, tool.CodeInvalidValue, EnvRetryMaxAttempts+" must be at least 1"))
	}
	return diags
}

func (c Config) agentDiagnostics() []tool.Diagnostic {
	diags := make([]tool.Diagnostic, 0)
	if c.Agent.MaxTurns < 1 {
		diags = append(diags, tool.ErrorDiag(EnvMaxTurns, tool.CodeInvalidValue, EnvMaxTurns+" must be at least 1"))
	}
	if c.Memory.Retention < 0 {
		diags = append(diags, tool.ErrorDiag(EnvMemoryRetention, tool.CodeInvalidValue, EnvMemoryRetention+" must not be negative"))
	}
	return diags
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	out := c
	out.LLM.APIKey = tool.Mask(c.LLM.APIKey)
	out.Search.TavilyAPIKey = tool.Mask(c.Search.TavilyAPIKey)
	return out
}

// RetryPolicy returns the upstream retry policy.
func (c Config) RetryPolicy() upstream.RetryPolicy {
	return upstream.RetryPolicy{MaxAttempts: c.HTTP.RetryMaxAttempts, Backoff: c.HTTP.RetryBackoff}
}

// Upstream returns the shared upstream settings for a provider.
func (c Config) Upstream(name, baseURL string) upstream.Config {
	return upstream.Config{
		Name:    name,
		BaseURL: baseURL,
		Timeout: c.HTTP.Timeout,
		Retry:   c.RetryPolicy(),
	}
}
