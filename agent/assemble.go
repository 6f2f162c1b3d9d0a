package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	iriscore "github.com/petal-labs/iris/core"
	"github.com/petal-labs/iris/providers/ollama"
	"github.com/petal-labs/iris/providers/openai"

	"github.com/petal-labs/finagent/config"
	"github.com/petal-labs/finagent/finance"
	"github.com/petal-labs/finagent/market"
	"github.com/petal-labs/finagent/memory"
	"github.com/petal-labs/finagent/search"
	"github.com/petal-labs/finagent/tool"
	"github.com/petal-labs/finagent/upstream"
)

// Options override collaborators Assemble would otherwise build from
// configuration. Tests use them to inject fakes.
type Options struct {
	Logger     *slog.Logger
	Provider   iriscore.Provider
	Market     market.Client
	Search     search.Client
	Memory     memory.Store
	HTTPClient *http.Client
}

// Assembly is a ready agent together with the resources it owns.
type Assembly struct {
	Agent  *Agent
	Tools  *tool.Registry
	Memory memory.Store
	Pruner *memory.Pruner

	closers []func()
}

// Close stops the pruner and releases the memory store and upstream
// connections.
func (a *Assembly) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Pruner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.Pruner.Stop(ctx))
		cancel()
	}
	if a.Memory != nil {
		errs = append(errs, a.Memory.Close())
	}
	for _, closeFn := range a.closers {
		closeFn()
	}
	return errors.Join(errs...)
}

// Assemble validates cfg and wires the agent: upstream clients, the five
// tools, thread memory with its pruner, and the model provider. Every
// missing setting is reported in a single AssemblyError before anything is
// built.
func Assemble(ctx context.Context, cfg config.Config, opts Options) (*Assembly, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, closeTools, err := buildTools(cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	asm := &Assembly{Tools: registry, closers: []func(){closeTools}}

	store := opts.Memory
	if store == nil {
		store, err = NewMemoryStore(cfg.Memory)
		if err != nil {
			_ = asm.Close()
			return nil, err
		}
	}
	asm.Memory = store

	if cfg.Memory.Retention > 0 {
		pruner, err := memory.NewPruner(memory.PrunerConfig{
			Store:     store,
			Retention: cfg.Memory.Retention,
			Schedule:  cfg.Memory.PruneSchedule,
			Logger:    logger,
		})
		if err != nil {
			_ = asm.Close()
			return nil, tool.Wrap(tool.KindAssembly, err, "memory pruner").
				WithDetails(map[string]any{"fields": []string{config.EnvPruneSchedule}})
		}
		asm.Pruner = pruner
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = NewProvider(cfg.LLM)
		if err != nil {
			_ = asm.Close()
			return nil, err
		}
	}
	runtime, err := NewIrisRuntime(IrisRuntimeConfig{
		Provider: provider,
		Model:    cfg.LLM.Name,
		MaxTurns: cfg.Agent.MaxTurns,
		Logger:   logger,
	})
	if err != nil {
		_ = asm.Close()
		return nil, err
	}

	ag, err := New(Config{
		Runtime: runtime,
		Memory:  store,
		Tools:   registry,
		System:  cfg.Agent.SystemPrompt,
		Logger:  logger,
	})
	if err != nil {
		_ = asm.Close()
		return nil, err
	}
	asm.Agent = ag

	if asm.Pruner != nil {
		asm.Pruner.Start()
	}
	logger.InfoContext(ctx, "agent assembled",
		"model", cfg.LLM.Name,
		"provider", cfg.LLM.Provider,
		"search", cfg.Search.Provider,
		"tools", registry.Len(),
		"persistent_memory", cfg.Memory.DSN != "",
	)
	return asm, nil
}

// AssembleTools builds only the tool registry, for commands that invoke
// tools directly. The returned func releases upstream connections.
func AssembleTools(cfg config.Config, opts Options) (*tool.Registry, func(), error) {
	if err := cfg.ValidateTools(); err != nil {
		return nil, nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return buildTools(cfg, opts, logger)
}

func buildTools(cfg config.Config, opts Options, logger *slog.Logger) (*tool.Registry, func(), error) {
	var clients []*upstream.Client
	open := func(uc upstream.Config) *upstream.Client {
		uc.HTTPClient = opts.HTTPClient
		uc.Logger = logger
		c := upstream.New(uc)
		clients = append(clients, c)
		return c
	}
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	marketClient := opts.Market
	if marketClient == nil {
		baseURL := cfg.Market.BaseURL
		if baseURL == "" {
			baseURL = market.YahooBaseURL
		}
		uc := cfg.Upstream("yahoo", baseURL)
		uc.UserAgent = market.YahooUserAgent
		marketClient = market.NewYahoo(open(uc), market.WithNewsCount(cfg.Market.NewsCount))
	}

	searchClient := opts.Search
	if searchClient == nil {
		switch cfg.Search.Provider {
		case config.SearchDuckDuckGo:
			baseURL := cfg.Search.BaseURL
			if baseURL == "" {
				baseURL = search.DuckDuckGoBaseURL
			}
			uc := cfg.Upstream("duckduckgo", baseURL)
			uc.UserAgent = market.YahooUserAgent
			searchClient = search.NewDuckDuckGo(open(uc), cfg.Search.MaxResults)
		default:
			uc := search.TavilyUpstream(cfg.Search.TavilyAPIKey, cfg.Upstream("tavily", cfg.Search.BaseURL))
			searchClient = search.NewTavily(open(uc), search.WithMaxResults(cfg.Search.MaxResults))
		}
	}

	registry, err := finance.NewRegistry(finance.Deps{Market: marketClient, Search: searchClient, Logger: logger})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return registry, closeAll, nil
}

// NewMemoryStore opens the SQLite store when a DSN is configured and an
// in-process store otherwise.
func NewMemoryStore(cfg config.MemoryConfig) (memory.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return memory.NewMemStore(), nil
	}
	store, err := memory.NewSQLiteStore(memory.SQLiteStoreConfig{DSN: cfg.DSN})
	if err != nil {
		return nil, tool.Wrap(tool.KindAssembly, err, "opening conversation memory").
			WithDetails(map[string]any{"fields": []string{config.EnvMemoryDSN}})
	}
	return store, nil
}

// NewProvider builds the iris chat provider for an OpenAI-compatible or
// Ollama endpoint.
func NewProvider(cfg config.LLMConfig) (iriscore.Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	switch cfg.Provider {
	case config.LLMProviderOpenAI, "":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, tool.NewError(tool.KindAssembly, "openai provider requires an API key").
				WithDetails(map[string]any{"fields": []string{config.EnvLLMAPIKey}})
		}
		if baseURL == "" {
			return openai.New(cfg.APIKey), nil
		}
		return openai.New(cfg.APIKey, openai.WithBaseURL(baseURL)), nil
	case config.LLMProviderOllama:
		if baseURL == "" {
			return ollama.New(), nil
		}
		return ollama.New(ollama.WithBaseURL(baseURL)), nil
	default:
		return nil, tool.Errorf(tool.KindAssembly, "unsupported LLM provider %q", cfg.Provider).
			WithDetails(map[string]any{"fields": []string{config.EnvLLMProvider}})
	}
}
