// Package cli implements the finagent command line: serving the HTTP API,
// one-shot questions and direct tool invocation.
package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/finagent/config"
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "finagent",
		Short: "Financial research assistant",
		Long:  "finagent answers financial questions with a language model that can look up prices, history, balance sheets, news and the web.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate("finagent version {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to finagent.yaml (default: ./finagent.yaml or ~/.finagent/config.yaml)")
	flags.Bool("verbose", false, "Enable verbose/debug logging")
	flags.Bool("quiet", false, "Suppress all output except errors")
	flags.String("model", "", "Model name, overrides "+config.EnvLLMName)
	flags.String("llm-base-url", "", "Model endpoint, overrides "+config.EnvLLMBaseURL)
	flags.String("search-provider", "", "Web search provider: tavily | duckduckgo")
	flags.String("memory-dsn", "", "SQLite DSN for conversation memory (empty keeps it in process)")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewAskCmd())
	root.AddCommand(NewToolsCmd())
	return root
}

// loadConfig resolves file and environment configuration, then applies
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, exitError(exitAssembly, "loading configuration: %v", err)
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"model", &cfg.LLM.Name},
		{"llm-base-url", &cfg.LLM.BaseURL},
		{"search-provider", &cfg.Search.Provider},
		{"memory-dsn", &cfg.Memory.DSN},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		value, _ := cmd.Flags().GetString(o.flag)
		*o.target = strings.TrimSpace(value)
	}
	return cfg, nil
}

// newLogger builds the command logger. JSON suits long-running servers,
// text suits terminals.
func newLogger(cmd *cobra.Command, w io.Writer, json bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
