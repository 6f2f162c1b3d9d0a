package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/finagent/agent"
	"github.com/petal-labs/finagent/tool"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke the financial tools directly",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsInvokeCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered tools",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

const toolsInvokeExample = `  finagent tools invoke get_stock_price --arg ticker=NVDA
  finagent tools invoke get_historical_stock_price --arg ticker=AAPL --arg start_date=2024-01-02 --arg end_date=2024-01-31
  finagent tools invoke web_search --args-json '{"query":"semiconductor export rules"}'`

func newToolsInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invoke <name>",
		Short:   "Invoke one tool and print its result",
		Example: toolsInvokeExample,
		Args:    cobra.ExactArgs(1),
		RunE:    runToolsInvoke,
	}
	cmd.Flags().StringArray("arg", nil, "Tool input as key=value (repeatable)")
	cmd.Flags().String("args-json", "", "Tool inputs as a JSON object")
	return cmd
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	reg, cleanup, err := openTools(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	descriptors := reg.Descriptors()
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(descriptors)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINPUTS\tDESCRIPTION")
	for _, d := range descriptors {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, formatInputs(d.Inputs), firstSentence(d.Description))
	}
	return w.Flush()
}

func runToolsInvoke(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	reg, cleanup, err := openTools(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	adapter, ok := reg.Get(name)
	if !ok {
		return exitError(exitValidation, "unknown tool %q", name)
	}
	inputs, err := parseToolInputs(cmd, adapter.Descriptor())
	if err != nil {
		return exitError(exitValidation, "invalid tool inputs: %v", err)
	}

	result := reg.Invoke(cmd.Context(), name, inputs)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return exitError(exitGeneric, "encoding result: %v", err)
	}
	if !result.OK() {
		return exitError(exitCodeFor(result.Failure.Kind), "%s: %s", result.Failure.Kind, result.Failure.Message)
	}
	return nil
}

func openTools(cmd *cobra.Command) (*tool.Registry, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cmd.ErrOrStderr(), false)
	reg, cleanup, err := agent.AssembleTools(cfg, agent.Options{Logger: logger})
	if err != nil {
		return nil, nil, exitFor(err)
	}
	return reg, cleanup, nil
}

// parseToolInputs merges --arg pairs with --args-json. JSON values win.
func parseToolInputs(cmd *cobra.Command, d tool.Descriptor) (map[string]any, error) {
	inputs := map[string]any{}
	rawPairs, _ := cmd.Flags().GetStringArray("arg")
	for _, pair := range rawPairs {
		key, value, err := parseKeyValue(pair)
		if err != nil {
			return nil, err
		}
		inputs[key] = coerceValue(d, key, value)
	}

	argsJSON, _ := cmd.Flags().GetString("args-json")
	if strings.TrimSpace(argsJSON) == "" {
		return inputs, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &obj); err != nil {
		return nil, fmt.Errorf("--args-json must be a JSON object: %w", err)
	}
	for key, value := range obj {
		inputs[key] = value
	}
	return inputs, nil
}

func parseKeyValue(value string) (string, string, error) {
	key, val, found := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errors.New("key is required")
	}
	if !found {
		return "", "", fmt.Errorf("value is required for %q", key)
	}
	return key, val, nil
}

// coerceValue converts a flag string to the declared input type. Values that
// do not parse are passed through so validation can report them.
func coerceValue(d tool.Descriptor, key, value string) any {
	param, ok := d.Param(key)
	if !ok {
		return parsePrimitiveValue(value)
	}
	switch param.Type {
	case tool.TypeNumber:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case tool.TypeInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return float64(n)
		}
	case tool.TypeBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

func parsePrimitiveValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if b, err := strconv.ParseBool(trimmed); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return value
}

func formatInputs(params []tool.Param) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		part := p.Name + ":" + string(p.Type)
		if !p.Required {
			part += "?"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ",")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, ". "); idx >= 0 {
		return s[:idx+1]
	}
	return s
}
