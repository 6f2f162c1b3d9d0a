package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petal-labs/finagent/agent"
	"github.com/petal-labs/finagent/chat"
	"github.com/petal-labs/finagent/tool"
)

// NewAskCmd creates the "ask" subcommand.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask the assistant one question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().String("thread", "", "Thread id to continue (default: a new thread)")
	cmd.Flags().Bool("json", false, "Print the full response as JSON")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	threadID, _ := cmd.Flags().GetString("thread")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cmd.ErrOrStderr(), false)

	asm, err := agent.Assemble(cmd.Context(), cfg, agent.Options{Logger: logger})
	if err != nil {
		return exitFor(err)
	}
	defer func() {
		_ = asm.Close()
	}()

	if strings.TrimSpace(threadID) == "" {
		threadID = uuid.NewString()
	}
	req := chat.Request{
		Prompt: chat.Prompt{
			Content: strings.Join(args, " "),
			ID:      uuid.NewString(),
			Role:    chat.RoleUser,
		},
		ThreadID:   threadID,
		ResponseID: uuid.NewString(),
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	events := asm.Agent.Stream(cmd.Context(), req)
	progress := func(yield func(agent.Event, error) bool) {
		for ev, err := range events {
			if err == nil && !quiet && !asJSON {
				reportProgress(cmd, ev)
			}
			if !yield(ev, err) {
				return
			}
		}
	}

	resp, err := agent.Collect(req, progress)
	if err != nil {
		return exitFor(err)
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", resp.ThreadID)
	}
	return nil
}

func reportProgress(cmd *cobra.Command, ev agent.Event) {
	switch ev.Kind {
	case agent.EventToolCall:
		fmt.Fprintf(cmd.ErrOrStderr(), "-> %s %s\n", ev.Tool, tool.Truncate(string(ev.Arguments), tool.LogPreviewLimit))
	case agent.EventToolResult:
		status := "ok"
		if ev.Result != nil && !ev.Result.OK() {
			status = string(ev.Result.Failure.Kind)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "<- %s %s (%s)\n", ev.Tool, status, ev.Elapsed.Round(time.Millisecond))
	}
}
