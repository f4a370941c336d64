package cli

import (
	"fmt"
	"os"

	"github.com/ogulcanaydogan/costwatch/pkg/tokenizer"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single LLM call",
	Long: `Record one LLM call with its model and token counts. The cost is computed
from the pricing table and checked against the budget.

With --prompt-file and no --input-tokens, input tokens are counted from the
file with tiktoken (or estimated for non-OpenAI models).`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringP("agent", "a", "", "Agent that made the call (default from config)")
	recordCmd.Flags().StringP("model", "m", "", "Model name (e.g., gpt-5, claude-haiku-4, llama3:8b)")
	recordCmd.Flags().Int64("input-tokens", 0, "Number of input tokens")
	recordCmd.Flags().Int64("output-tokens", 0, "Number of output tokens")
	recordCmd.Flags().String("prompt-file", "", "Count input tokens from this file")
	recordCmd.Flags().Float64("duration", 0, "Call duration in seconds")
	recordCmd.Flags().Bool("failed", false, "Mark the call as failed")
	recordCmd.Flags().String("task-id", "", "Task identifier")
	recordCmd.Flags().String("correlation-id", "", "Correlation identifier")
	_ = recordCmd.MarkFlagRequired("model")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	agent, _ := flags.GetString("agent")
	modelName, _ := flags.GetString("model")
	inputTokens, _ := flags.GetInt64("input-tokens")
	outputTokens, _ := flags.GetInt64("output-tokens")
	promptFile, _ := flags.GetString("prompt-file")
	duration, _ := flags.GetFloat64("duration")
	failed, _ := flags.GetBool("failed")
	taskID, _ := flags.GetString("task-id")
	correlationID, _ := flags.GetString("correlation-id")

	if promptFile != "" && !flags.Changed("input-tokens") {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return fmt.Errorf("read prompt file: %w", err)
		}
		n, method, err := tokenizer.Count(string(data), modelName)
		if err != nil {
			return fmt.Errorf("count prompt tokens: %w", err)
		}
		inputTokens = n
		fmt.Fprintf(cmd.ErrOrStderr(), "Counted %d input tokens (%s)\n", n, method)
	}

	return withApp(cmd, func(a *app) error {
		if agent == "" {
			agent = a.cfg.Defaults.Agent
		}

		rec, fired, err := a.recorder.RecordWithAlerts(cmd.Context(), tracker.Call{
			Agent:           agent,
			Model:           modelName,
			InputTokens:     inputTokens,
			OutputTokens:    outputTokens,
			DurationSeconds: duration,
			Success:         !failed,
			TaskID:          taskID,
			CorrelationID:   correlationID,
		})
		if err != nil {
			return fmt.Errorf("record call: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Recorded call:\n")
		fmt.Fprintf(out, "  ID:            %s\n", rec.ID)
		fmt.Fprintf(out, "  Agent:         %s\n", rec.Agent)
		fmt.Fprintf(out, "  Model:         %s (%s)\n", rec.Model, rec.Tier)
		fmt.Fprintf(out, "  Input tokens:  %d\n", rec.InputTokens)
		fmt.Fprintf(out, "  Output tokens: %d\n", rec.OutputTokens)
		fmt.Fprintf(out, "  Cost:          $%s\n", rec.CostUSD.StringFixed(6))
		if len(fired) > 0 {
			fmt.Fprintf(out, "  Alerts:        %d fired\n", len(fired))
		}
		return nil
	})
}
