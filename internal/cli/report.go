package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize call costs",
	Long:  `Summarize recorded calls by agent, model and tier over a time window.`,
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	addFilterFlags(reportCmd)
	reportCmd.Flags().Bool("detailed", false, "Show individual records")
}

// addFilterFlags registers the record filter flags shared by report and export.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("period", "P", "", "Calendar period containing now (hourly, daily, weekly, monthly)")
	cmd.Flags().StringP("agent", "a", "", "Filter by agent")
	cmd.Flags().StringP("model", "m", "", "Filter by model")
	cmd.Flags().String("task-id", "", "Filter by task")
	cmd.Flags().String("since", "", "Only calls at or after this time (RFC3339)")
	cmd.Flags().String("until", "", "Only calls at or before this time (RFC3339)")
}

func filterFromFlags(cmd *cobra.Command, now time.Time) (model.QueryFilter, error) {
	flags := cmd.Flags()
	var f model.QueryFilter
	f.Agent, _ = flags.GetString("agent")
	f.Model, _ = flags.GetString("model")
	f.TaskID, _ = flags.GetString("task-id")

	if p, _ := flags.GetString("period"); p != "" {
		switch period := model.ReportPeriod(p); period {
		case model.PeriodHourly, model.PeriodDaily, model.PeriodWeekly, model.PeriodMonthly:
			f.Since, f.Until = model.PeriodBounds(period, now)
		default:
			return f, fmt.Errorf("unknown period %q", p)
		}
	}

	for _, b := range []struct {
		flag string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		raw, _ := flags.GetString(b.flag)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("invalid --%s: %w", b.flag, err)
		}
		*b.dst = ts.UTC()
	}
	return f, nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")

	return withApp(cmd, func(a *app) error {
		filter, err := filterFromFlags(cmd, a.store.Now())
		if err != nil {
			return err
		}

		summary, err := a.store.Summary(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}

		out := cmd.OutOrStdout()
		printSummary(out, summary)

		if detailed && summary.TotalCalls > 0 {
			fmt.Fprintf(out, "\nDetailed Records:\n")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "  TIMESTAMP\tAGENT\tMODEL\tTIER\tIN\tOUT\tCOST\tOK\n")
			for r, err := range a.store.Query(cmd.Context(), filter) {
				if err != nil {
					w.Flush()
					return fmt.Errorf("query records: %w", err)
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%d\t$%s\t%t\n",
					r.Timestamp.Format("2006-01-02 15:04:05"),
					r.Agent, r.Model, r.Tier,
					r.InputTokens, r.OutputTokens,
					r.CostUSD.StringFixed(6), r.Success,
				)
			}
			w.Flush()
		}
		return nil
	})
}

func printSummary(out io.Writer, s model.CostSummary) {
	fmt.Fprintf(out, "=== LLM Cost Report ===\n")
	if s.TotalCalls > 0 {
		fmt.Fprintf(out, "Range: %s to %s\n\n",
			s.TimeRange.Start.Format(time.RFC3339), s.TimeRange.End.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Total Cost:          $%s\n", s.TotalCostUSD.StringFixed(4))
	fmt.Fprintf(out, "Total Calls:         %d\n", s.TotalCalls)
	fmt.Fprintf(out, "Success Rate:        %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(out, "Total Input Tokens:  %d\n", s.TotalInputTokens)
	fmt.Fprintf(out, "Total Output Tokens: %d\n", s.TotalOutputTokens)
	fmt.Fprintf(out, "Total Duration:      %.1fs\n", s.TotalDurationSeconds)

	printBreakdown(out, "By Agent", "AGENT", s.ByAgent)
	printBreakdown(out, "By Model", "MODEL", s.ByModel)

	byTier := make(map[string]decimal.Decimal, len(s.ByTier))
	for tier, cost := range s.ByTier {
		byTier[string(tier)] = cost
	}
	printBreakdown(out, "By Tier", "TIER", byTier)
}

func printBreakdown(out io.Writer, title, column string, costs map[string]decimal.Decimal) {
	if len(costs) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\tCOST\n", column)
	for _, name := range slices.Sorted(maps.Keys(costs)) {
		fmt.Fprintf(w, "  %s\t$%s\n", name, costs[name].StringFixed(4))
	}
	w.Flush()
}
