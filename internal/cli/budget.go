package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and reset the spending budget",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current budget status",
	RunE:  runBudgetStatus,
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new budget period now",
	Long: `Start a new budget period. Cumulative spend restarts at zero and every
threshold can fire again; per-alert cooldowns still apply.`,
	RunE: runBudgetReset,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetStatusCmd)
	budgetCmd.AddCommand(budgetResetCmd)
}

var (
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func statusLabel(pct float64) string {
	switch {
	case pct >= 100:
		return criticalStyle.Render("EXCEEDED")
	case pct >= 90:
		return criticalStyle.Render("CRITICAL")
	case pct >= 80:
		return warningStyle.Render("WARNING")
	}
	return okStyle.Render("OK")
}

func printBudget(out io.Writer, st tracker.BudgetState) {
	if !st.Enabled {
		fmt.Fprintln(out, "No budget configured. Set budget.limit_usd to enable alerts.")
		fmt.Fprintf(out, "Spent this period: $%s (since %s)\n", st.CumulativeUSD.StringFixed(4), st.PeriodStart.Format(time.RFC3339))
		return
	}

	remaining := st.LimitUSD.Sub(st.CumulativeUSD)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PERIOD START\tLIMIT\tSPENT\tREMAINING\tUSAGE\tSTATUS\n")
	fmt.Fprintf(w, "%s\t$%s\t$%s\t$%s\t%.1f%%\t%s\n",
		st.PeriodStart.Format(time.RFC3339),
		st.LimitUSD.StringFixed(2), st.CumulativeUSD.StringFixed(4), remaining.StringFixed(4),
		st.Percent, statusLabel(st.Percent),
	)
	w.Flush()

	fmt.Fprintf(out, "\nLast hour: $%s", st.HourlyUSD.StringFixed(4))
	if st.HourlyMaxUSD.IsPositive() {
		fmt.Fprintf(out, " (expected max $%s)", st.HourlyMaxUSD.StringFixed(2))
	}
	fmt.Fprintf(out, "\nLast 24h:  $%s", st.DailyUSD.StringFixed(4))
	if st.DailyMaxUSD.IsPositive() {
		fmt.Fprintf(out, " (expected max $%s)", st.DailyMaxUSD.StringFixed(2))
	}
	fmt.Fprintln(out)

	fired := false
	for _, kind := range model.AlertKinds {
		mark, ok := st.Marks[kind]
		if !ok || mark.LastFiredAt.IsZero() {
			continue
		}
		if !fired {
			fmt.Fprintf(out, "\nAlerts:\n")
			fired = true
		}
		fmt.Fprintf(out, "  %-14s last fired %s\n", kind, mark.LastFiredAt.Format(time.RFC3339))
	}
}

func runBudgetStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		printBudget(cmd.OutOrStdout(), a.store.BudgetStatus())
		return nil
	})
}

func runBudgetReset(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		if err := a.store.ResetBudgetPeriod(cmd.Context()); err != nil {
			return fmt.Errorf("reset budget: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Budget period reset at %s\n", a.store.BudgetStatus().PeriodStart.Format(time.RFC3339))
		return nil
	})
}
