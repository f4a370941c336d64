package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/spf13/cobra"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect the pricing table",
}

var pricingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tier rates and model matching rules",
	RunE:  runPricingList,
}

var pricingResolveCmd = &cobra.Command{
	Use:   "resolve MODEL...",
	Short: "Show the tier and price of one or more models",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPricingResolve,
}

func init() {
	rootCmd.AddCommand(pricingCmd)
	pricingCmd.AddCommand(pricingListCmd)
	pricingCmd.AddCommand(pricingResolveCmd)

	pricingResolveCmd.Flags().Int64("input-tokens", 1000, "Input tokens to quote")
	pricingResolveCmd.Flags().Int64("output-tokens", 1000, "Output tokens to quote")
}

func runPricingList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := initPricing(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIER\tINPUT ($/1K)\tOUTPUT ($/1K)\n")
	for _, tier := range model.Tiers {
		rates, err := table.RatesFor(tier)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t$%s\t$%s\n", tier, rates.InputPer1K.String(), rates.OutputPer1K.String())
	}
	w.Flush()

	fmt.Fprintf(out, "\nRules (first match wins):\n")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  #\tTIER\tMATCHES\n")
	for i, r := range table.Rules() {
		matches := strings.Join(r.Contains, ", ")
		if r.OllamaTag {
			matches = strings.TrimPrefix(matches+", name:tag", ", ")
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\n", i+1, r.Tier, matches)
	}
	fmt.Fprintf(w, "  -\t%s\t(anything else)\n", model.TierCloudStandard)
	w.Flush()
	return nil
}

func runPricingResolve(cmd *cobra.Command, args []string) error {
	inputTokens, _ := cmd.Flags().GetInt64("input-tokens")
	outputTokens, _ := cmd.Flags().GetInt64("output-tokens")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := initPricing(cfg)
	if err != nil {
		return err
	}
	calc := tracker.NewCostCalculator(table)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MODEL\tTIER\tINPUT ($/1K)\tOUTPUT ($/1K)\tCOST (%d in / %d out)\n", inputTokens, outputTokens)
	for _, name := range args {
		q, err := calc.Calculate(name, inputTokens, outputTokens)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t$%s\t$%s\t$%s\n",
			q.Model, q.Tier, q.Rates.InputPer1K.String(), q.Rates.OutputPer1K.String(), q.CostUSD.StringFixed(6))
	}
	w.Flush()
	return nil
}
