package tracker

import (
	"fmt"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/pricing"
	"github.com/shopspring/decimal"
)

// Quote is the priced outcome of a model call.
type Quote struct {
	Model   string          `json:"model"`
	Tier    model.ModelTier `json:"tier"`
	Rates   model.Rates     `json:"rates"`
	CostUSD decimal.Decimal `json:"cost_usd"`
}

// CostCalculator computes costs for LLM calls.
type CostCalculator struct {
	table *pricing.Table
}

// NewCostCalculator creates a cost calculator backed by a pricing table.
func NewCostCalculator(table *pricing.Table) *CostCalculator {
	return &CostCalculator{table: table}
}

// Calculate resolves the tier of modelName and prices the token counts.
// The cost is exact; nothing is rounded.
func (c *CostCalculator) Calculate(modelName string, inputTokens, outputTokens int64) (Quote, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return Quote{}, fmt.Errorf("%w: negative token count (input=%d output=%d)", model.ErrInvalidCallData, inputTokens, outputTokens)
	}

	tier := c.table.ResolveTier(modelName)
	rates, err := c.table.RatesFor(tier)
	if err != nil {
		return Quote{}, fmt.Errorf("cost calculation: %w", err)
	}
	cost, err := c.table.Cost(tier, inputTokens, outputTokens)
	if err != nil {
		return Quote{}, fmt.Errorf("cost calculation: %w", err)
	}
	return Quote{Model: modelName, Tier: tier, Rates: rates, CostUSD: cost}, nil
}
