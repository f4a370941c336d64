// Package pricing maps raw model names to pricing tiers and per-token rates.
package pricing

import (
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Rule assigns Tier to any model whose lowercased name contains one of
// Contains. Rules are evaluated in order and the first match wins.
type Rule struct {
	Tier     model.ModelTier
	Contains []string
	// OllamaTag also matches "family:tag" identifiers such as "qwen2.5-coder:7b".
	// See isOllamaTag for the ids it leaves alone.
	OllamaTag bool
}

func (r Rule) matches(name string) bool {
	if r.OllamaTag && isOllamaTag(name) {
		return true
	}
	for _, s := range r.Contains {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// DefaultRules orders matches from the narrowest tier to the broadest, so
// "gpt-5-mini" resolves to cloud_mini before the gpt-5 premium rule runs.
// The name:tag heuristic runs after the cloud rules so a colon never
// overrides a cloud family name.
var DefaultRules = []Rule{
	{Tier: model.TierLocal, Contains: []string{"local", "ollama"}},
	{Tier: model.TierCloudMini, Contains: []string{"mini", "haiku", "nano", "flash"}},
	{Tier: model.TierCloudPremium, Contains: []string{"gpt-5", "opus", "o1", "o3"}},
	{Tier: model.TierLocal, OllamaTag: true},
}

// cloudMarkers appear in the family part of provider-qualified cloud ids
// such as "anthropic:claude-sonnet-4" or "azure:gpt-4o".
var cloudMarkers = []string{
	"anthropic", "openai", "claude", "gpt", "gemini",
	"bedrock", "azure", "vertex", "amazon", "cohere", "ai21",
}

// isOllamaTag reports whether name looks like an Ollama "family:tag" id.
// Fine-tuned OpenAI ids ("ft:gpt-4o:org::id"), Bedrock versioned ids
// ("meta.llama3-70b-instruct-v1:0") and provider-prefixed cloud names
// are not tags.
func isOllamaTag(name string) bool {
	family, tag, ok := strings.Cut(name, ":")
	if !ok || family == "" || tag == "" || strings.Contains(tag, ":") {
		return false
	}
	if family == "ft" || isDigits(tag) {
		return false
	}
	for _, m := range cloudMarkers {
		if strings.Contains(family, m) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// DefaultRates are USD per 1K tokens.
var DefaultRates = map[model.ModelTier]model.Rates{
	model.TierLocal:         {InputPer1K: decimal.Zero, OutputPer1K: decimal.Zero},
	model.TierCloudMini:     {InputPer1K: decimal.RequireFromString("0.00015"), OutputPer1K: decimal.RequireFromString("0.0006")},
	model.TierCloudStandard: {InputPer1K: decimal.RequireFromString("0.0025"), OutputPer1K: decimal.RequireFromString("0.01")},
	model.TierCloudPremium:  {InputPer1K: decimal.RequireFromString("0.005"), OutputPer1K: decimal.RequireFromString("0.015")},
}

// Table resolves tiers and rates. It is immutable after construction and
// safe for concurrent use.
type Table struct {
	rules    []Rule
	fallback model.ModelTier
	rates    map[model.ModelTier]model.Rates
}

// NewTable builds a table from rules and rates. Missing tiers in rates
// fall back to DefaultRates.
func NewTable(rules []Rule, rates map[model.ModelTier]model.Rates) (*Table, error) {
	merged := make(map[model.ModelTier]model.Rates, len(DefaultRates))
	for tier, r := range DefaultRates {
		merged[tier] = r
	}
	for tier, r := range rates {
		if !tier.Valid() {
			return nil, fmt.Errorf("rates for %q: %w", tier, model.ErrUnknownTier)
		}
		if r.InputPer1K.IsNegative() || r.OutputPer1K.IsNegative() {
			return nil, fmt.Errorf("rates for %q: negative rate", tier)
		}
		merged[tier] = r
	}
	if !merged[model.TierLocal].InputPer1K.IsZero() || !merged[model.TierLocal].OutputPer1K.IsZero() {
		return nil, fmt.Errorf("rates for %q must be zero", model.TierLocal)
	}

	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Tier.Valid() {
			return nil, fmt.Errorf("rule tier %q: %w", r.Tier, model.ErrUnknownTier)
		}
		subs := make([]string, 0, len(r.Contains))
		for _, s := range r.Contains {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				subs = append(subs, s)
			}
		}
		normalized = append(normalized, Rule{Tier: r.Tier, Contains: subs, OllamaTag: r.OllamaTag})
	}

	return &Table{rules: normalized, fallback: model.TierCloudStandard, rates: merged}, nil
}

// Default returns a table with DefaultRules and DefaultRates.
func Default() *Table {
	t, err := NewTable(DefaultRules, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// ResolveTier maps a raw model name to its tier. Matching is
// case-insensitive; names matching no rule are cloud_standard.
func (t *Table) ResolveTier(modelName string) model.ModelTier {
	name := strings.ToLower(strings.TrimSpace(modelName))
	for _, r := range t.rules {
		if r.matches(name) {
			return r.Tier
		}
	}
	return t.fallback
}

// RatesFor returns the per-1K rates for a tier.
func (t *Table) RatesFor(tier model.ModelTier) (model.Rates, error) {
	r, ok := t.rates[tier]
	if !ok || !tier.Valid() {
		return model.Rates{}, fmt.Errorf("rates for %q: %w", tier, model.ErrUnknownTier)
	}
	return r, nil
}

// Rules returns a copy of the table's rules in evaluation order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Cost computes (in/1000)*inputRate + (out/1000)*outputRate exactly.
func (t *Table) Cost(tier model.ModelTier, inputTokens, outputTokens int64) (decimal.Decimal, error) {
	r, err := t.RatesFor(tier)
	if err != nil {
		return decimal.Zero, err
	}
	in := decimal.NewFromInt(inputTokens).Mul(r.InputPer1K).Div(thousand)
	out := decimal.NewFromInt(outputTokens).Mul(r.OutputPer1K).Div(thousand)
	return in.Add(out), nil
}
