package pricing

import (
	"fmt"
	"os"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a pricing override file.
type File struct {
	Updated string                `yaml:"updated"`
	Tiers   map[string]TierPrices `yaml:"tiers"`
	Rules   []RuleConfig          `yaml:"rules"`
}

// TierPrices holds USD per 1K tokens for one tier.
type TierPrices struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// RuleConfig is the YAML form of a Rule.
type RuleConfig struct {
	Tier      string   `yaml:"tier"`
	Contains  []string `yaml:"contains"`
	OllamaTag bool     `yaml:"ollama_tag,omitempty"`
}

// LoadFile reads a YAML pricing file and builds a Table from it. Tiers the
// file omits keep their default rates; an empty rule list keeps DefaultRules.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %s: %w", path, err)
	}
	t, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("pricing file %s: %w", path, err)
	}
	return t, nil
}

// LoadBytes parses YAML pricing data.
func LoadBytes(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing data: %w", err)
	}

	rates := make(map[model.ModelTier]model.Rates, len(f.Tiers))
	for name, p := range f.Tiers {
		rates[model.ModelTier(name)] = model.Rates{
			InputPer1K:  decimal.NewFromFloat(p.InputPer1K),
			OutputPer1K: decimal.NewFromFloat(p.OutputPer1K),
		}
	}

	rules := DefaultRules
	if len(f.Rules) > 0 {
		rules = make([]Rule, 0, len(f.Rules))
		for _, rc := range f.Rules {
			rules = append(rules, Rule{
				Tier:      model.ModelTier(rc.Tier),
				Contains:  rc.Contains,
				OllamaTag: rc.OllamaTag,
			})
		}
	}

	return NewTable(rules, rates)
}
