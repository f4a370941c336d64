package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModelTier groups models that share the same per-token rates.
type ModelTier string

const (
	TierLocal         ModelTier = "local"
	TierCloudMini     ModelTier = "cloud_mini"
	TierCloudStandard ModelTier = "cloud_standard"
	TierCloudPremium  ModelTier = "cloud_premium"
)

// Tiers lists every tier, cheapest first.
var Tiers = []ModelTier{TierLocal, TierCloudMini, TierCloudStandard, TierCloudPremium}

// Valid reports whether t is one of the known tiers.
func (t ModelTier) Valid() bool {
	switch t {
	case TierLocal, TierCloudMini, TierCloudStandard, TierCloudPremium:
		return true
	}
	return false
}

// Rates holds USD prices per 1K tokens.
type Rates struct {
	InputPer1K  decimal.Decimal `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K decimal.Decimal `json:"output_per_1k" yaml:"output_per_1k"`
}

// CallRecord is a single LLM invocation with its cost fixed at record time.
type CallRecord struct {
	ID              string          `json:"id" db:"id"`
	Seq             int64           `json:"-" db:"seq"`
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
	Agent           string          `json:"agent" db:"agent"`
	Model           string          `json:"model" db:"model"`
	Tier            ModelTier       `json:"tier" db:"tier"`
	InputTokens     int64           `json:"input_tokens" db:"input_tokens"`
	OutputTokens    int64           `json:"output_tokens" db:"output_tokens"`
	CostUSD         decimal.Decimal `json:"cost_usd" db:"cost_usd"`
	DurationSeconds float64         `json:"duration_seconds" db:"duration_seconds"`
	Success         bool            `json:"success" db:"success"`
	TaskID          string          `json:"task_id,omitempty" db:"task_id"`
	CorrelationID   string          `json:"correlation_id,omitempty" db:"correlation_id"`
}

// QueryFilter selects call records. Zero-valued fields match everything;
// Since and Until are both inclusive.
type QueryFilter struct {
	Agent         string    `json:"agent,omitempty"`
	Model         string    `json:"model,omitempty"`
	TaskID        string    `json:"task_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Since         time.Time `json:"since,omitempty"`
	Until         time.Time `json:"until,omitempty"`
}

// TimeRange is the span covered by a set of records.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CostSummary is a read model computed fresh from call records.
type CostSummary struct {
	TotalCostUSD         decimal.Decimal               `json:"total_cost_usd"`
	TotalCalls           int64                         `json:"total_calls"`
	SuccessfulCalls      int64                         `json:"successful_calls"`
	SuccessRate          float64                       `json:"success_rate"`
	TotalInputTokens     int64                         `json:"total_input_tokens"`
	TotalOutputTokens    int64                         `json:"total_output_tokens"`
	TotalDurationSeconds float64                       `json:"total_duration_seconds"`
	ByAgent              map[string]decimal.Decimal    `json:"by_agent"`
	ByModel              map[string]decimal.Decimal    `json:"by_model"`
	ByTier               map[ModelTier]decimal.Decimal `json:"by_tier"`
	TimeRange            TimeRange                     `json:"time_range"`
}

// AlertKind identifies an alert for deduplication and cooldown purposes.
type AlertKind string

const (
	AlertBudget80    AlertKind = "budget_80pct"
	AlertBudget90    AlertKind = "budget_90pct"
	AlertBudget100   AlertKind = "budget_100pct"
	AlertHourlySpike AlertKind = "hourly_spike"
	AlertDailySpike  AlertKind = "daily_spike"
)

// IsBudget reports whether k is one of the budget threshold kinds.
func (k AlertKind) IsBudget() bool {
	switch k {
	case AlertBudget80, AlertBudget90, AlertBudget100:
		return true
	}
	return false
}

// AlertKinds lists every alert kind in evaluation order.
var AlertKinds = []AlertKind{AlertBudget80, AlertBudget90, AlertBudget100, AlertHourlySpike, AlertDailySpike}

// AlertMark is the persisted cooldown state for one alert kind.
// Fired is only meaningful for budget thresholds and is cleared when a
// new budget period starts.
type AlertMark struct {
	Kind        AlertKind `json:"kind" db:"kind"`
	Fired       bool      `json:"fired" db:"fired"`
	LastFiredAt time.Time `json:"last_fired_at" db:"last_fired_at"`
}

// BudgetSnapshot is the durable part of the budget state.
type BudgetSnapshot struct {
	PeriodStart time.Time   `json:"period_start"`
	Marks       []AlertMark `json:"marks"`
}

// ReportPeriod names a calendar window for reports.
type ReportPeriod string

const (
	PeriodHourly  ReportPeriod = "hourly"
	PeriodDaily   ReportPeriod = "daily"
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
)

// PeriodBounds returns the start and end of the period containing now.
func PeriodBounds(period ReportPeriod, now time.Time) (start, end time.Time) {
	now = now.UTC()
	switch period {
	case PeriodHourly:
		start = now.Truncate(time.Hour)
		end = start.Add(time.Hour)
	case PeriodWeekly:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day()-weekday+1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}
