package model_test

import (
	"testing"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/stretchr/testify/assert"
)

var refTime = time.Date(2026, 3, 18, 14, 37, 12, 0, time.UTC) // a Wednesday

func TestPeriodBounds_Hourly(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodHourly, refTime)
	assert.Equal(t, time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Hour, end.Sub(start))
}

func TestPeriodBounds_Daily(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodDaily, refTime)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 18, start.Day())
}

func TestPeriodBounds_Weekly(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodWeekly, refTime)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 16, start.Day())
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))
}

func TestPeriodBounds_WeeklyOnSunday(t *testing.T) {
	sunday := time.Date(2026, 3, 22, 9, 0, 0, 0, time.UTC)
	start, _ := model.PeriodBounds(model.PeriodWeekly, sunday)
	assert.Equal(t, 16, start.Day())
}

func TestPeriodBounds_Monthly(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodMonthly, refTime)
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, time.April, end.Month())
}

func TestPeriodBounds_Default(t *testing.T) {
	start, end := model.PeriodBounds("unknown", refTime)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestModelTier_Valid(t *testing.T) {
	for _, tier := range model.Tiers {
		assert.True(t, tier.Valid(), tier)
	}
	assert.False(t, model.ModelTier("enterprise").Valid())
	assert.False(t, model.ModelTier("").Valid())
}

func TestAlertKind_IsBudget(t *testing.T) {
	assert.True(t, model.AlertBudget80.IsBudget())
	assert.True(t, model.AlertBudget100.IsBudget())
	assert.False(t, model.AlertHourlySpike.IsBudget())
	assert.False(t, model.AlertDailySpike.IsBudget())
}
