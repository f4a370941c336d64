package tracker_test

import (
	"testing"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(clock *fakeClock, limit string) *tracker.BudgetMonitor {
	return tracker.NewBudgetMonitor(tracker.BudgetConfig{
		LimitUSD: usd(limit),
		Now:      clock.Now,
	})
}

func TestBudgetMonitor_BelowThreshold(t *testing.T) {
	m := newMonitor(newFakeClock(t0), "10")
	assert.Empty(t, m.Evaluate(usd("7.50")))
}

func TestBudgetMonitor_Crosses80(t *testing.T) {
	m := newMonitor(newFakeClock(t0), "10")
	require.Empty(t, m.Evaluate(usd("7.50")))

	fired := m.Evaluate(usd("8.20"))
	require.Len(t, fired, 1)
	assert.Equal(t, model.AlertBudget80, fired[0].Kind)
	assert.Equal(t, alerts.SeverityWarning, fired[0].Severity)
	assert.Equal(t, "8.2", fired[0].TriggeringValue.String())
	assert.InDelta(t, 82.0, fired[0].Percent, 1e-9)
	assert.Equal(t, t0, fired[0].Timestamp)
	assert.Contains(t, fired[0].Message, "82.0%")
}

func TestBudgetMonitor_ExactlyAtThreshold(t *testing.T) {
	m := newMonitor(newFakeClock(t0), "10")
	fired := m.Evaluate(usd("8"))
	assert.Equal(t, []model.AlertKind{model.AlertBudget80}, kindsOf(fired))
}

func TestBudgetMonitor_FiresOncePerCrossing(t *testing.T) {
	clock := newFakeClock(t0)
	m := newMonitor(clock, "100")

	count := 0
	for total := 50; total <= 89; total++ {
		for _, a := range m.Evaluate(decimal.NewFromInt(int64(total))) {
			if a.Kind == model.AlertBudget80 {
				count++
			}
		}
		// long enough that cooldown never explains the suppression
		clock.Advance(2 * time.Hour)
	}
	assert.Equal(t, 1, count)
}

func TestBudgetMonitor_JumpEmitsEveryCrossedThreshold(t *testing.T) {
	m := newMonitor(newFakeClock(t0), "10")
	fired := m.Evaluate(usd("12"))
	assert.Equal(t, []model.AlertKind{model.AlertBudget80, model.AlertBudget90, model.AlertBudget100}, kindsOf(fired))
	assert.Equal(t, alerts.SeverityCritical, fired[1].Severity)
	assert.Equal(t, alerts.SeverityExceeded, fired[2].Severity)
}

func TestBudgetMonitor_SeverityEscalates(t *testing.T) {
	m := newMonitor(newFakeClock(t0), "10")
	assert.Equal(t, []model.AlertKind{model.AlertBudget80}, kindsOf(m.Evaluate(usd("8.5"))))
	assert.Equal(t, []model.AlertKind{model.AlertBudget90}, kindsOf(m.Evaluate(usd("9.5"))))
	assert.Equal(t, []model.AlertKind{model.AlertBudget100}, kindsOf(m.Evaluate(usd("10"))))
	assert.Empty(t, m.Evaluate(usd("15")))
}

func TestBudgetMonitor_DisabledBudget(t *testing.T) {
	for _, limit := range []string{"0", "-5"} {
		t.Run(limit, func(t *testing.T) {
			m := tracker.NewBudgetMonitor(tracker.BudgetConfig{
				LimitUSD:     usd(limit),
				HourlyMaxUSD: usd("0.01"),
				DailyMaxUSD:  usd("0.01"),
				Now:          newFakeClock(t0).Now,
			})
			assert.Empty(t, m.Evaluate(usd("1000000")))
			plan := m.Plan(model.CallRecord{Timestamp: t0, CostUSD: usd("500")})
			assert.Empty(t, plan.Alerts())
			assert.False(t, m.Status().Enabled)
		})
	}
}

func TestBudgetMonitor_CooldownSuppressesRefire(t *testing.T) {
	clock := newFakeClock(t0)
	m := newMonitor(clock, "10")

	require.Len(t, m.Evaluate(usd("8.5")), 1)

	// A new period clears the fired flag, but the cooldown still applies.
	m.ResetPeriod(clock.Now())
	clock.Advance(10 * time.Minute)
	assert.Empty(t, m.Evaluate(usd("8.5")))

	// Still unfired, so it fires once the cooldown has passed.
	clock.Advance(51 * time.Minute)
	assert.Equal(t, []model.AlertKind{model.AlertBudget80}, kindsOf(m.Evaluate(usd("8.6"))))
}

func TestBudgetMonitor_CustomCooldown(t *testing.T) {
	clock := newFakeClock(t0)
	m := tracker.NewBudgetMonitor(tracker.BudgetConfig{
		LimitUSD:     usd("1000"),
		HourlyMaxUSD: usd("1"),
		Cooldown:     5 * time.Minute,
		Now:          clock.Now,
	})

	require.Len(t, m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("4")}).Alerts(), 1)
	m.Apply(m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("4")}))

	clock.Advance(time.Minute)
	assert.Empty(t, m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("1")}).Alerts())

	clock.Advance(5 * time.Minute)
	fired := m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("1")}).Alerts()
	assert.Equal(t, []model.AlertKind{model.AlertHourlySpike}, kindsOf(fired))
}

func TestBudgetMonitor_HourlySpike(t *testing.T) {
	clock := newFakeClock(t0)
	m := tracker.NewBudgetMonitor(tracker.BudgetConfig{
		LimitUSD:     usd("1000"),
		HourlyMaxUSD: usd("1"),
		Now:          clock.Now,
	})

	// 3x of $1 is the ceiling; exactly at it does not fire
	for range 3 {
		p := m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("1")})
		assert.Empty(t, p.Alerts())
		m.Apply(p)
		clock.Advance(time.Minute)
	}

	p := m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("0.01")})
	require.Len(t, p.Alerts(), 1)
	spike := p.Alerts()[0]
	assert.Equal(t, model.AlertHourlySpike, spike.Kind)
	assert.Equal(t, alerts.SeverityCritical, spike.Severity)
	assert.Equal(t, "3.01", spike.TriggeringValue.String())
	assert.Equal(t, "3", spike.LimitUSD.String())
	m.Apply(p)

	// cooldown holds while the spike continues
	clock.Advance(5 * time.Minute)
	p = m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("1")})
	assert.Empty(t, p.Alerts())
	m.Apply(p)

	// an hour later the old spend has left the window
	clock.Advance(2 * time.Hour)
	p = m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("0.5")})
	assert.Empty(t, p.Alerts())
	assert.True(t, m.Status().HourlyUSD.IsZero())
}

func TestBudgetMonitor_DailySpike(t *testing.T) {
	clock := newFakeClock(t0)
	m := tracker.NewBudgetMonitor(tracker.BudgetConfig{
		LimitUSD:        usd("1000"),
		DailyMaxUSD:     usd("2"),
		SpikeMultiplier: usd("2"),
		Now:             clock.Now,
	})

	for range 4 {
		p := m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("1")})
		assert.Empty(t, p.Alerts())
		m.Apply(p)
		clock.Advance(3 * time.Hour)
	}
	p := m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("1")})
	assert.Equal(t, []model.AlertKind{model.AlertDailySpike}, kindsOf(p.Alerts()))
}

func TestBudgetMonitor_PlanDoesNotMutate(t *testing.T) {
	clock := newFakeClock(t0)
	m := newMonitor(clock, "10")

	p := m.Plan(model.CallRecord{Timestamp: t0, CostUSD: usd("9")})
	require.Len(t, p.Alerts(), 2)
	require.Len(t, p.Marks(), 2)

	st := m.Status()
	assert.True(t, st.CumulativeUSD.IsZero())
	assert.Empty(t, st.Marks)

	// planning again without applying yields the same alerts
	assert.Len(t, m.Plan(model.CallRecord{Timestamp: t0, CostUSD: usd("9")}).Alerts(), 2)

	m.Apply(p)
	st = m.Status()
	assert.Equal(t, "9", st.CumulativeUSD.String())
	assert.True(t, st.Marks[model.AlertBudget80].Fired)
	assert.True(t, st.Marks[model.AlertBudget90].Fired)
	assert.InDelta(t, 90.0, st.Percent, 1e-9)
}

func TestBudgetMonitor_ResetPeriod(t *testing.T) {
	clock := newFakeClock(t0)
	m := newMonitor(clock, "10")
	m.Apply(m.Plan(model.CallRecord{Timestamp: t0, CostUSD: usd("9")}))

	next := t0.Add(48 * time.Hour)
	clock.Advance(48 * time.Hour)
	m.ResetPeriod(next)

	st := m.Status()
	assert.Equal(t, next, st.PeriodStart)
	assert.True(t, st.CumulativeUSD.IsZero())
	for _, mark := range st.Marks {
		assert.False(t, mark.Fired)
		assert.Equal(t, t0, mark.LastFiredAt)
	}

	fired := m.Plan(model.CallRecord{Timestamp: clock.Now(), CostUSD: usd("8")}).Alerts()
	assert.Equal(t, []model.AlertKind{model.AlertBudget80}, kindsOf(fired))
}

func TestBudgetMonitor_Restore(t *testing.T) {
	clock := newFakeClock(t0)
	m := tracker.NewBudgetMonitor(tracker.BudgetConfig{
		LimitUSD:     usd("10"),
		HourlyMaxUSD: usd("1"),
		Now:          clock.Now,
	})

	m.Restore(model.BudgetSnapshot{
		PeriodStart: t0.Add(-24 * time.Hour),
		Marks: []model.AlertMark{
			{Kind: model.AlertBudget80, Fired: true, LastFiredAt: t0.Add(-3 * time.Hour)},
		},
	}, usd("8.5"), []model.CallRecord{
		{Timestamp: t0.Add(-30 * time.Minute), CostUSD: usd("2.5")},
		{Timestamp: t0.Add(-2 * time.Hour), CostUSD: usd("5")},
	})

	st := m.Status()
	assert.Equal(t, "8.5", st.CumulativeUSD.String())
	assert.Equal(t, "2.5", st.HourlyUSD.String())
	assert.Equal(t, "7.5", st.DailyUSD.String())
	assert.Equal(t, t0.Add(-24*time.Hour), st.PeriodStart)

	// 80% already fired this period, 90% and the spike are new
	fired := m.Plan(model.CallRecord{Timestamp: t0, CostUSD: usd("0.7")}).Alerts()
	assert.Equal(t, []model.AlertKind{model.AlertBudget90, model.AlertHourlySpike}, kindsOf(fired))
}
