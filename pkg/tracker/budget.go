package tracker

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCooldown is the minimum interval between two alerts of one kind.
	DefaultCooldown = 60 * time.Minute

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// DefaultSpikeMultiplier is how far a rolling window may exceed its
// configured maximum before a spike alert fires.
var DefaultSpikeMultiplier = decimal.NewFromInt(3)

var hundred = decimal.NewFromInt(100)

type threshold struct {
	kind     model.AlertKind
	pct      decimal.Decimal
	severity alerts.Severity
}

var thresholds = []threshold{
	{model.AlertBudget80, decimal.NewFromInt(80), alerts.SeverityWarning},
	{model.AlertBudget90, decimal.NewFromInt(90), alerts.SeverityCritical},
	{model.AlertBudget100, decimal.NewFromInt(100), alerts.SeverityExceeded},
}

// BudgetConfig configures a BudgetMonitor. A LimitUSD of zero or less
// disables all alerting. HourlyMaxUSD and DailyMaxUSD of zero or less
// disable the matching spike window.
type BudgetConfig struct {
	LimitUSD        decimal.Decimal
	HourlyMaxUSD    decimal.Decimal
	DailyMaxUSD     decimal.Decimal
	SpikeMultiplier decimal.Decimal
	Cooldown        time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// BudgetState is a point-in-time copy of the monitor's state.
type BudgetState struct {
	PeriodStart   time.Time                           `json:"period_start"`
	CumulativeUSD decimal.Decimal                     `json:"cumulative_usd"`
	LimitUSD      decimal.Decimal                     `json:"limit_usd"`
	Percent       float64                             `json:"percent"`
	Enabled       bool                                `json:"enabled"`
	HourlyUSD     decimal.Decimal                     `json:"hourly_usd"`
	DailyUSD      decimal.Decimal                     `json:"daily_usd"`
	HourlyMaxUSD  decimal.Decimal                     `json:"hourly_max_usd"`
	DailyMaxUSD   decimal.Decimal                     `json:"daily_max_usd"`
	Cooldown      time.Duration                       `json:"cooldown"`
	Marks         map[model.AlertKind]model.AlertMark `json:"marks"`
}

type windowEntry struct {
	at   time.Time
	cost decimal.Decimal
}

// BudgetMonitor tracks the cumulative spend of the current budget period
// and the trailing 1h and 24h spend windows, and decides which alerts fire.
// It is the only mutator of its state.
type BudgetMonitor struct {
	mu  sync.Mutex
	cfg BudgetConfig
	now func() time.Time

	periodStart time.Time
	cumulative  decimal.Decimal
	window      []windowEntry
	marks       map[model.AlertKind]model.AlertMark
}

// NewBudgetMonitor creates a monitor with an empty state.
func NewBudgetMonitor(cfg BudgetConfig) *BudgetMonitor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if !cfg.SpikeMultiplier.IsPositive() {
		cfg.SpikeMultiplier = DefaultSpikeMultiplier
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := &BudgetMonitor{
		cfg:        cfg,
		now:        func() time.Time { return now().UTC() },
		cumulative: decimal.Zero,
		marks:      make(map[model.AlertKind]model.AlertMark),
	}
	m.periodStart = m.now()
	return m
}

// Now returns the monitor's current time in UTC.
func (m *BudgetMonitor) Now() time.Time {
	return m.now()
}

// Plan is a pending evaluation of one appended record. It is computed
// without touching the monitor so the caller can persist its marks first.
type Plan struct {
	total  decimal.Decimal
	entry  windowEntry
	alerts []alerts.Alert
	marks  map[model.AlertKind]model.AlertMark
}

// Alerts returns the alerts the plan will emit.
func (p *Plan) Alerts() []alerts.Alert { return p.alerts }

// Marks returns the alert marks that change if the plan is applied.
func (p *Plan) Marks() []model.AlertMark {
	out := make([]model.AlertMark, 0, len(p.marks))
	for _, k := range model.AlertKinds {
		if m, ok := p.marks[k]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Plan evaluates the effect of appending rec without mutating the monitor.
func (m *BudgetMonitor) Plan(rec model.CallRecord) *Plan {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry := windowEntry{at: rec.Timestamp.UTC(), cost: rec.CostUSD}
	total := m.cumulative.Add(rec.CostUSD)

	hourly, daily := m.windowSums(now)
	if entry.at.After(now.Add(-hourWindow)) {
		hourly = hourly.Add(entry.cost)
	}
	if entry.at.After(now.Add(-dayWindow)) {
		daily = daily.Add(entry.cost)
	}

	as, marks := m.evaluate(total, hourly, daily, now)
	return &Plan{total: total, entry: entry, alerts: as, marks: marks}
}

// Apply commits a plan produced by Plan.
func (m *BudgetMonitor) Apply(p *Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cumulative = p.total
	if p.entry.at.After(m.now().Add(-dayWindow)) {
		m.window = append(m.window, p.entry)
	}
	for k, mark := range p.marks {
		m.marks[k] = mark
	}
}

// Evaluate checks newTotal against the budget thresholds and the current
// spend windows against their maxima, records newTotal as the cumulative
// total, and returns the alerts that fire. It returns nothing when the
// budget limit is zero or less.
func (m *BudgetMonitor) Evaluate(newTotal decimal.Decimal) []alerts.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	hourly, daily := m.windowSums(now)
	as, marks := m.evaluate(newTotal, hourly, daily, now)

	m.cumulative = newTotal
	for k, mark := range marks {
		m.marks[k] = mark
	}
	return as
}

// evaluate must be called with m.mu held. It returns emitted alerts and
// the marks they change.
func (m *BudgetMonitor) evaluate(total, hourly, daily decimal.Decimal, now time.Time) ([]alerts.Alert, map[model.AlertKind]model.AlertMark) {
	limit := m.cfg.LimitUSD
	if !limit.IsPositive() {
		return nil, nil
	}

	var out []alerts.Alert
	changed := make(map[model.AlertKind]model.AlertMark)

	pct := total.Div(limit).Mul(hundred)
	pctF := pct.InexactFloat64()
	for _, th := range thresholds {
		mark := m.mark(th.kind)
		if pct.LessThan(th.pct) || mark.Fired {
			continue
		}
		// Suppressed thresholds stay unfired so they can fire once the
		// cooldown has elapsed.
		if m.cooling(mark, now) {
			continue
		}
		mark.Fired = true
		mark.LastFiredAt = now
		changed[th.kind] = mark
		out = append(out, alerts.Alert{
			Kind:            th.kind,
			Severity:        th.severity,
			Message:         fmt.Sprintf("budget %.1f%% used ($%s of $%s)", pctF, total.StringFixed(2), limit.StringFixed(2)),
			TriggeringValue: total,
			LimitUSD:        limit,
			Percent:         pctF,
			Timestamp:       now,
		})
	}

	spikes := []struct {
		kind  model.AlertKind
		label string
		sum   decimal.Decimal
		max   decimal.Decimal
	}{
		{model.AlertHourlySpike, "hourly", hourly, m.cfg.HourlyMaxUSD},
		{model.AlertDailySpike, "daily", daily, m.cfg.DailyMaxUSD},
	}
	for _, sp := range spikes {
		if !sp.max.IsPositive() {
			continue
		}
		ceiling := sp.max.Mul(m.cfg.SpikeMultiplier)
		if !sp.sum.GreaterThan(ceiling) {
			continue
		}
		mark := m.mark(sp.kind)
		if m.cooling(mark, now) {
			continue
		}
		mark.LastFiredAt = now
		changed[sp.kind] = mark
		out = append(out, alerts.Alert{
			Kind:     sp.kind,
			Severity: alerts.SeverityCritical,
			Message: fmt.Sprintf("%s spend $%s exceeds %sx the $%s baseline",
				sp.label, sp.sum.StringFixed(4), m.cfg.SpikeMultiplier.String(), sp.max.StringFixed(2)),
			TriggeringValue: sp.sum,
			LimitUSD:        ceiling,
			Percent:         sp.sum.Div(sp.max).Mul(hundred).InexactFloat64(),
			Timestamp:       now,
		})
	}

	return out, changed
}

func (m *BudgetMonitor) mark(kind model.AlertKind) model.AlertMark {
	if mark, ok := m.marks[kind]; ok {
		return mark
	}
	return model.AlertMark{Kind: kind}
}

func (m *BudgetMonitor) cooling(mark model.AlertMark, now time.Time) bool {
	return !mark.LastFiredAt.IsZero() && now.Sub(mark.LastFiredAt) < m.cfg.Cooldown
}

// windowSums drops entries older than 24h and returns the 1h and 24h sums.
// Callers must hold m.mu.
func (m *BudgetMonitor) windowSums(now time.Time) (hourly, daily decimal.Decimal) {
	dayStart := now.Add(-dayWindow)
	hourStart := now.Add(-hourWindow)
	m.window = slices.DeleteFunc(m.window, func(e windowEntry) bool {
		return !e.at.After(dayStart)
	})

	hourly, daily = decimal.Zero, decimal.Zero
	for _, e := range m.window {
		daily = daily.Add(e.cost)
		if e.at.After(hourStart) {
			hourly = hourly.Add(e.cost)
		}
	}
	return hourly, daily
}

// Restore seeds the monitor from persisted state: the budget period and
// alert marks, the spend since the period started, and the records of the
// last 24h for the spike windows.
func (m *BudgetMonitor) Restore(snap model.BudgetSnapshot, periodTotal decimal.Decimal, recent []model.CallRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !snap.PeriodStart.IsZero() {
		m.periodStart = snap.PeriodStart.UTC()
	}
	m.cumulative = periodTotal
	m.marks = make(map[model.AlertKind]model.AlertMark, len(snap.Marks))
	for _, mark := range snap.Marks {
		m.marks[mark.Kind] = mark
	}
	m.window = m.window[:0]
	for _, r := range recent {
		m.window = append(m.window, windowEntry{at: r.Timestamp.UTC(), cost: r.CostUSD})
	}
}

// ResetPeriod starts a new budget period at start. Fired flags and the
// cumulative total are cleared; cooldown timestamps and the spend windows
// are kept.
func (m *BudgetMonitor) ResetPeriod(start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.periodStart = start.UTC()
	m.cumulative = decimal.Zero
	for k, mark := range m.marks {
		mark.Fired = false
		m.marks[k] = mark
	}
}

// Status returns a copy of the current state.
func (m *BudgetMonitor) Status() BudgetState {
	m.mu.Lock()
	defer m.mu.Unlock()

	hourly, daily := m.windowSums(m.now())
	st := BudgetState{
		PeriodStart:   m.periodStart,
		CumulativeUSD: m.cumulative,
		LimitUSD:      m.cfg.LimitUSD,
		Enabled:       m.cfg.LimitUSD.IsPositive(),
		HourlyUSD:     hourly,
		DailyUSD:      daily,
		HourlyMaxUSD:  m.cfg.HourlyMaxUSD,
		DailyMaxUSD:   m.cfg.DailyMaxUSD,
		Cooldown:      m.cfg.Cooldown,
		Marks:         make(map[model.AlertKind]model.AlertMark, len(m.marks)),
	}
	if st.Enabled {
		st.Percent = m.cumulative.Div(m.cfg.LimitUSD).Mul(hundred).InexactFloat64()
	}
	for k, mark := range m.marks {
		st.Marks[k] = mark
	}
	return st
}
