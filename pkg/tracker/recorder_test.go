package tracker_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Record(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{})
	ctx := context.Background()

	rec, err := f.recorder.Record(ctx, tracker.Call{
		Agent:           "Planner",
		Model:           "gpt-5",
		InputTokens:     1000,
		OutputTokens:    500,
		DurationSeconds: 1.25,
		Success:         true,
		TaskID:          "task-1",
		CorrelationID:   "corr-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, t0, rec.Timestamp)
	assert.Equal(t, "Planner", rec.Agent)
	assert.Equal(t, model.TierCloudPremium, rec.Tier)
	assert.Equal(t, "0.0125", rec.CostUSD.String())
	assert.True(t, rec.Success)

	got, err := f.store.Records(ctx, model.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, "0.0125", got[0].CostUSD.String())
	assert.Equal(t, "task-1", got[0].TaskID)
	assert.Equal(t, "corr-1", got[0].CorrelationID)
	assert.InDelta(t, 1.25, got[0].DurationSeconds, 1e-9)
}

func TestRecorder_InvalidCallRejectedBeforeStorage(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{LimitUSD: usd("0.0001")})
	ctx := context.Background()

	_, err := f.recorder.Record(ctx, tracker.Call{Agent: "Coder", Model: "gpt-5", InputTokens: -5, OutputTokens: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidCallData)

	assert.Zero(t, f.db.appends.Load())
	got, err := f.store.Records(ctx, model.QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	// no budget evaluation happened either
	assert.True(t, f.store.BudgetStatus().CumulativeUSD.IsZero())
	assert.Empty(t, f.channel.kinds())
}

func TestRecorder_InvalidDuration(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{})

	for _, d := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := f.recorder.Record(context.Background(), tracker.Call{Model: "gpt-5", DurationSeconds: d})
		assert.ErrorIs(t, err, model.ErrInvalidCallData)
	}
	assert.Zero(t, f.db.appends.Load())
}

func TestRecorder_DefaultAgent(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{})
	rec, err := f.recorder.Record(context.Background(), tracker.Call{Model: "llama3:8b", InputTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, tracker.DefaultAgent, rec.Agent)
	assert.Equal(t, model.TierLocal, rec.Tier)
	assert.True(t, rec.CostUSD.IsZero())
}

func TestRecorder_RecordWithAlerts(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{LimitUSD: usd("0.02")})
	ctx := context.Background()

	_, fired, err := f.recorder.RecordWithAlerts(ctx, tracker.Call{Model: "gpt-5", InputTokens: 1000, OutputTokens: 500})
	require.NoError(t, err)
	assert.Empty(t, fired) // 0.0125 is 62.5%

	_, fired, err = f.recorder.RecordWithAlerts(ctx, tracker.Call{Model: "gpt-5", InputTokens: 1000, OutputTokens: 100})
	require.NoError(t, err)
	// 0.019 is 95%
	assert.Equal(t, []model.AlertKind{model.AlertBudget80, model.AlertBudget90}, kindsOf(fired))
}

func TestRecorder_PersistenceFailure(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{})
	f.db.failAppend.Store(true)

	_, err := f.recorder.Record(context.Background(), tracker.Call{Model: "gpt-5", InputTokens: 10})
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.ErrorIs(t, err, errInjected)
}

func TestRecorder_TimestampsFollowClock(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{})
	ctx := context.Background()

	first, err := f.recorder.Record(ctx, tracker.Call{Model: "gpt-5"})
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)
	second, err := f.recorder.Record(ctx, tracker.Call{Model: "gpt-5"})
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, second.Timestamp.Sub(first.Timestamp))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRecorder_Quote(t *testing.T) {
	f := newFixture(t, tracker.BudgetConfig{})
	q, err := f.recorder.Quote("gpt-5-mini", 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, model.TierCloudMini, q.Tier)
	assert.Equal(t, "0.00075", q.CostUSD.String())
	assert.Zero(t, f.db.appends.Load())
}
