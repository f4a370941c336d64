package tracker_test

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/pricing"
	"github.com/ogulcanaydogan/costwatch/pkg/storage"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStorage wraps a real store and fails on demand.
type flakyStorage struct {
	storage.Storage
	failAppend atomic.Bool
	failRead   atomic.Bool
	appends    atomic.Int32
}

var errInjected = errors.New("injected storage failure")

func (f *flakyStorage) AppendCall(ctx context.Context, rec *model.CallRecord, marks []model.AlertMark) error {
	f.appends.Add(1)
	if f.failAppend.Load() {
		return errInjected
	}
	return f.Storage.AppendCall(ctx, rec, marks)
}

func (f *flakyStorage) QueryCalls(ctx context.Context, filter model.QueryFilter) iter.Seq2[model.CallRecord, error] {
	if f.failRead.Load() {
		return func(yield func(model.CallRecord, error) bool) {
			yield(model.CallRecord{}, errInjected)
		}
	}
	return f.Storage.QueryCalls(ctx, filter)
}

func (f *flakyStorage) SumCost(ctx context.Context, filter model.QueryFilter) (decimal.Decimal, error) {
	if f.failRead.Load() {
		return decimal.Zero, errInjected
	}
	return f.Storage.SumCost(ctx, filter)
}

// recordingChannel captures dispatched alerts.
type recordingChannel struct {
	mu   sync.Mutex
	got  []alerts.Alert
	fail bool
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(_ context.Context, a alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	if r.fail {
		return errors.New("channel down")
	}
	return nil
}

func (r *recordingChannel) kinds() []model.AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AlertKind, 0, len(r.got))
	for _, a := range r.got {
		out = append(out, a.Kind)
	}
	return out
}

type fixture struct {
	db       *flakyStorage
	path     string
	clock    *fakeClock
	store    *tracker.CostStore
	recorder *tracker.Recorder
	channel  *recordingChannel
}

func newFixture(t *testing.T, cfg tracker.BudgetConfig) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "costs.db")
	return openFixture(t, path, newFakeClock(t0), cfg)
}

func openFixture(t *testing.T, path string, clock *fakeClock, cfg tracker.BudgetConfig) *fixture {
	t.Helper()
	sqlite, err := storage.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	db := &flakyStorage{Storage: sqlite}
	cfg.Now = clock.Now
	monitor := tracker.NewBudgetMonitor(cfg)
	ch := &recordingChannel{}
	dispatcher := alerts.NewDispatcher(testLogger(), time.Second, ch)

	store, err := tracker.NewCostStore(context.Background(), db, monitor, dispatcher, testLogger())
	require.NoError(t, err)

	return &fixture{
		db:       db,
		path:     path,
		clock:    clock,
		store:    store,
		recorder: tracker.NewRecorder(pricing.Default(), store, testLogger()),
		channel:  ch,
	}
}

// appendCost stores a call with a fixed cost, bypassing pricing.
func (f *fixture) appendCost(t *testing.T, agent, cost string) []alerts.Alert {
	t.Helper()
	_, fired, err := f.store.Append(context.Background(), &model.CallRecord{
		Agent:   agent,
		Model:   "test-model",
		Tier:    model.TierCloudStandard,
		CostUSD: usd(cost),
		Success: true,
	})
	require.NoError(t, err)
	return fired
}

func kindsOf(as []alerts.Alert) []model.AlertKind {
	out := make([]model.AlertKind, 0, len(as))
	for _, a := range as {
		out = append(out, a.Kind)
	}
	return out
}
