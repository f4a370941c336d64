package tracker

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/storage"
	"github.com/shopspring/decimal"
)

// CostStore is the append-only log of call records. Appends are serialized
// together with budget evaluation so every evaluation sees a consistent,
// non-decreasing total; reads go straight to storage.
type CostStore struct {
	mu         sync.Mutex
	db         storage.Storage
	monitor    *BudgetMonitor
	dispatcher *alerts.Dispatcher
	logger     *slog.Logger
	metrics    *instruments

	total decimal.Decimal // all-time, guarded by mu
}

// NewCostStore loads the all-time total and the budget state from db.
// dispatcher may be nil, in which case alerts are returned but not sent.
func NewCostStore(ctx context.Context, db storage.Storage, monitor *BudgetMonitor, dispatcher *alerts.Dispatcher, logger *slog.Logger) (*CostStore, error) {
	s := &CostStore{
		db:         db,
		monitor:    monitor,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    newInstruments(),
	}

	total, err := db.SumCost(ctx, model.QueryFilter{})
	if err != nil {
		return nil, fmt.Errorf("%w: load total: %w", model.ErrStoreUnavailable, err)
	}
	s.total = total

	if err := s.restoreBudget(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CostStore) restoreBudget(ctx context.Context) error {
	snap, err := s.db.LoadBudget(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}

	now := s.monitor.Now()
	if snap.PeriodStart.IsZero() {
		snap.PeriodStart = now
		if err := s.db.ResetBudgetPeriod(ctx, now); err != nil {
			return fmt.Errorf("start budget period: %w", err)
		}
	}

	periodTotal, err := s.db.SumCost(ctx, model.QueryFilter{Since: snap.PeriodStart})
	if err != nil {
		return fmt.Errorf("%w: load period total: %w", model.ErrStoreUnavailable, err)
	}

	var recent []model.CallRecord
	for r, err := range s.db.QueryCalls(ctx, model.QueryFilter{Since: now.Add(-dayWindow)}) {
		if err != nil {
			return fmt.Errorf("%w: load recent calls: %w", model.ErrStoreUnavailable, err)
		}
		recent = append(recent, r)
	}

	s.monitor.Restore(*snap, periodTotal, recent)
	s.logger.Debug("budget state restored",
		"period_start", snap.PeriodStart,
		"period_total_usd", periodTotal.String(),
		"recent_calls", len(recent),
	)
	return nil
}

// Now returns the store's clock, shared with its budget monitor.
func (s *CostStore) Now() time.Time {
	return s.monitor.Now()
}

// Append persists rec, updates the budget state and dispatches any alerts
// that fire. Persistence errors wrap model.ErrPersistence and leave every
// piece of state untouched. Dispatch runs after the store lock is released
// and its failures are never returned.
func (s *CostStore) Append(ctx context.Context, rec *model.CallRecord) (*model.CallRecord, []alerts.Alert, error) {
	s.mu.Lock()

	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.monitor.Now()
	}
	stored.Timestamp = stored.Timestamp.UTC()

	plan := s.monitor.Plan(stored)
	// The write either commits or rolls back; a caller giving up halfway
	// must not leave a partial record behind.
	if err := s.db.AppendCall(context.WithoutCancel(ctx), &stored, plan.Marks()); err != nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	s.monitor.Apply(plan)
	s.total = s.total.Add(stored.CostUSD)
	s.mu.Unlock()

	fired := plan.Alerts()
	s.dispatch(ctx, fired)

	out := stored
	return &out, fired, nil
}

func (s *CostStore) dispatch(ctx context.Context, fired []alerts.Alert) {
	if len(fired) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, a := range fired {
		s.metrics.recordAlert(ctx, a.Kind)
		s.logger.Info("budget alert fired", "kind", a.Kind, "severity", a.Severity, "value_usd", a.TriggeringValue.String())
		if s.dispatcher == nil {
			continue
		}
		// Failures are logged by the dispatcher and never reach the caller.
		s.dispatcher.Dispatch(ctx, a)
	}
}

// Query streams records matching filter in insertion order. The sequence
// may be ranged over more than once; each range re-reads storage.
func (s *CostStore) Query(ctx context.Context, filter model.QueryFilter) iter.Seq2[model.CallRecord, error] {
	return func(yield func(model.CallRecord, error) bool) {
		for r, err := range s.db.QueryCalls(ctx, filter) {
			if err != nil {
				yield(model.CallRecord{}, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Records collects Query results into a slice. An empty match returns an
// empty slice and no error.
func (s *CostStore) Records(ctx context.Context, filter model.QueryFilter) ([]model.CallRecord, error) {
	out := []model.CallRecord{}
	for r, err := range s.Query(ctx, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// TotalCost returns the exact cost of records with timestamps in
// [since, until]. With both bounds zero it returns the cached all-time
// total without touching storage.
func (s *CostStore) TotalCost(ctx context.Context, since, until time.Time) (decimal.Decimal, error) {
	if since.IsZero() && until.IsZero() {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.total, nil
	}
	total, err := s.db.SumCost(ctx, model.QueryFilter{Since: since, Until: until})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return total, nil
}

// ResetBudgetPeriod starts a new budget period now. It is the operator
// action for a new billing cycle.
func (s *CostStore) ResetBudgetPeriod(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.monitor.Now()
	if err := s.db.ResetBudgetPeriod(ctx, now); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	s.monitor.ResetPeriod(now)
	s.logger.Info("budget period reset", "period_start", now)
	return nil
}

// BudgetStatus returns a copy of the current budget state.
func (s *CostStore) BudgetStatus() BudgetState {
	return s.monitor.Status()
}

// Ping checks that storage is reachable.
func (s *CostStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return nil
}
