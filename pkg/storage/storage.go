package storage

import (
	"context"
	"iter"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
)

// Storage defines the persistence layer for call records and budget state.
type Storage interface {
	// AppendCall persists a call record together with any alert cooldown
	// marks in a single transaction. Record.Seq is set on success.
	AppendCall(ctx context.Context, record *model.CallRecord, marks []model.AlertMark) error

	// QueryCalls streams call records matching filter in insertion order.
	// Each range over the returned sequence re-issues the query.
	QueryCalls(ctx context.Context, filter model.QueryFilter) iter.Seq2[model.CallRecord, error]

	// SumCost returns the exact total cost of records matching filter.
	SumCost(ctx context.Context, filter model.QueryFilter) (decimal.Decimal, error)

	// LoadBudget returns the persisted budget period and alert marks.
	// PeriodStart is zero when no period has been started yet.
	LoadBudget(ctx context.Context) (*model.BudgetSnapshot, error)

	// ResetBudgetPeriod starts a new budget period. Fired flags are cleared
	// and cooldown timestamps are kept.
	ResetBudgetPeriod(ctx context.Context, periodStart time.Time) error

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
