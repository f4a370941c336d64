package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const callColumns = `seq, id, timestamp, agent, model, tier, input_tokens, output_tokens,
	cost_usd, duration_seconds, success, task_id, correlation_id`

// SQLStore implements Storage on top of SQLite or PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// Open opens a store for the given driver. target is a file path for
// sqlite and a connection string for postgres.
func Open(driver, target string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(target)
	case DriverPostgres:
		return NewPostgres(target)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db, sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, driver: DriverSQLite}, nil
}

// NewPostgres connects to a PostgreSQL database and applies migrations.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(db, postgresMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, driver: DriverPostgres}, nil
}

// Driver returns the name of the underlying database driver.
func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) AppendCall(ctx context.Context, record *model.CallRecord, marks []model.AlertMark) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.Timestamp = record.Timestamp.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}

	var seq int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		`INSERT INTO calls (id, timestamp, agent, model, tier, input_tokens, output_tokens,
			cost_usd, duration_seconds, success, task_id, correlation_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING seq`),
		record.ID, record.Timestamp, record.Agent, record.Model, string(record.Tier),
		record.InputTokens, record.OutputTokens, record.CostUSD.String(),
		record.DurationSeconds, record.Success, record.TaskID, record.CorrelationID,
	).Scan(&seq)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert call record: %w", err)
	}

	for _, m := range marks {
		if err := upsertMark(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	record.Seq = seq
	return nil
}

func upsertMark(ctx context.Context, tx *sqlx.Tx, m model.AlertMark) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO alert_marks (kind, fired, last_fired_at) VALUES (?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET
		   fired = excluded.fired,
		   last_fired_at = excluded.last_fired_at`),
		string(m.Kind), m.Fired, nullTime(m.LastFiredAt),
	)
	if err != nil {
		return fmt.Errorf("upsert alert mark %s: %w", m.Kind, err)
	}
	return nil
}

func (s *SQLStore) QueryCalls(ctx context.Context, filter model.QueryFilter) iter.Seq2[model.CallRecord, error] {
	return func(yield func(model.CallRecord, error) bool) {
		query := "SELECT " + callColumns + " FROM calls"
		where, args := buildWhereClause(filter)
		if where != "" {
			query += " WHERE " + where
		}
		query += " ORDER BY seq ASC"

		rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			yield(model.CallRecord{}, fmt.Errorf("query calls: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r model.CallRecord
			if err := rows.StructScan(&r); err != nil {
				yield(model.CallRecord{}, fmt.Errorf("scan call row: %w", err))
				return
			}
			r.Timestamp = r.Timestamp.UTC()
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.CallRecord{}, fmt.Errorf("iterate calls: %w", err))
		}
	}
}

func (s *SQLStore) SumCost(ctx context.Context, filter model.QueryFilter) (decimal.Decimal, error) {
	where, args := buildWhereClause(filter)

	// NUMERIC sums are exact in Postgres. SQLite keeps costs as TEXT, so
	// they are summed here rather than through floating point SUM().
	if s.driver == DriverPostgres {
		query := "SELECT COALESCE(SUM(cost_usd), 0) FROM calls"
		if where != "" {
			query += " WHERE " + where
		}
		var total decimal.Decimal
		if err := s.db.GetContext(ctx, &total, s.db.Rebind(query), args...); err != nil {
			return decimal.Zero, fmt.Errorf("sum cost: %w", err)
		}
		return total, nil
	}

	query := "SELECT cost_usd FROM calls"
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum cost: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var cost decimal.Decimal
		if err := rows.Scan(&cost); err != nil {
			return decimal.Zero, fmt.Errorf("scan cost: %w", err)
		}
		total = total.Add(cost)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("sum cost: %w", err)
	}
	return total, nil
}

type markRow struct {
	Kind        string       `db:"kind"`
	Fired       bool         `db:"fired"`
	LastFiredAt sql.NullTime `db:"last_fired_at"`
}

func (s *SQLStore) LoadBudget(ctx context.Context) (*model.BudgetSnapshot, error) {
	snap := &model.BudgetSnapshot{}

	var start time.Time
	err := s.db.GetContext(ctx, &start, "SELECT period_start FROM budget_period WHERE id = 1")
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load budget period: %w", err)
	default:
		snap.PeriodStart = start.UTC()
	}

	var rows []markRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT kind, fired, last_fired_at FROM alert_marks ORDER BY kind"); err != nil {
		return nil, fmt.Errorf("load alert marks: %w", err)
	}
	for _, r := range rows {
		m := model.AlertMark{Kind: model.AlertKind(r.Kind), Fired: r.Fired}
		if r.LastFiredAt.Valid {
			m.LastFiredAt = r.LastFiredAt.Time.UTC()
		}
		snap.Marks = append(snap.Marks, m)
	}
	return snap, nil
}

func (s *SQLStore) ResetBudgetPeriod(ctx context.Context, periodStart time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin budget reset: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO budget_period (id, period_start) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET period_start = excluded.period_start`),
		periodStart.UTC(),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("set budget period: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE alert_marks SET fired = ?"), false); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear fired marks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit budget reset: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// buildWhereClause constructs a SQL WHERE clause from a QueryFilter.
// Placeholders are '?' and must be rebound for the target driver.
func buildWhereClause(filter model.QueryFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, filter.Agent)
	}
	if filter.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.TaskID != "" {
		conditions = append(conditions, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.Until.UTC())
	}

	return strings.Join(conditions, " AND "), args
}
