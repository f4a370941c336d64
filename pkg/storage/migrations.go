package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var sqliteMigrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS calls (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		id               TEXT NOT NULL UNIQUE,
		timestamp        DATETIME NOT NULL,
		agent            TEXT NOT NULL,
		model            TEXT NOT NULL,
		tier             TEXT NOT NULL,
		input_tokens     INTEGER NOT NULL DEFAULT 0,
		output_tokens    INTEGER NOT NULL DEFAULT 0,
		cost_usd         TEXT NOT NULL DEFAULT '0',
		duration_seconds REAL NOT NULL DEFAULT 0,
		success          BOOLEAN NOT NULL DEFAULT 1,
		task_id          TEXT NOT NULL DEFAULT '',
		correlation_id   TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_calls_agent ON calls(agent);
	CREATE INDEX IF NOT EXISTS idx_calls_model ON calls(model);
	CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_calls_task ON calls(task_id);

	CREATE TABLE IF NOT EXISTS budget_period (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		period_start DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alert_marks (
		kind          TEXT PRIMARY KEY,
		fired         BOOLEAN NOT NULL DEFAULT 0,
		last_fired_at DATETIME
	);`,
}

var postgresMigrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS calls (
		seq              BIGSERIAL PRIMARY KEY,
		id               TEXT NOT NULL UNIQUE,
		timestamp        TIMESTAMPTZ NOT NULL,
		agent            TEXT NOT NULL,
		model            TEXT NOT NULL,
		tier             TEXT NOT NULL,
		input_tokens     BIGINT NOT NULL DEFAULT 0,
		output_tokens    BIGINT NOT NULL DEFAULT 0,
		cost_usd         NUMERIC NOT NULL DEFAULT 0,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		success          BOOLEAN NOT NULL DEFAULT TRUE,
		task_id          TEXT NOT NULL DEFAULT '',
		correlation_id   TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_calls_agent ON calls(agent);
	CREATE INDEX IF NOT EXISTS idx_calls_model ON calls(model);
	CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_calls_task ON calls(task_id);

	CREATE TABLE IF NOT EXISTS budget_period (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		period_start TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alert_marks (
		kind          TEXT PRIMARY KEY,
		fired         BOOLEAN NOT NULL DEFAULT FALSE,
		last_fired_at TIMESTAMPTZ
	);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sqlx.DB, migrations []string) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(tx.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
