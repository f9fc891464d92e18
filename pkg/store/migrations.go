package store

import (
	"database/sql"
	"fmt"
)

// Migration is a single schema change
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations are applied in order on top of the base schema
var migrations = []Migration{
	{
		Version: 1,
		Name:    "Add owner/started_at index for history queries",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_load_test_runs_owner_started
			ON load_test_runs(owner_id, started_at DESC);
		`,
	},
	{
		Version: 2,
		Name:    "Add latency buckets and host stats columns",
		Up: `
			ALTER TABLE load_test_runs ADD COLUMN latency_buckets TEXT;
			ALTER TABLE load_test_runs ADD COLUMN host_stats TEXT;
		`,
	},
}

const baseSchema = `
	CREATE TABLE IF NOT EXISTS load_test_runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		endpoint_id TEXT,
		name TEXT NOT NULL,
		concurrency INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		ramp_up_seconds INTEGER NOT NULL DEFAULT 0,
		request_timeout_seconds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		has_result INTEGER NOT NULL DEFAULT 0,
		total_requests INTEGER NOT NULL DEFAULT 0,
		successful_requests INTEGER NOT NULL DEFAULT 0,
		failed_requests INTEGER NOT NULL DEFAULT 0,
		avg_response_time REAL NOT NULL DEFAULT 0,
		min_response_time REAL NOT NULL DEFAULT 0,
		max_response_time REAL NOT NULL DEFAULT 0,
		requests_per_second REAL NOT NULL DEFAULT 0,
		error_rate REAL NOT NULL DEFAULT 0,
		p50 REAL NOT NULL DEFAULT 0,
		p95 REAL NOT NULL DEFAULT 0,
		p99 REAL NOT NULL DEFAULT 0
	);
`

// migrate creates the base schema and applies pending migrations
func migrate(db *sql.DB) error {
	if _, err := db.Exec(baseSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
