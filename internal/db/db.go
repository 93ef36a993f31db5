// Package db persists simulation runs to SQLite: one row per run, one
// row per tick of metrics, and the full intent log.
package db

import (
	"database/sql"
	"fmt"

	"finsim/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS runs (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				started_at   TEXT NOT NULL,
				seed         INTEGER NOT NULL,
				n_banks      INTEGER NOT NULL,
				network_type TEXT NOT NULL,
				steps        INTEGER NOT NULL,
				defaults     INTEGER NOT NULL,
				survivors    INTEGER NOT NULL,
				fund_left    REAL NOT NULL
			);

			CREATE TABLE IF NOT EXISTS tick_metrics (
				run_id          INTEGER NOT NULL REFERENCES runs(id),
				tick            INTEGER NOT NULL,
				defaults        INTEGER NOT NULL,
				active          INTEGER NOT NULL,
				stressed        INTEGER NOT NULL,
				total_liquidity REAL NOT NULL,
				total_exposure  REAL NOT NULL,
				frozen          INTEGER NOT NULL,
				margin_rate     REAL NOT NULL,
				default_fund    REAL NOT NULL,
				panic           INTEGER NOT NULL,
				avg_default_pd  REAL NOT NULL,
				avg_stress      REAL NOT NULL,
				avg_volatility  REAL NOT NULL,
				ccp_utility     REAL NOT NULL,
				PRIMARY KEY (run_id, tick)
			);

			CREATE TABLE IF NOT EXISTS intent_log (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id      INTEGER NOT NULL REFERENCES runs(id),
				intent_id   TEXT NOT NULL,
				tick        INTEGER NOT NULL,
				agent_id    TEXT NOT NULL,
				action_type TEXT NOT NULL,
				visibility  TEXT NOT NULL,
				payload     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_intent_run_tick ON intent_log(run_id, tick);

			INSERT OR REPLACE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}
