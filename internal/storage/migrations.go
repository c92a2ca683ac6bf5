package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds the trap and alert schema migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Traps table
			CREATE TABLE IF NOT EXISTS traps (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				type TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				trigger_count INTEGER NOT NULL DEFAULT 0,
				last_triggered_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Trap conditions, ordered by position
			CREATE TABLE IF NOT EXISTS trap_conditions (
				id TEXT PRIMARY KEY,
				trap_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				type TEXT NOT NULL,
				field TEXT,
				pattern TEXT,
				service_name TEXT,
				min_level INTEGER NOT NULL DEFAULT 0,
				threshold INTEGER NOT NULL DEFAULT 0,
				window_seconds INTEGER NOT NULL DEFAULT 0,
				FOREIGN KEY (trap_id) REFERENCES traps(id) ON DELETE CASCADE
			);

			-- Alert rules bind a trap to a channel
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				trap_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				severity TEXT NOT NULL,
				throttle_minutes INTEGER NOT NULL DEFAULT 0,
				active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (trap_id) REFERENCES traps(id) ON DELETE CASCADE
			);

			-- Alert history; rows outlive their rule and trap
			CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				trap_id TEXT NOT NULL,
				team_id TEXT NOT NULL,
				trap_name TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'FIRED',
				created_at DATETIME NOT NULL,
				acknowledged_by TEXT,
				acknowledged_at DATETIME,
				resolved_by TEXT,
				resolved_at DATETIME
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_traps_team ON traps(team_id);
			CREATE INDEX IF NOT EXISTS idx_traps_active_type ON traps(active, type);
			CREATE INDEX IF NOT EXISTS idx_conditions_trap ON trap_conditions(trap_id, position);
			CREATE INDEX IF NOT EXISTS idx_alert_rules_trap ON alert_rules(trap_id);
			CREATE INDEX IF NOT EXISTS idx_alert_rules_team ON alert_rules(team_id);
			CREATE INDEX IF NOT EXISTS idx_alert_history_rule_created ON alert_history(rule_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_alert_history_team_created ON alert_history(team_id, created_at);
		`,
	},
}

// logMigrations holds the schema of the embedded SQLite log store.
var logMigrations = []Migration{
	{
		Version: 1,
		Name:    "log_records",
		Up: `
			CREATE TABLE IF NOT EXISTS log_records (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				level INTEGER NOT NULL,
				service_name TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				logger_name TEXT,
				thread_name TEXT,
				exception_class TEXT,
				exception_message TEXT,
				stack_trace TEXT,
				host_name TEXT,
				ip_address TEXT,
				correlation_id TEXT,
				custom_fields TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_log_records_team_ts ON log_records(team_id, timestamp);
			CREATE INDEX IF NOT EXISTS idx_log_records_team_service_ts ON log_records(team_id, service_name, timestamp);
		`,
	},
}

// runMigrations applies all pending migrations, tracking applied versions
// in the given table so that several schemas can share one database file.
func runMigrations(db *sql.DB, table string, pending []Migration) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + table + ` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM " + table).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range pending {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO "+table+" (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
