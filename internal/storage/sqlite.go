package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	traps        *sqliteTrapRepo
	alertRules   *sqliteAlertRuleRepo
	alertHistory *sqliteAlertHistoryRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	db, err := openSQLite(s.path)
	if err != nil {
		return err
	}
	s.db = db

	// Initialize repositories
	s.traps = &sqliteTrapRepo{db: db}
	s.alertRules = &sqliteAlertRuleRepo{db: db}
	s.alertHistory = &sqliteAlertHistoryRepo{db: db}

	return nil
}

// openSQLite opens a single-writer SQLite handle with foreign keys and WAL.
func openSQLite(path string) (*sql.DB, error) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db, "schema_migrations", migrations)
}

// Traps returns the trap repository.
func (s *SQLiteStorage) Traps() TrapRepository {
	return s.traps
}

// AlertRules returns the alert rule repository.
func (s *SQLiteStorage) AlertRules() AlertRuleRepository {
	return s.alertRules
}

// AlertHistory returns the alert history repository.
func (s *SQLiteStorage) AlertHistory() AlertHistoryRepository {
	return s.alertHistory
}
