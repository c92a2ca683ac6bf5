package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

const logRecordColumns = `id, team_id, timestamp, level, service_name, message, logger_name,
	thread_name, exception_class, exception_message, stack_trace, host_name, ip_address,
	correlation_id, custom_fields`

const sqliteContains = "instr(lower(message), lower(?)) > 0"

// SQLiteLogStorage implements LogStorage on an embedded SQLite file.
// It serves single-node deployments and tests.
type SQLiteLogStorage struct {
	path string
	db   *sql.DB
	logs *sqliteLogRepo
}

// NewSQLiteLogStorage creates a new SQLite log storage.
func NewSQLiteLogStorage(path string) *SQLiteLogStorage {
	return &SQLiteLogStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteLogStorage) Open() error {
	db, err := openSQLite(s.path)
	if err != nil {
		return err
	}
	s.db = db
	s.logs = &sqliteLogRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *SQLiteLogStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the log_records table.
func (s *SQLiteLogStorage) Migrate() error {
	return runMigrations(s.db, "log_schema_migrations", logMigrations)
}

// Ping checks the connection health.
func (s *SQLiteLogStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Logs returns the log repository.
func (s *SQLiteLogStorage) Logs() LogRepository {
	return s.logs
}

type sqliteLogRepo struct {
	db *sql.DB
}

func (r *sqliteLogRepo) InsertBatch(ctx context.Context, records []*models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO log_records (`+logRecordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := stmt.ExecContext(ctx,
			id, rec.TeamID, rec.Timestamp.UTC(), int(rec.Level), rec.ServiceName, rec.Message,
			rec.LoggerName, rec.ThreadName, rec.ExceptionClass, rec.ExceptionMessage,
			rec.StackTrace, rec.HostName, rec.IPAddress, rec.CorrelationID, rec.CustomFields,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *sqliteLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	start := time.Now()
	where, args := buildLogWhere(filter, sqliteContains)
	query := "SELECT " + logRecordColumns + " FROM log_records" + where + logOrder(filter) + " LIMIT ? OFFSET ?"

	rows, err := r.db.QueryContext(ctx, query, append(args, logLimit(filter), filter.Offset)...)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("query", "sqlite").Inc()
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogRecord
	for rows.Next() {
		rec, err := scanLogRecord(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	rows.Close()
	metrics.StorageQueryDuration.WithLabelValues("query", "sqlite").Observe(time.Since(start).Seconds())

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

func (r *sqliteLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	where, args := buildLogWhere(filter, sqliteContains)

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_records"+where, args...).Scan(&count); err != nil {
		metrics.StorageErrors.WithLabelValues("count", "sqlite").Inc()
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (r *sqliteLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM log_records WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return result.RowsAffected()
}

func scanLogRecord(row scanner) (*models.LogRecord, error) {
	rec := &models.LogRecord{}
	var level int
	var loggerName, threadName, excClass, excMessage, stackTrace sql.NullString
	var hostName, ipAddress, correlationID, customFields sql.NullString

	err := row.Scan(
		&rec.ID, &rec.TeamID, &rec.Timestamp, &level, &rec.ServiceName, &rec.Message,
		&loggerName, &threadName, &excClass, &excMessage, &stackTrace,
		&hostName, &ipAddress, &correlationID, &customFields,
	)
	if err != nil {
		return nil, fmt.Errorf("scan log record: %w", err)
	}

	rec.Level = models.Level(level)
	rec.LoggerName = loggerName.String
	rec.ThreadName = threadName.String
	rec.ExceptionClass = excClass.String
	rec.ExceptionMessage = excMessage.String
	rec.StackTrace = stackTrace.String
	rec.HostName = hostName.String
	rec.IPAddress = ipAddress.String
	rec.CorrelationID = correlationID.String
	rec.CustomFields = customFields.String
	return rec, nil
}
