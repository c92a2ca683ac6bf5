package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

const clickhouseContains = "positionCaseInsensitiveUTF8(message, ?) > 0"

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string `yaml:"addresses"`

	// Database is the ClickHouse database name.
	Database string `yaml:"database"`

	// Username for authentication.
	Username string `yaml:"username"`

	// Password for authentication.
	Password string `yaml:"password"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Compression enables LZ4 compression.
	Compression bool `yaml:"compression"`

	// RetentionDays is the TTL in days for log retention.
	RetentionDays int `yaml:"retention_days"`
}

// ClickHouseStorage implements LogStorage for ClickHouse.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	db     *sql.DB
	logs   *clickhouseLogRepo
	logger *zap.Logger
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig, logger *zap.Logger) *ClickHouseStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}

	return &ClickHouseStorage{config: config, logger: logger.Named("clickhouse")}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.logs = &clickhouseLogRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the log_records table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS log_records (
			id String,
			team_id LowCardinality(String),
			timestamp DateTime64(3, 'UTC'),
			level UInt8,
			service_name LowCardinality(String),
			message String,
			logger_name String,
			thread_name String,
			exception_class String,
			exception_message String,
			stack_trace String,
			host_name LowCardinality(String),
			ip_address String,
			correlation_id String,
			custom_fields String,
			_date Date DEFAULT toDate(timestamp)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (team_id, service_name, timestamp, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create log_records table: %w", err)
	}

	// Skip indexes are idempotent in ClickHouse
	indexes := []string{
		"ALTER TABLE log_records ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
		"ALTER TABLE log_records ADD INDEX IF NOT EXISTS idx_level level TYPE minmax GRANULARITY 4",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Index creation may not be supported in all ClickHouse versions
			s.logger.Warn("failed to create index", zap.Error(err))
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Logs returns the log repository.
func (s *ClickHouseStorage) Logs() LogRepository {
	return s.logs
}

// clickhouseLogRepo implements LogRepository for ClickHouse.
type clickhouseLogRepo struct {
	db *sql.DB
}

// InsertBatch inserts multiple log records using batch insert.
func (r *clickhouseLogRepo) InsertBatch(ctx context.Context, records []*models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_records (`+logRecordColumns+`)
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
			id,
			rec.TeamID,
			rec.Timestamp.UTC(),
			uint8(rec.Level),
			rec.ServiceName,
			rec.Message,
			rec.LoggerName,
			rec.ThreadName,
			rec.ExceptionClass,
			rec.ExceptionMessage,
			rec.StackTrace,
			rec.HostName,
			rec.IPAddress,
			rec.CorrelationID,
			rec.CustomFields,
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

// Query retrieves records matching the filter.
func (r *clickhouseLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	start := time.Now()
	where, args := buildLogWhere(filter, clickhouseContains)
	query := fmt.Sprintf("SELECT %s FROM log_records%s%s LIMIT %d OFFSET %d",
		logRecordColumns, where, logOrder(filter), logLimit(filter), filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("query", "clickhouse").Inc()
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
	metrics.StorageQueryDuration.WithLabelValues("query", "clickhouse").Observe(time.Since(start).Seconds())

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	return &LogQueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

// Count returns the count of records matching the filter.
func (r *clickhouseLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	start := time.Now()
	where, args := buildLogWhere(filter, clickhouseContains)

	var count uint64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM log_records"+where, args...).Scan(&count)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("count", "clickhouse").Inc()
		return 0, fmt.Errorf("count: %w", err)
	}
	metrics.StorageQueryDuration.WithLabelValues("count", "clickhouse").Observe(time.Since(start).Seconds())

	return int64(count), nil
}

// DeleteBefore removes records older than the specified time.
func (r *clickhouseLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var count uint64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM log_records WHERE timestamp < ?", before.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// ALTER TABLE DELETE is asynchronous in ClickHouse
	_, err = r.db.ExecContext(ctx, "ALTER TABLE log_records DELETE WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return int64(count), nil
}
