package storage

import (
	"context"
	"strings"
	"time"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

// LogStorage defines operations for log persistence.
// This is separate from the main Storage interface as logs have
// different access patterns (high-volume writes, time-series queries).
type LogStorage interface {
	// Open initializes the log storage connection.
	Open() error
	// Close closes the log storage connection.
	Close() error
	// Migrate creates or updates the log storage schema.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Logs returns the log repository.
	Logs() LogRepository
}

// LogRepository defines log read and write operations.
type LogRepository interface {
	// InsertBatch inserts multiple log records in a single batch.
	InsertBatch(ctx context.Context, records []*models.LogRecord) error

	// Query retrieves records matching the given filters.
	Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error)

	// Count returns the count of records matching the filter.
	Count(ctx context.Context, filter *LogFilter) (int64, error)

	// DeleteBefore removes records older than the specified time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LogFilter defines query parameters for log retrieval.
type LogFilter struct {
	// TeamID scopes the query to one team. Required by the engine,
	// optional for operator queries.
	TeamID string

	// Time range, both ends inclusive.
	StartTime time.Time
	EndTime   time.Time

	// Optional filters.
	ServiceName string
	MinLevel    models.Level // LevelUnknown means any level.

	// Case-insensitive substring search on message.
	MessageContains string

	// Pagination.
	Limit  int
	Offset int

	// OrderAsc returns oldest records first; the default is newest first.
	OrderAsc bool
}

// LogQueryResult contains query results with pagination info.
type LogQueryResult struct {
	// Entries contains the matching log records.
	Entries []*models.LogRecord

	// Total is the total number of matching records (for pagination).
	Total int64

	// HasMore indicates if there are more results available.
	HasMore bool
}

const defaultLogQueryLimit = 100

// buildLogWhere renders the WHERE clause shared by the SQL log backends.
// contains renders the dialect's case-insensitive substring predicate.
func buildLogWhere(filter *LogFilter, contains string) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.TeamID != "" {
		conditions = append(conditions, "team_id = ?")
		args = append(args, filter.TeamID)
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC())
	}
	if filter.ServiceName != "" {
		conditions = append(conditions, "service_name = ?")
		args = append(args, filter.ServiceName)
	}
	if filter.MinLevel != models.LevelUnknown {
		conditions = append(conditions, "level >= ?")
		args = append(args, int(filter.MinLevel))
	}
	if filter.MessageContains != "" {
		conditions = append(conditions, contains)
		args = append(args, filter.MessageContains)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func logOrder(filter *LogFilter) string {
	if filter.OrderAsc {
		return " ORDER BY timestamp ASC"
	}
	return " ORDER BY timestamp DESC"
}

func logLimit(filter *LogFilter) int {
	if filter.Limit <= 0 {
		return defaultLogQueryLimit
	}
	return filter.Limit
}
