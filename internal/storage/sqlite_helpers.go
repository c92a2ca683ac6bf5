package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is wrapped by mutations that matched no row.
var ErrNotFound = errors.New("not found")

// ErrStatusChanged is returned by conditional updates whose expected status
// no longer matches the stored row.
var ErrStatusChanged = errors.New("status changed concurrently")

type scanner interface {
	Scan(dest ...interface{}) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// inClause returns "?, ?, ?" and the matching argument list.
func inClause(values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func expectOneRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %w: %s", kind, ErrNotFound, id)
	}
	return nil
}
