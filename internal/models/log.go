// Package models contains the core data structures for LogTrap.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is the ordered severity of a log record.
// Comparisons use the ordinal value: TRACE < DEBUG < INFO < WARN < ERROR < FATAL.
type Level int

const (
	LevelUnknown Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// String returns the canonical upper-case name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether l is one of the six known levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// AtLeast returns true if l is the same as or more severe than min.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// ParseLevel converts a string to a Level. Matching is case-insensitive and
// accepts the common aliases WARNING, ERR, and CRITICAL.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "NOTICE":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR", "ERR":
		return LevelError, nil
	case "FATAL", "CRITICAL", "CRIT":
		return LevelFatal, nil
	default:
		return LevelUnknown, fmt.Errorf("invalid log level: %q", s)
	}
}

// MarshalJSON encodes the level as its name. An unset level encodes as "".
func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return json.Marshal("")
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name. An empty string leaves the level unset.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*l = LevelUnknown
		return nil
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogRecord is a single structured log record as seen by the trap engine.
type LogRecord struct {
	ID               string    `json:"id"`
	TeamID           string    `json:"teamId"`
	Timestamp        time.Time `json:"timestamp"`
	Level            Level     `json:"level"`
	ServiceName      string    `json:"serviceName"`
	Message          string    `json:"message"`
	LoggerName       string    `json:"loggerName,omitempty"`
	ThreadName       string    `json:"threadName,omitempty"`
	ExceptionClass   string    `json:"exceptionClass,omitempty"`
	ExceptionMessage string    `json:"exceptionMessage,omitempty"`
	StackTrace       string    `json:"stackTrace,omitempty"`
	HostName         string    `json:"hostName,omitempty"`
	IPAddress        string    `json:"ipAddress,omitempty"`
	CorrelationID    string    `json:"correlationId,omitempty"`

	// CustomFields is an opaque JSON blob; it is matched as text.
	CustomFields string `json:"customFields,omitempty"`
}

// String returns a short representation of the record.
func (r *LogRecord) String() string {
	return r.Timestamp.Format(time.RFC3339) + " [" + r.Level.String() + "] " + r.ServiceName + ": " + r.Message
}

// IsError returns true if the record is ERROR or FATAL.
func (r *LogRecord) IsError() bool {
	return r.Level.AtLeast(LevelError)
}
