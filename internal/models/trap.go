package models

import (
	"fmt"
	"strings"
	"time"
)

// TrapType is the evaluation strategy of a trap.
type TrapType string

const (
	TrapTypePattern   TrapType = "PATTERN"
	TrapTypeFrequency TrapType = "FREQUENCY"
	TrapTypeAbsence   TrapType = "ABSENCE"
)

// ParseTrapType converts a string to TrapType.
func ParseTrapType(s string) (TrapType, error) {
	switch TrapType(strings.ToUpper(strings.TrimSpace(s))) {
	case TrapTypePattern:
		return TrapTypePattern, nil
	case TrapTypeFrequency:
		return TrapTypeFrequency, nil
	case TrapTypeAbsence:
		return TrapTypeAbsence, nil
	default:
		return "", fmt.Errorf("invalid trap type: %q", s)
	}
}

// ConditionType is the kind of check a single condition performs.
type ConditionType string

const (
	ConditionRegex              ConditionType = "REGEX"
	ConditionKeyword            ConditionType = "KEYWORD"
	ConditionFrequencyThreshold ConditionType = "FREQUENCY_THRESHOLD"
	ConditionAbsence            ConditionType = "ABSENCE"
)

// ParseConditionType converts a string to ConditionType.
func ParseConditionType(s string) (ConditionType, error) {
	switch ConditionType(strings.ToUpper(strings.TrimSpace(s))) {
	case ConditionRegex:
		return ConditionRegex, nil
	case ConditionKeyword:
		return ConditionKeyword, nil
	case ConditionFrequencyThreshold:
		return ConditionFrequencyThreshold, nil
	case ConditionAbsence:
		return ConditionAbsence, nil
	default:
		return "", fmt.Errorf("invalid condition type: %q", s)
	}
}

// IsContent reports whether the condition inspects record content.
func (t ConditionType) IsContent() bool {
	return t == ConditionRegex || t == ConditionKeyword
}

// Field is the canonical name of a record field a condition can target.
type Field string

const (
	FieldMessage          Field = "message"
	FieldLoggerName       Field = "logger_name"
	FieldThreadName       Field = "thread_name"
	FieldExceptionClass   Field = "exception_class"
	FieldExceptionMessage Field = "exception_message"
	FieldStackTrace       Field = "stack_trace"
	FieldServiceName      Field = "service_name"
	FieldHostName         Field = "host_name"
	FieldIPAddress        Field = "ip_address"
	FieldCorrelationID    Field = "correlation_id"
	FieldCustomFields     Field = "custom_fields"
	FieldLevel            Field = "level"
)

var fieldAliases = map[string]Field{
	"message":           FieldMessage,
	"logger_name":       FieldLoggerName,
	"loggername":        FieldLoggerName,
	"thread_name":       FieldThreadName,
	"threadname":        FieldThreadName,
	"exception_class":   FieldExceptionClass,
	"exceptionclass":    FieldExceptionClass,
	"exception_message": FieldExceptionMessage,
	"exceptionmessage":  FieldExceptionMessage,
	"stack_trace":       FieldStackTrace,
	"stacktrace":        FieldStackTrace,
	"service_name":      FieldServiceName,
	"servicename":       FieldServiceName,
	"host_name":         FieldHostName,
	"hostname":          FieldHostName,
	"host":              FieldHostName,
	"ip_address":        FieldIPAddress,
	"ipaddress":         FieldIPAddress,
	"ip":                FieldIPAddress,
	"correlation_id":    FieldCorrelationID,
	"correlationid":     FieldCorrelationID,
	"custom_fields":     FieldCustomFields,
	"customfields":      FieldCustomFields,
	"level":             FieldLevel,
	"severity":          FieldLevel,
}

// CanonicalField resolves a snake_case or camelCase field name to its
// canonical form. An empty name defaults to the message field.
func CanonicalField(name string) (Field, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FieldMessage, nil
	}
	if f, ok := fieldAliases[strings.ToLower(name)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown field: %q", name)
}

// Condition is a single predicate of a trap.
type Condition struct {
	ID       string        `json:"id"`
	TrapID   string        `json:"trapId"`
	Position int           `json:"position"`
	Type     ConditionType `json:"type"`
	Field    Field         `json:"field,omitempty"`
	Pattern  string        `json:"pattern,omitempty"`

	// ServiceName restricts the condition to one service when set.
	ServiceName string `json:"serviceNameFilter,omitempty"`

	// MinLevel restricts the condition to records at or above this level.
	// LevelUnknown means no filter.
	MinLevel Level `json:"severityFilter,omitempty"`

	Threshold     int `json:"threshold,omitempty"`
	WindowSeconds int `json:"windowSeconds,omitempty"`
}

// HasLevelFilter reports whether a minimum level filter is set.
func (c *Condition) HasLevelFilter() bool {
	return c.MinLevel != LevelUnknown
}

// Window returns the evaluation window as a duration.
func (c *Condition) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Trap is a team-owned detection rule.
type Trap struct {
	ID            string       `json:"id"`
	TeamID        string       `json:"teamId"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Type          TrapType     `json:"type"`
	Active        bool         `json:"active"`
	TriggerCount  int64        `json:"triggerCount"`
	LastTriggered *time.Time   `json:"lastTriggeredAt,omitempty"`
	Conditions    []*Condition `json:"conditions"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// NewTrap creates a new active Trap with initialized timestamps.
func NewTrap(teamID, name string, trapType TrapType) *Trap {
	now := time.Now()
	return &Trap{
		TeamID:    teamID,
		Name:      name,
		Type:      trapType,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ConditionsOfType returns the conditions of the given type in order.
func (t *Trap) ConditionsOfType(ct ConditionType) []*Condition {
	var out []*Condition
	for _, c := range t.Conditions {
		if c.Type == ct {
			out = append(out, c)
		}
	}
	return out
}
