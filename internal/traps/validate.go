package traps

import (
	"fmt"
	"strings"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

const (
	// DefaultMaxTrapsPerTeam is the default cap on traps a team may own.
	DefaultMaxTrapsPerTeam = 50
	// DefaultMaxConditionsPerTrap is the default cap on conditions per trap.
	DefaultMaxConditionsPerTrap = 10

	maxNameLength = 100
)

// ValidationError describes a rejected trap definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Limits bounds how much evaluation work one team can cause.
type Limits struct {
	MaxTrapsPerTeam      int `yaml:"max_traps_per_team"`
	MaxConditionsPerTrap int `yaml:"max_conditions_per_trap"`
}

// SetDefaults fills unset limits.
func (l *Limits) SetDefaults() {
	if l.MaxTrapsPerTeam <= 0 {
		l.MaxTrapsPerTeam = DefaultMaxTrapsPerTeam
	}
	if l.MaxConditionsPerTrap <= 0 {
		l.MaxConditionsPerTrap = DefaultMaxConditionsPerTrap
	}
}

// Definition is an unvalidated trap as submitted by a client or read from a
// definition file. Category and level names are plain strings here and are
// parsed by Build.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Type        string `json:"type" yaml:"type"`
	Active      *bool  `json:"active,omitempty" yaml:"active"`

	// Conditions replaces the trap's list on update. A nil list on update
	// keeps the stored conditions.
	Conditions []ConditionDefinition `json:"conditions" yaml:"conditions"`
}

// ConditionDefinition is an unvalidated condition.
type ConditionDefinition struct {
	Type              string `json:"type" yaml:"type"`
	Field             string `json:"field" yaml:"field"`
	Pattern           string `json:"pattern" yaml:"pattern"`
	Threshold         int    `json:"threshold" yaml:"threshold"`
	WindowSeconds     int    `json:"windowSeconds" yaml:"window_seconds"`
	ServiceNameFilter string `json:"serviceNameFilter" yaml:"service"`
	SeverityFilter    string `json:"severityFilter" yaml:"min_level"`
}

// Build validates the definition and converts it to a trap owned by teamID.
// All failures are *ValidationError.
func (d *Definition) Build(teamID string, maxConditions int) (*models.Trap, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if len(name) > maxNameLength {
		return nil, invalid("name", "must be at most %d characters", maxNameLength)
	}

	trapType, err := models.ParseTrapType(d.Type)
	if err != nil {
		return nil, invalid("type", "must be one of PATTERN, FREQUENCY, ABSENCE")
	}

	if maxConditions > 0 && len(d.Conditions) > maxConditions {
		return nil, invalid("conditions", "at most %d conditions per trap", maxConditions)
	}

	trap := models.NewTrap(teamID, name, trapType)
	trap.Description = strings.TrimSpace(d.Description)
	if d.Active != nil {
		trap.Active = *d.Active
	}

	conditions, err := buildConditions(d.Conditions)
	if err != nil {
		return nil, err
	}
	trap.Conditions = conditions
	return trap, nil
}

func buildConditions(defs []ConditionDefinition) ([]*models.Condition, error) {
	out := make([]*models.Condition, 0, len(defs))
	for i := range defs {
		cond, err := defs[i].build(i)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func (d *ConditionDefinition) build(pos int) (*models.Condition, error) {
	prefix := fmt.Sprintf("conditions[%d]", pos)

	condType, err := models.ParseConditionType(d.Type)
	if err != nil {
		return nil, invalid(prefix+".type", "must be one of REGEX, KEYWORD, FREQUENCY_THRESHOLD, ABSENCE")
	}

	cond := &models.Condition{
		Position:    pos,
		Type:        condType,
		Pattern:     d.Pattern,
		ServiceName: strings.TrimSpace(d.ServiceNameFilter),
	}

	if d.SeverityFilter != "" {
		level, err := models.ParseLevel(d.SeverityFilter)
		if err != nil {
			return nil, invalid(prefix+".severityFilter", "unknown level %q", d.SeverityFilter)
		}
		cond.MinLevel = level
	}

	switch condType {
	case models.ConditionRegex, models.ConditionKeyword:
		field, err := models.CanonicalField(d.Field)
		if err != nil {
			return nil, invalid(prefix+".field", "unknown field %q", d.Field)
		}
		cond.Field = field
		if d.Pattern == "" {
			return nil, invalid(prefix+".pattern", "is required for %s conditions", condType)
		}
		if condType == models.ConditionRegex {
			if _, err := alerting.CompilePattern(d.Pattern); err != nil {
				return nil, invalid(prefix+".pattern", "%v", err)
			}
		}
	case models.ConditionFrequencyThreshold:
		if d.Threshold < 1 {
			return nil, invalid(prefix+".threshold", "must be at least 1")
		}
		if d.WindowSeconds < 1 {
			return nil, invalid(prefix+".windowSeconds", "must be at least 1")
		}
		cond.Threshold = d.Threshold
		cond.WindowSeconds = d.WindowSeconds
	case models.ConditionAbsence:
		if d.WindowSeconds < 1 {
			return nil, invalid(prefix+".windowSeconds", "must be at least 1")
		}
		cond.WindowSeconds = d.WindowSeconds
	}

	// Windowed conditions ignore the target field, but a supplied name must
	// still be valid.
	if !condType.IsContent() && d.Field != "" {
		field, err := models.CanonicalField(d.Field)
		if err != nil {
			return nil, invalid(prefix+".field", "unknown field %q", d.Field)
		}
		cond.Field = field
	}

	return cond, nil
}
