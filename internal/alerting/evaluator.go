// Package alerting evaluates trap conditions against log records.
package alerting

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

// LogCounter counts stored log records matching a filter.
type LogCounter interface {
	Count(ctx context.Context, filter *storage.LogFilter) (int64, error)
}

// Evaluator matches conditions against records and windowed counts.
// Apart from the pattern cache it holds no state.
type Evaluator struct {
	patterns *PatternCache
	counter  LogCounter
	now      func() time.Time
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator. counter may be nil when only
// per-record matching is used; windowed checks then fail closed.
func NewEvaluator(patterns *PatternCache, counter LogCounter, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if patterns == nil {
		patterns = NewPatternCache(0, 0, logger)
	}
	return &Evaluator{
		patterns: patterns,
		counter:  counter,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the time source used for evaluation windows.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Patterns returns the evaluator's pattern cache.
func (e *Evaluator) Patterns() *PatternCache {
	return e.patterns
}

// MatchPatternConditions reports whether a record satisfies every
// per-record condition. Windowed condition types are skipped. An empty
// list matches.
func (e *Evaluator) MatchPatternConditions(record *models.LogRecord, conditions []*models.Condition) bool {
	for _, cond := range conditions {
		if !passesFilters(record, cond) {
			return false
		}

		switch cond.Type {
		case models.ConditionRegex:
			if !e.MatchRegex(record, cond) {
				return false
			}
		case models.ConditionKeyword:
			if !e.MatchKeyword(record, cond) {
				return false
			}
		case models.ConditionFrequencyThreshold, models.ConditionAbsence:
			continue
		default:
			e.logger.Warn("unknown condition type",
				zap.String("condition_id", cond.ID),
				zap.String("type", string(cond.Type)))
			return false
		}
	}
	return true
}

// passesFilters applies the service and minimum level filters.
func passesFilters(record *models.LogRecord, cond *models.Condition) bool {
	if cond.ServiceName != "" && record.ServiceName != cond.ServiceName {
		return false
	}
	if cond.HasLevelFilter() && !record.Level.AtLeast(cond.MinLevel) {
		return false
	}
	return true
}

// MatchRegex reports whether the condition's pattern is found in the
// target field. Absent fields and invalid patterns never match.
func (e *Evaluator) MatchRegex(record *models.LogRecord, cond *models.Condition) bool {
	value, ok := FieldValue(record, cond.Field)
	if !ok || cond.Pattern == "" {
		return false
	}
	return e.patterns.Match(cond.Pattern, value)
}

// MatchKeyword reports whether the target field contains the keyword,
// ignoring case.
func (e *Evaluator) MatchKeyword(record *models.LogRecord, cond *models.Condition) bool {
	value, ok := FieldValue(record, cond.Field)
	if !ok || cond.Pattern == "" {
		return false
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(cond.Pattern))
}

// MatchFrequencyThreshold reports whether at least Threshold records of the
// team, narrowed by the condition's filters, arrived in the trailing window.
func (e *Evaluator) MatchFrequencyThreshold(ctx context.Context, cond *models.Condition, teamID string) bool {
	if cond.Threshold <= 0 || cond.WindowSeconds <= 0 {
		e.logger.Warn("frequency condition missing threshold or window",
			zap.String("condition_id", cond.ID),
			zap.Int("threshold", cond.Threshold),
			zap.Int("window_seconds", cond.WindowSeconds))
		return false
	}

	count, err := e.countWindow(ctx, cond, teamID)
	if err != nil {
		e.logger.Warn("frequency count failed",
			zap.String("condition_id", cond.ID),
			zap.String("team_id", teamID),
			zap.Error(err))
		metrics.EvaluationErrors.WithLabelValues("count").Inc()
		return false
	}
	return count >= int64(cond.Threshold)
}

// MatchAbsence reports whether no records of the team, narrowed by the
// condition's filters, arrived in the trailing window.
func (e *Evaluator) MatchAbsence(ctx context.Context, cond *models.Condition, teamID string) bool {
	if cond.WindowSeconds <= 0 {
		e.logger.Warn("absence condition missing window",
			zap.String("condition_id", cond.ID))
		return false
	}

	count, err := e.countWindow(ctx, cond, teamID)
	if err != nil {
		e.logger.Warn("absence count failed",
			zap.String("condition_id", cond.ID),
			zap.String("team_id", teamID),
			zap.Error(err))
		metrics.EvaluationErrors.WithLabelValues("count").Inc()
		return false
	}
	return count == 0
}

func (e *Evaluator) countWindow(ctx context.Context, cond *models.Condition, teamID string) (int64, error) {
	if e.counter == nil {
		return 0, errors.New("no log counter configured")
	}
	now := e.now()
	return e.counter.Count(ctx, &storage.LogFilter{
		TeamID:      teamID,
		StartTime:   now.Add(-cond.Window()),
		EndTime:     now,
		ServiceName: cond.ServiceName,
		MinLevel:    cond.MinLevel,
	})
}
