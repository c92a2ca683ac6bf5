// Package traps manages team-owned traps and evaluates incoming records
// against them.
package traps

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

// ErrTrapNotFound is returned when a trap does not exist or belongs to
// another team.
var ErrTrapNotFound = errors.New("trap not found")

// Manager owns trap CRUD and per-record evaluation.
type Manager struct {
	repo      storage.TrapRepository
	logs      LogSource
	evaluator *alerting.Evaluator
	limits    Limits
	now       func() time.Time
	logger    *zap.Logger
}

// LogSource reads stored records for replays.
type LogSource interface {
	Query(ctx context.Context, filter *storage.LogFilter) (*storage.LogQueryResult, error)
}

// NewManager creates a trap manager. logs may be nil, in which case replays
// of saved traps fail.
func NewManager(repo storage.TrapRepository, logs LogSource, evaluator *alerting.Evaluator, limits Limits, logger *zap.Logger) *Manager {
	limits.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:      repo,
		logs:      logs,
		evaluator: evaluator,
		limits:    limits,
		now:       time.Now,
		logger:    logger.Named("traps"),
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Limits returns the effective limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Create validates a definition and stores it as a new trap of the team.
func (m *Manager) Create(ctx context.Context, teamID string, def *Definition) (*models.Trap, error) {
	trap, err := def.Build(teamID, m.limits.MaxConditionsPerTrap)
	if err != nil {
		return nil, err
	}

	count, err := m.repo.CountByTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("count traps: %w", err)
	}
	if count >= int64(m.limits.MaxTrapsPerTeam) {
		return nil, invalid("", "team already has the maximum of %d traps", m.limits.MaxTrapsPerTeam)
	}

	now := m.now()
	trap.ID = uuid.New().String()
	trap.CreatedAt = now
	trap.UpdatedAt = now

	if err := m.repo.Create(ctx, trap); err != nil {
		return nil, fmt.Errorf("create trap: %w", err)
	}

	m.logger.Info("trap created",
		zap.String("trap_id", trap.ID),
		zap.String("team_id", teamID),
		zap.String("type", string(trap.Type)),
		zap.Int("conditions", len(trap.Conditions)))
	return trap, nil
}

// Update replaces a trap's definition. A definition with a nil condition
// list keeps the stored conditions; any other list replaces them entirely.
func (m *Manager) Update(ctx context.Context, teamID, id string, def *Definition) (*models.Trap, error) {
	existing, err := m.Get(ctx, teamID, id)
	if err != nil {
		return nil, err
	}

	keepConditions := def.Conditions == nil
	updated, err := def.Build(teamID, m.limits.MaxConditionsPerTrap)
	if err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.TriggerCount = existing.TriggerCount
	updated.LastTriggered = existing.LastTriggered
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = m.now()
	if def.Active == nil {
		updated.Active = existing.Active
	}
	if keepConditions {
		updated.Conditions = existing.Conditions
	}

	if err := m.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update trap: %w", err)
	}
	return updated, nil
}

// Delete removes a trap, its conditions and its alert rules.
func (m *Manager) Delete(ctx context.Context, teamID, id string) error {
	if _, err := m.Get(ctx, teamID, id); err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTrapNotFound
		}
		return fmt.Errorf("delete trap: %w", err)
	}
	m.logger.Info("trap deleted", zap.String("trap_id", id), zap.String("team_id", teamID))
	return nil
}

// SetActive sets the trap's active flag.
func (m *Manager) SetActive(ctx context.Context, teamID, id string, active bool) (*models.Trap, error) {
	trap, err := m.Get(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	if err := m.repo.SetActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("set trap active: %w", err)
	}
	trap.Active = active
	return trap, nil
}

// Toggle flips the trap's active flag.
func (m *Manager) Toggle(ctx context.Context, teamID, id string) (*models.Trap, error) {
	trap, err := m.Get(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	return m.SetActive(ctx, teamID, id, !trap.Active)
}

// Get returns a trap of the team.
func (m *Manager) Get(ctx context.Context, teamID, id string) (*models.Trap, error) {
	trap, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get trap: %w", err)
	}
	if trap == nil || trap.TeamID != teamID {
		return nil, ErrTrapNotFound
	}
	return trap, nil
}

// List returns all traps of the team.
func (m *Manager) List(ctx context.Context, teamID string) ([]*models.Trap, error) {
	traps, err := m.repo.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list traps: %w", err)
	}
	return traps, nil
}

// EvaluateRecord checks the record against the active traps of its team and
// returns the ids of the traps that matched. Matches are recorded on the
// trap. Failures are logged and never returned.
func (m *Manager) EvaluateRecord(ctx context.Context, record *models.LogRecord) []string {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.EvaluationRecordsTotal.Inc()

	active, err := m.repo.ListActiveByTeam(ctx, record.TeamID)
	if err != nil {
		m.logger.Warn("load active traps failed",
			zap.String("team_id", record.TeamID),
			zap.Error(err))
		metrics.EvaluationErrors.WithLabelValues("load").Inc()
		return nil
	}

	var matched []string
	for _, trap := range active {
		if !m.matches(ctx, trap, record) {
			continue
		}
		matched = append(matched, trap.ID)
		metrics.EvaluationMatchesTotal.WithLabelValues(string(trap.Type)).Inc()

		if err := m.repo.RecordTrigger(ctx, trap.ID, m.now()); err != nil {
			m.logger.Warn("record trap trigger failed",
				zap.String("trap_id", trap.ID),
				zap.Error(err))
			metrics.EvaluationErrors.WithLabelValues("trigger").Inc()
		}
	}
	return matched
}

func (m *Manager) matches(ctx context.Context, trap *models.Trap, record *models.LogRecord) bool {
	switch trap.Type {
	case models.TrapTypePattern:
		return m.evaluator.MatchPatternConditions(record, trap.Conditions)
	case models.TrapTypeFrequency:
		// Only threshold conditions take part; anything else on a
		// FREQUENCY trap is ignored.
		for _, cond := range trap.ConditionsOfType(models.ConditionFrequencyThreshold) {
			if !m.evaluator.MatchFrequencyThreshold(ctx, cond, trap.TeamID) {
				return false
			}
		}
		return true
	case models.TrapTypeAbsence:
		return false
	default:
		m.logger.Warn("unknown trap type",
			zap.String("trap_id", trap.ID),
			zap.String("type", string(trap.Type)))
		return false
	}
}

// MatchMessage is the alert message for a trap triggered by record.
func MatchMessage(record *models.LogRecord) string {
	return fmt.Sprintf("Matched %s log from %s: %s", record.Level, record.ServiceName, truncate(record.Message, 200))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
