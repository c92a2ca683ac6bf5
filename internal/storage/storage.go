// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

// Storage is the main interface for trap and alert persistence.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Traps() TrapRepository
	AlertRules() AlertRuleRepository
	AlertHistory() AlertHistoryRepository
}

// TrapRepository defines operations for trap management.
// Lookups that find nothing return nil, nil.
type TrapRepository interface {
	Create(ctx context.Context, trap *models.Trap) error
	GetByID(ctx context.Context, id string) (*models.Trap, error)
	// Update replaces the trap's fields and its entire condition list.
	Update(ctx context.Context, trap *models.Trap) error
	Delete(ctx context.Context, id string) error
	ListByTeam(ctx context.Context, teamID string) ([]*models.Trap, error)
	CountByTeam(ctx context.Context, teamID string) (int64, error)
	ListActiveByTeam(ctx context.Context, teamID string) ([]*models.Trap, error)
	ListActiveByType(ctx context.Context, trapType models.TrapType) ([]*models.Trap, error)
	SetActive(ctx context.Context, id string, active bool) error
	// RecordTrigger increments the trigger count and sets the last
	// triggered time in a single statement.
	RecordTrigger(ctx context.Context, id string, at time.Time) error
}

// AlertRuleRepository defines operations for alert rule management.
type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	ListByTeam(ctx context.Context, teamID string) ([]*models.AlertRule, error)
	ListByTrap(ctx context.Context, trapID string) ([]*models.AlertRule, error)
	ListActiveByTrap(ctx context.Context, trapID string) ([]*models.AlertRule, error)
}

// AlertHistoryFilter narrows alert history listings.
type AlertHistoryFilter struct {
	TeamID   string
	RuleID   string
	TrapID   string
	Status   models.AlertStatus
	Severity models.Severity
	Limit    int
	Offset   int
}

// AlertHistoryRepository defines operations for alert history.
type AlertHistoryRepository interface {
	Create(ctx context.Context, history *models.AlertHistory) error
	GetByID(ctx context.Context, id string) (*models.AlertHistory, error)
	// Update persists status and acknowledgment/resolution fields only if
	// the stored status is still from. It returns ErrStatusChanged when
	// another update got there first.
	Update(ctx context.Context, history *models.AlertHistory, from models.AlertStatus) error
	List(ctx context.Context, filter *AlertHistoryFilter) ([]*models.AlertHistory, int64, error)
	// ExistsForRuleSince reports whether the rule fired at or after since.
	ExistsForRuleSince(ctx context.Context, ruleID string, since time.Time) (bool, error)
}
