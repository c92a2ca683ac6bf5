package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/notifier"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

// MaxThrottleMinutes caps a rule's throttle window at one week.
const MaxThrottleMinutes = 7 * 24 * 60

var (
	// ErrRuleNotFound is returned for unknown rules and rules of another team.
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrTrapNotFound is returned when a rule references a missing trap.
	ErrTrapNotFound = errors.New("trap not found")
)

// ValidationError describes a rejected alert rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ChannelLookup reports whether a notification channel exists.
type ChannelLookup interface {
	Get(channelID string) (notifier.Notifier, bool)
}

// RuleInput is an unvalidated alert rule.
type RuleInput struct {
	TrapID          string `json:"trapId"`
	ChannelID       string `json:"channelId"`
	Severity        string `json:"severity"`
	ThrottleMinutes int    `json:"throttleMinutes"`
	Active          *bool  `json:"active,omitempty"`
}

// Rules manages alert rules of a team.
type Rules struct {
	rules    storage.AlertRuleRepository
	traps    storage.TrapRepository
	channels ChannelLookup
	now      func() time.Time
	logger   *zap.Logger
}

// NewRules creates a rule service. channels may be nil to skip channel
// checks.
func NewRules(rules storage.AlertRuleRepository, traps storage.TrapRepository, channels ChannelLookup, logger *zap.Logger) *Rules {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rules{
		rules:    rules,
		traps:    traps,
		channels: channels,
		now:      time.Now,
		logger:   logger.Named("rules"),
	}
}

func (r *Rules) validate(in *RuleInput) (models.Severity, error) {
	if strings.TrimSpace(in.ChannelID) == "" {
		return "", &ValidationError{Field: "channelId", Message: "is required"}
	}
	if r.channels != nil {
		if _, ok := r.channels.Get(in.ChannelID); !ok {
			return "", &ValidationError{Field: "channelId", Message: fmt.Sprintf("unknown channel %q", in.ChannelID)}
		}
	}
	severity, err := models.ParseSeverity(in.Severity)
	if err != nil {
		return "", &ValidationError{Field: "severity", Message: "must be one of low, medium, high, critical"}
	}
	if in.ThrottleMinutes < 0 || in.ThrottleMinutes > MaxThrottleMinutes {
		return "", &ValidationError{Field: "throttleMinutes", Message: fmt.Sprintf("must be between 0 and %d", MaxThrottleMinutes)}
	}
	return severity, nil
}

// Create validates and stores a rule bound to a trap of the team.
func (r *Rules) Create(ctx context.Context, teamID string, in *RuleInput) (*models.AlertRule, error) {
	severity, err := r.validate(in)
	if err != nil {
		return nil, err
	}

	trap, err := r.traps.GetByID(ctx, in.TrapID)
	if err != nil {
		return nil, fmt.Errorf("get trap: %w", err)
	}
	if trap == nil || trap.TeamID != teamID {
		return nil, ErrTrapNotFound
	}

	rule := models.NewAlertRule(teamID, trap.ID, in.ChannelID, severity)
	rule.ID = uuid.New().String()
	rule.ThrottleMinutes = in.ThrottleMinutes
	if in.Active != nil {
		rule.Active = *in.Active
	}
	now := r.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := r.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	r.logger.Info("alert rule created",
		zap.String("rule_id", rule.ID),
		zap.String("trap_id", rule.TrapID),
		zap.String("channel_id", rule.ChannelID))
	return rule, nil
}

// Update changes a rule's channel, severity, throttle and active flag.
// The bound trap cannot change.
func (r *Rules) Update(ctx context.Context, teamID, id string, in *RuleInput) (*models.AlertRule, error) {
	rule, err := r.Get(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	if in.TrapID != "" && in.TrapID != rule.TrapID {
		return nil, &ValidationError{Field: "trapId", Message: "cannot be changed"}
	}
	severity, err := r.validate(in)
	if err != nil {
		return nil, err
	}

	rule.ChannelID = in.ChannelID
	rule.Severity = severity
	rule.ThrottleMinutes = in.ThrottleMinutes
	if in.Active != nil {
		rule.Active = *in.Active
	}
	rule.UpdatedAt = r.now()

	if err := r.rules.Update(ctx, rule); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

// Delete removes a rule. Its alert history is kept.
func (r *Rules) Delete(ctx context.Context, teamID, id string) error {
	if _, err := r.Get(ctx, teamID, id); err != nil {
		return err
	}
	if err := r.rules.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// Get returns a rule of the team.
func (r *Rules) Get(ctx context.Context, teamID, id string) (*models.AlertRule, error) {
	rule, err := r.rules.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	if rule == nil || rule.TeamID != teamID {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// List returns the team's rules, optionally only those of one trap.
func (r *Rules) List(ctx context.Context, teamID, trapID string) ([]*models.AlertRule, error) {
	if trapID == "" {
		rules, err := r.rules.ListByTeam(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("list rules: %w", err)
		}
		return rules, nil
	}

	rules, err := r.rules.ListByTrap(ctx, trapID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := rules[:0]
	for _, rule := range rules {
		if rule.TeamID == teamID {
			out = append(out, rule)
		}
	}
	return out, nil
}
