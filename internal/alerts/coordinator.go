// Package alerts fires alerts for matched traps, delivers them, and moves
// them through their lifecycle.
package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/notifier"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

// Submitter accepts delivery tasks without blocking.
type Submitter interface {
	Submit(task DeliveryTask) bool
}

// FireResult counts what happened to each rule of a trap in one firing.
type FireResult struct {
	Rules     int
	Fired     int
	Throttled int
	Failed    int
}

// Coordinator turns a matched trap into persisted alerts, one per active
// rule that is not throttled.
type Coordinator struct {
	traps    storage.TrapRepository
	rules    storage.AlertRuleRepository
	history  storage.AlertHistoryRepository
	delivery Submitter
	now      func() time.Time
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator. delivery may be nil, in which case
// alerts are persisted but not sent.
func NewCoordinator(traps storage.TrapRepository, rules storage.AlertRuleRepository, history storage.AlertHistoryRepository, delivery Submitter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		traps:    traps,
		rules:    rules,
		history:  history,
		delivery: delivery,
		now:      time.Now,
		logger:   logger.Named("coordinator"),
	}
}

// SetClock replaces the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// FireAlerts fires every active rule bound to the trap. Each rule is
// throttled against its own most recent alert in history. Failures are
// logged and counted per rule and never returned.
func (c *Coordinator) FireAlerts(ctx context.Context, trapID, message string) FireResult {
	var res FireResult

	trap, err := c.traps.GetByID(ctx, trapID)
	if err != nil {
		c.logger.Warn("load trap for firing failed", zap.String("trap_id", trapID), zap.Error(err))
		metrics.AlertsFireErrors.Inc()
		return res
	}
	if trap == nil {
		c.logger.Warn("fire requested for unknown trap", zap.String("trap_id", trapID))
		return res
	}

	rules, err := c.rules.ListActiveByTrap(ctx, trapID)
	if err != nil {
		c.logger.Warn("load alert rules failed", zap.String("trap_id", trapID), zap.Error(err))
		metrics.AlertsFireErrors.Inc()
		return res
	}
	res.Rules = len(rules)

	for _, rule := range rules {
		switch c.fireRule(ctx, trap, rule, message) {
		case ruleFired:
			res.Fired++
		case ruleThrottled:
			res.Throttled++
		case ruleFailed:
			res.Failed++
		}
	}
	return res
}

type ruleOutcome int

const (
	ruleFired ruleOutcome = iota
	ruleThrottled
	ruleFailed
)

// fireRule checks the rule's throttle window and persists a FIRED alert.
// The check and the insert are separate statements, so concurrent firings
// of one rule can both pass the check.
func (c *Coordinator) fireRule(ctx context.Context, trap *models.Trap, rule *models.AlertRule, message string) ruleOutcome {
	now := c.now()

	if rule.ThrottleMinutes > 0 {
		recent, err := c.history.ExistsForRuleSince(ctx, rule.ID, now.Add(-rule.Throttle()))
		if err != nil {
			c.logger.Warn("throttle check failed",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			metrics.AlertsFireErrors.Inc()
			return ruleFailed
		}
		if recent {
			metrics.AlertsThrottledTotal.Inc()
			c.logger.Debug("alert throttled",
				zap.String("rule_id", rule.ID),
				zap.String("trap_id", trap.ID))
			return ruleThrottled
		}
	}

	alert := &models.AlertHistory{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		TrapID:    trap.ID,
		TeamID:    trap.TeamID,
		TrapName:  trap.Name,
		ChannelID: rule.ChannelID,
		Severity:  rule.Severity,
		Message:   message,
		Status:    models.AlertStatusFired,
		CreatedAt: now,
	}
	if err := c.history.Create(ctx, alert); err != nil {
		c.logger.Warn("persist alert failed",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		metrics.AlertsFireErrors.Inc()
		return ruleFailed
	}

	metrics.AlertsFiredTotal.WithLabelValues(string(rule.Severity)).Inc()
	c.logger.Info("alert fired",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("trap_id", trap.ID),
		zap.String("severity", string(rule.Severity)))

	if c.delivery != nil {
		c.delivery.Submit(DeliveryTask{
			ChannelID: rule.ChannelID,
			Notification: &notifier.Notification{
				AlertID:  alert.ID,
				TeamID:   alert.TeamID,
				TrapID:   alert.TrapID,
				TrapName: alert.TrapName,
				Severity: alert.Severity,
				Message:  alert.Message,
				FiredAt:  alert.CreatedAt,
			},
		})
	}
	return ruleFired
}
