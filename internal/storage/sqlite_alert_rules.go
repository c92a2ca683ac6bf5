package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

type sqliteAlertRuleRepo struct {
	db *sql.DB
}

const alertRuleColumns = `id, team_id, trap_id, channel_id, severity, throttle_minutes,
	active, created_at, updated_at`

func (r *sqliteAlertRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	query := `
		INSERT INTO alert_rules (id, team_id, trap_id, channel_id, severity,
			throttle_minutes, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.TeamID, rule.TrapID, rule.ChannelID, string(rule.Severity),
		rule.ThrottleMinutes, boolToInt(rule.Active),
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE id = ?`
	rule, err := scanAlertRule(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func (r *sqliteAlertRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	query := `
		UPDATE alert_rules SET channel_id = ?, severity = ?, throttle_minutes = ?,
			active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.ChannelID, string(rule.Severity), rule.ThrottleMinutes,
		boolToInt(rule.Active), rule.UpdatedAt.UTC(), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	return expectOneRow(result, "alert rule", rule.ID)
}

func (r *sqliteAlertRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	return expectOneRow(result, "alert rule", id)
}

func (r *sqliteAlertRuleRepo) ListByTeam(ctx context.Context, teamID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE team_id = ? ORDER BY created_at ASC`
	return r.queryRules(ctx, query, teamID)
}

func (r *sqliteAlertRuleRepo) ListByTrap(ctx context.Context, trapID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE trap_id = ? ORDER BY created_at ASC`
	return r.queryRules(ctx, query, trapID)
}

func (r *sqliteAlertRuleRepo) ListActiveByTrap(ctx context.Context, trapID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE trap_id = ? AND active = 1 ORDER BY created_at ASC`
	return r.queryRules(ctx, query, trapID)
}

func (r *sqliteAlertRuleRepo) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanAlertRule(row scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var severity string
	var active int

	err := row.Scan(
		&rule.ID, &rule.TeamID, &rule.TrapID, &rule.ChannelID, &severity,
		&rule.ThrottleMinutes, &active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}

	rule.Severity = models.Severity(severity)
	rule.Active = active != 0
	return rule, nil
}
