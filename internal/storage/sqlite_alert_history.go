package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

type sqliteAlertHistoryRepo struct {
	db *sql.DB
}

const alertHistoryColumns = `id, rule_id, trap_id, team_id, trap_name, channel_id, severity,
	message, status, created_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at`

func (r *sqliteAlertHistoryRepo) Create(ctx context.Context, h *models.AlertHistory) error {
	query := `
		INSERT INTO alert_history (id, rule_id, trap_id, team_id, trap_name, channel_id,
			severity, message, status, created_at, acknowledged_by, acknowledged_at,
			resolved_by, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		h.ID, h.RuleID, h.TrapID, h.TeamID, h.TrapName, h.ChannelID,
		string(h.Severity), h.Message, string(h.Status), h.CreatedAt.UTC(),
		nullString(h.AcknowledgedBy), nullTime(h.AcknowledgedAt),
		nullString(h.ResolvedBy), nullTime(h.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("create alert history: %w", err)
	}
	return nil
}

func (r *sqliteAlertHistoryRepo) GetByID(ctx context.Context, id string) (*models.AlertHistory, error) {
	query := `SELECT ` + alertHistoryColumns + ` FROM alert_history WHERE id = ?`
	h, err := scanHistory(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return h, err
}

func (r *sqliteAlertHistoryRepo) Update(ctx context.Context, h *models.AlertHistory, from models.AlertStatus) error {
	query := `
		UPDATE alert_history SET status = ?, acknowledged_by = ?, acknowledged_at = ?,
			resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(h.Status), nullString(h.AcknowledgedBy), nullTime(h.AcknowledgedAt),
		nullString(h.ResolvedBy), nullTime(h.ResolvedAt), h.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update alert history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	if err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM alert_history WHERE id = ?)", h.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check alert history: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("alert %w: %s", ErrNotFound, h.ID)
	}
	return fmt.Errorf("alert %s: %w", h.ID, ErrStatusChanged)
}

func (r *sqliteAlertHistoryRepo) List(ctx context.Context, filter *AlertHistoryFilter) ([]*models.AlertHistory, int64, error) {
	if filter == nil {
		filter = &AlertHistoryFilter{}
	}

	var conditions []string
	var args []interface{}
	if filter.TeamID != "" {
		conditions = append(conditions, "team_id = ?")
		args = append(args, filter.TeamID)
	}
	if filter.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.TrapID != "" {
		conditions = append(conditions, "trap_id = ?")
		args = append(args, filter.TrapID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alert history: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + alertHistoryColumns + ` FROM alert_history` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	var histories []*models.AlertHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		histories = append(histories, h)
	}
	return histories, total, rows.Err()
}

func (r *sqliteAlertHistoryRepo) ExistsForRuleSince(ctx context.Context, ruleID string, since time.Time) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM alert_history WHERE rule_id = ? AND created_at >= ?)",
		ruleID, since.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent alert: %w", err)
	}
	return exists != 0, nil
}

func scanHistory(row scanner) (*models.AlertHistory, error) {
	h := &models.AlertHistory{}
	var severity, status string
	var ackBy, resolvedBy sql.NullString
	var ackAt, resolvedAt sql.NullTime

	err := row.Scan(
		&h.ID, &h.RuleID, &h.TrapID, &h.TeamID, &h.TrapName, &h.ChannelID, &severity,
		&h.Message, &status, &h.CreatedAt, &ackBy, &ackAt, &resolvedBy, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert history: %w", err)
	}

	h.Severity = models.Severity(severity)
	h.Status = models.AlertStatus(status)
	h.AcknowledgedBy = ackBy.String
	h.AcknowledgedAt = timePtr(ackAt)
	h.ResolvedBy = resolvedBy.String
	h.ResolvedAt = timePtr(resolvedAt)
	return h, nil
}
