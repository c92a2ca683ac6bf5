package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

type sqliteTrapRepo struct {
	db *sql.DB
}

const trapColumns = `id, team_id, name, description, type, active, trigger_count,
	last_triggered_at, created_at, updated_at`

func (r *sqliteTrapRepo) Create(ctx context.Context, trap *models.Trap) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO traps (id, team_id, name, description, type, active, trigger_count,
			last_triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		trap.ID, trap.TeamID, trap.Name, nullString(trap.Description), string(trap.Type),
		boolToInt(trap.Active), trap.TriggerCount, nullTime(trap.LastTriggered),
		trap.CreatedAt.UTC(), trap.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert trap: %w", err)
	}

	if err := insertConditions(ctx, tx, trap); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteTrapRepo) GetByID(ctx context.Context, id string) (*models.Trap, error) {
	query := `SELECT ` + trapColumns + ` FROM traps WHERE id = ?`
	trap, err := scanTrap(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conditions, err := r.loadConditions(ctx, []string{trap.ID})
	if err != nil {
		return nil, err
	}
	trap.Conditions = conditions[trap.ID]
	return trap, nil
}

func (r *sqliteTrapRepo) Update(ctx context.Context, trap *models.Trap) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE traps SET name = ?, description = ?, type = ?, active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query,
		trap.Name, nullString(trap.Description), string(trap.Type),
		boolToInt(trap.Active), trap.UpdatedAt.UTC(), trap.ID,
	)
	if err != nil {
		return fmt.Errorf("update trap: %w", err)
	}
	if err := expectOneRow(result, "trap", trap.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM trap_conditions WHERE trap_id = ?", trap.ID); err != nil {
		return fmt.Errorf("delete conditions: %w", err)
	}
	if err := insertConditions(ctx, tx, trap); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteTrapRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM traps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete trap: %w", err)
	}
	return expectOneRow(result, "trap", id)
}

func (r *sqliteTrapRepo) ListByTeam(ctx context.Context, teamID string) ([]*models.Trap, error) {
	query := `SELECT ` + trapColumns + ` FROM traps WHERE team_id = ? ORDER BY created_at ASC`
	return r.queryTraps(ctx, query, teamID)
}

func (r *sqliteTrapRepo) CountByTeam(ctx context.Context, teamID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traps WHERE team_id = ?", teamID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count traps: %w", err)
	}
	return count, nil
}

func (r *sqliteTrapRepo) ListActiveByTeam(ctx context.Context, teamID string) ([]*models.Trap, error) {
	query := `SELECT ` + trapColumns + ` FROM traps WHERE team_id = ? AND active = 1 ORDER BY created_at ASC`
	return r.queryTraps(ctx, query, teamID)
}

func (r *sqliteTrapRepo) ListActiveByType(ctx context.Context, trapType models.TrapType) ([]*models.Trap, error) {
	query := `SELECT ` + trapColumns + ` FROM traps WHERE type = ? AND active = 1 ORDER BY team_id, created_at ASC`
	return r.queryTraps(ctx, query, string(trapType))
}

func (r *sqliteTrapRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE traps SET active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set trap active: %w", err)
	}
	return expectOneRow(result, "trap", id)
}

func (r *sqliteTrapRepo) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE traps SET trigger_count = trigger_count + 1, last_triggered_at = ? WHERE id = ?",
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record trap trigger: %w", err)
	}
	return expectOneRow(result, "trap", id)
}

func (r *sqliteTrapRepo) queryTraps(ctx context.Context, query string, args ...interface{}) ([]*models.Trap, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traps: %w", err)
	}
	defer rows.Close()

	var traps []*models.Trap
	var ids []string
	for rows.Next() {
		trap, err := scanTrap(rows)
		if err != nil {
			return nil, err
		}
		traps = append(traps, trap)
		ids = append(ids, trap.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traps: %w", err)
	}
	rows.Close()

	if len(traps) == 0 {
		return traps, nil
	}

	conditions, err := r.loadConditions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, trap := range traps {
		trap.Conditions = conditions[trap.ID]
	}
	return traps, nil
}

// loadConditions returns the ordered conditions of the given traps keyed by trap ID.
func (r *sqliteTrapRepo) loadConditions(ctx context.Context, trapIDs []string) (map[string][]*models.Condition, error) {
	placeholders, args := inClause(trapIDs)
	query := `
		SELECT id, trap_id, position, type, field, pattern, service_name,
			min_level, threshold, window_seconds
		FROM trap_conditions WHERE trap_id IN (` + placeholders + `)
		ORDER BY trap_id, position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]*models.Condition, len(trapIDs))
	for rows.Next() {
		c := &models.Condition{}
		var field, pattern, serviceName sql.NullString
		var condType string
		var minLevel int

		if err := rows.Scan(&c.ID, &c.TrapID, &c.Position, &condType, &field, &pattern,
			&serviceName, &minLevel, &c.Threshold, &c.WindowSeconds); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		c.Type = models.ConditionType(condType)
		c.Field = models.Field(field.String)
		c.Pattern = pattern.String
		c.ServiceName = serviceName.String
		c.MinLevel = models.Level(minLevel)
		out[c.TrapID] = append(out[c.TrapID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conditions: %w", err)
	}
	return out, nil
}

func insertConditions(ctx context.Context, tx *sql.Tx, trap *models.Trap) error {
	query := `
		INSERT INTO trap_conditions (id, trap_id, position, type, field, pattern,
			service_name, min_level, threshold, window_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, c := range trap.Conditions {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.TrapID = trap.ID
		c.Position = i
		_, err := tx.ExecContext(ctx, query,
			c.ID, c.TrapID, c.Position, string(c.Type), nullString(string(c.Field)),
			nullString(c.Pattern), nullString(c.ServiceName), int(c.MinLevel),
			c.Threshold, c.WindowSeconds,
		)
		if err != nil {
			return fmt.Errorf("insert condition %d: %w", i, err)
		}
	}
	return nil
}

func scanTrap(row scanner) (*models.Trap, error) {
	trap := &models.Trap{}
	var description sql.NullString
	var trapType string
	var active int
	var lastTriggered sql.NullTime

	err := row.Scan(
		&trap.ID, &trap.TeamID, &trap.Name, &description, &trapType, &active,
		&trap.TriggerCount, &lastTriggered, &trap.CreatedAt, &trap.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan trap: %w", err)
	}

	trap.Description = description.String
	trap.Type = models.TrapType(trapType)
	trap.Active = active != 0
	if lastTriggered.Valid {
		t := lastTriggered.Time
		trap.LastTriggered = &t
	}
	return trap, nil
}
