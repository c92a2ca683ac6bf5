package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

func newTestTrap(teamID string) *models.Trap {
	trap := models.NewTrap(teamID, "db-timeouts", models.TrapTypePattern)
	trap.ID = uuid.New().String()
	trap.Description = "Database timeouts in payments"
	trap.Conditions = []*models.Condition{
		{Type: models.ConditionKeyword, Field: models.FieldMessage, Pattern: "timeout", ServiceName: "payments"},
		{Type: models.ConditionRegex, Field: models.FieldExceptionClass, Pattern: `Timeout`, MinLevel: models.LevelError},
	}
	return trap
}

func TestSQLiteStorage_OpenClose(t *testing.T) {
	store := setupTestDB(t)

	if store.db == nil {
		t.Fatal("database should be open")
	}
}

func TestSQLiteStorage_MigrateIdempotent(t *testing.T) {
	store := setupTestDB(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var version int
	if err := store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestTrapRepository_CRUD(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	trap := newTestTrap("team-1")
	if err := store.Traps().Create(ctx, trap); err != nil {
		t.Fatalf("create trap: %v", err)
	}

	got, err := store.Traps().GetByID(ctx, trap.ID)
	if err != nil {
		t.Fatalf("get trap: %v", err)
	}
	if got == nil {
		t.Fatal("trap should exist")
	}
	if got.Name != trap.Name || got.Type != models.TrapTypePattern || !got.Active {
		t.Errorf("unexpected trap: %+v", got)
	}
	if len(got.Conditions) != 2 {
		t.Fatalf("conditions = %d, want 2", len(got.Conditions))
	}
	if got.Conditions[0].Type != models.ConditionKeyword || got.Conditions[0].ServiceName != "payments" {
		t.Errorf("first condition = %+v", got.Conditions[0])
	}
	if got.Conditions[1].MinLevel != models.LevelError {
		t.Errorf("second condition min level = %v, want ERROR", got.Conditions[1].MinLevel)
	}

	// Update replaces conditions entirely
	trap.Name = "db-timeouts-v2"
	trap.Conditions = []*models.Condition{
		{Type: models.ConditionRegex, Field: models.FieldMessage, Pattern: `pool exhausted`},
	}
	trap.UpdatedAt = time.Now()
	if err := store.Traps().Update(ctx, trap); err != nil {
		t.Fatalf("update trap: %v", err)
	}

	got, _ = store.Traps().GetByID(ctx, trap.ID)
	if got.Name != "db-timeouts-v2" {
		t.Errorf("name = %v, want db-timeouts-v2", got.Name)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Pattern != "pool exhausted" {
		t.Errorf("conditions not replaced: %+v", got.Conditions)
	}

	// Delete
	if err := store.Traps().Delete(ctx, trap.ID); err != nil {
		t.Fatalf("delete trap: %v", err)
	}
	got, err = store.Traps().GetByID(ctx, trap.ID)
	if err != nil || got != nil {
		t.Errorf("trap should be deleted, got %v, %v", got, err)
	}

	var orphans int
	store.db.QueryRow("SELECT COUNT(*) FROM trap_conditions WHERE trap_id = ?", trap.ID).Scan(&orphans)
	if orphans != 0 {
		t.Errorf("conditions should cascade, %d left", orphans)
	}

	err = store.Traps().Delete(ctx, trap.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing trap error = %v, want ErrNotFound", err)
	}
}

func TestTrapRepository_Listing(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	a := newTestTrap("team-1")
	b := newTestTrap("team-1")
	b.Type = models.TrapTypeAbsence
	c := newTestTrap("team-2")
	c.Type = models.TrapTypeAbsence
	for _, trap := range []*models.Trap{a, b, c} {
		if err := store.Traps().Create(ctx, trap); err != nil {
			t.Fatalf("create trap: %v", err)
		}
	}

	count, err := store.Traps().CountByTeam(ctx, "team-1")
	if err != nil || count != 2 {
		t.Errorf("CountByTeam = %d, %v, want 2", count, err)
	}

	if err := store.Traps().SetActive(ctx, a.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	active, err := store.Traps().ListActiveByTeam(ctx, "team-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != b.ID {
		t.Errorf("active traps = %v, want only %s", active, b.ID)
	}
	if len(active[0].Conditions) != 2 {
		t.Errorf("listed trap should carry conditions, got %d", len(active[0].Conditions))
	}

	all, _ := store.Traps().ListByTeam(ctx, "team-1")
	if len(all) != 2 {
		t.Errorf("ListByTeam = %d, want 2", len(all))
	}

	absence, err := store.Traps().ListActiveByType(ctx, models.TrapTypeAbsence)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(absence) != 2 {
		t.Errorf("absence traps = %d, want 2", len(absence))
	}
}

func TestTrapRepository_RecordTrigger(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	trap := newTestTrap("team-1")
	store.Traps().Create(ctx, trap)

	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.Traps().RecordTrigger(ctx, trap.ID, at); err != nil {
			t.Fatalf("record trigger: %v", err)
		}
	}

	got, _ := store.Traps().GetByID(ctx, trap.ID)
	if got.TriggerCount != 3 {
		t.Errorf("trigger count = %d, want 3", got.TriggerCount)
	}
	if got.LastTriggered == nil || !got.LastTriggered.Equal(at) {
		t.Errorf("last triggered = %v, want %v", got.LastTriggered, at)
	}

	if err := store.Traps().RecordTrigger(ctx, "missing", at); !errors.Is(err, ErrNotFound) {
		t.Errorf("record trigger on missing trap error = %v, want ErrNotFound", err)
	}
}

func TestAlertRuleRepository_CRUD(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	trap := newTestTrap("team-1")
	store.Traps().Create(ctx, trap)

	rule := models.NewAlertRule("team-1", trap.ID, "ops-slack", models.SeverityHigh)
	rule.ID = uuid.New().String()
	rule.ThrottleMinutes = 15
	if err := store.AlertRules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	got, err := store.AlertRules().GetByID(ctx, rule.ID)
	if err != nil || got == nil {
		t.Fatalf("get rule: %v, %v", got, err)
	}
	if got.ThrottleMinutes != 15 || got.Severity != models.SeverityHigh || !got.Active {
		t.Errorf("unexpected rule: %+v", got)
	}

	rule.Active = false
	rule.UpdatedAt = time.Now()
	if err := store.AlertRules().Update(ctx, rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	active, _ := store.AlertRules().ListActiveByTrap(ctx, trap.ID)
	if len(active) != 0 {
		t.Errorf("active rules = %d, want 0", len(active))
	}
	byTrap, _ := store.AlertRules().ListByTrap(ctx, trap.ID)
	if len(byTrap) != 1 {
		t.Errorf("rules by trap = %d, want 1", len(byTrap))
	}
	byTeam, _ := store.AlertRules().ListByTeam(ctx, "team-1")
	if len(byTeam) != 1 {
		t.Errorf("rules by team = %d, want 1", len(byTeam))
	}

	// Deleting the trap cascades to its rules
	store.Traps().Delete(ctx, trap.ID)
	got, _ = store.AlertRules().GetByID(ctx, rule.ID)
	if got != nil {
		t.Error("rule should be deleted with its trap")
	}
}

func newTestHistory(ruleID string, createdAt time.Time) *models.AlertHistory {
	return &models.AlertHistory{
		ID:        uuid.New().String(),
		RuleID:    ruleID,
		TrapID:    "trap-1",
		TeamID:    "team-1",
		TrapName:  "db-timeouts",
		ChannelID: "ops-slack",
		Severity:  models.SeverityHigh,
		Message:   "Trap matched",
		Status:    models.AlertStatusFired,
		CreatedAt: createdAt,
	}
}

func TestAlertHistoryRepository_ExistsForRuleSince(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	fired := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.AlertHistory().Create(ctx, newTestHistory("rule-1", fired)); err != nil {
		t.Fatalf("create history: %v", err)
	}

	tests := []struct {
		name   string
		ruleID string
		since  time.Time
		want   bool
	}{
		{"inside window", "rule-1", fired.Add(-10 * time.Minute), true},
		{"boundary inclusive", "rule-1", fired, true},
		{"after firing", "rule-1", fired.Add(time.Second), false},
		{"other rule", "rule-2", fired.Add(-time.Hour), false},
		{"non-UTC since", "rule-1", fired.Add(-time.Minute).In(time.FixedZone("CET", 3600)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.AlertHistory().ExistsForRuleSince(ctx, tt.ruleID, tt.since)
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExistsForRuleSince = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAlertHistoryRepository_UpdateAndList(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		h := newTestHistory("rule-1", base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			h.RuleID = "rule-2"
			h.Severity = models.SeverityCritical
		}
		store.AlertHistory().Create(ctx, h)
		ids = append(ids, h.ID)
	}

	h, err := store.AlertHistory().GetByID(ctx, ids[0])
	if err != nil || h == nil {
		t.Fatalf("get history: %v, %v", h, err)
	}
	ackAt := base.Add(time.Hour)
	h.Status = models.AlertStatusAcknowledged
	h.AcknowledgedBy = "alice"
	h.AcknowledgedAt = &ackAt
	if err := store.AlertHistory().Update(ctx, h, models.AlertStatusFired); err != nil {
		t.Fatalf("update history: %v", err)
	}

	// A second writer that read FIRED must not overwrite the acknowledgment.
	stale := *h
	stale.Status = models.AlertStatusResolved
	stale.ResolvedBy = "mallory"
	if err := store.AlertHistory().Update(ctx, &stale, models.AlertStatusFired); !errors.Is(err, ErrStatusChanged) {
		t.Errorf("stale update error = %v, want ErrStatusChanged", err)
	}

	got, _ := store.AlertHistory().GetByID(ctx, ids[0])
	if got.Status != models.AlertStatusAcknowledged || got.AcknowledgedBy != "alice" {
		t.Errorf("unexpected history after update: %+v", got)
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(ackAt) {
		t.Errorf("acknowledged at = %v, want %v", got.AcknowledgedAt, ackAt)
	}
	if got.ResolvedAt != nil {
		t.Errorf("resolved at should be nil, got %v", got.ResolvedAt)
	}

	all, total, err := store.AlertHistory().List(ctx, &AlertHistoryFilter{TeamID: "team-1", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(all) != 2 {
		t.Errorf("list total = %d, len = %d, want 5 and 2", total, len(all))
	}
	if all[0].ID != ids[4] {
		t.Errorf("list should be newest first, got %s", all[0].ID)
	}

	fired, total, _ := store.AlertHistory().List(ctx, &AlertHistoryFilter{Status: models.AlertStatusFired})
	if total != 4 || len(fired) != 4 {
		t.Errorf("fired total = %d, want 4", total)
	}

	critical, total, _ := store.AlertHistory().List(ctx, &AlertHistoryFilter{Severity: models.SeverityCritical, RuleID: "rule-2"})
	if total != 1 || len(critical) != 1 {
		t.Errorf("critical total = %d, want 1", total)
	}

	missing := newTestHistory("rule-1", base)
	if err := store.AlertHistory().Update(ctx, missing, models.AlertStatusFired); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing error = %v, want ErrNotFound", err)
	}
}

func setupTestLogDB(t *testing.T) *SQLiteLogStorage {
	t.Helper()

	store := NewSQLiteLogStorage(filepath.Join(t.TempDir(), "logs.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open log database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate log database: %v", err)
	}
	return store
}

func TestSQLiteLogRepository_QueryCount(t *testing.T) {
	store := setupTestLogDB(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []*models.LogRecord{
		{ID: "r1", TeamID: "team-1", Timestamp: now.Add(-2 * time.Hour), Level: models.LevelError, ServiceName: "api", Message: "old timeout"},
		{ID: "r2", TeamID: "team-1", Timestamp: now.Add(-2 * time.Minute), Level: models.LevelInfo, ServiceName: "api", Message: "ok"},
		{ID: "r3", TeamID: "team-1", Timestamp: now.Add(-time.Minute), Level: models.LevelError, ServiceName: "api", Message: "DB Timeout"},
		{ID: "r4", TeamID: "team-1", Timestamp: now, Level: models.LevelFatal, ServiceName: "worker", Message: "crash", StackTrace: "at main()"},
		{ID: "r5", TeamID: "team-2", Timestamp: now, Level: models.LevelError, ServiceName: "api", Message: "timeout"},
	}
	if err := store.Logs().InsertBatch(ctx, records); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	tests := []struct {
		name   string
		filter *LogFilter
		want   int64
	}{
		{"team window", &LogFilter{TeamID: "team-1", StartTime: now.Add(-5 * time.Minute), EndTime: now}, 3},
		{"window end inclusive", &LogFilter{TeamID: "team-1", StartTime: now, EndTime: now}, 1},
		{"service filter", &LogFilter{TeamID: "team-1", StartTime: now.Add(-5 * time.Minute), EndTime: now, ServiceName: "api"}, 2},
		{"min level", &LogFilter{TeamID: "team-1", StartTime: now.Add(-5 * time.Minute), EndTime: now, MinLevel: models.LevelError}, 2},
		{"message contains", &LogFilter{TeamID: "team-1", MessageContains: "timeout"}, 2},
		{"empty window", &LogFilter{TeamID: "team-3", StartTime: now.Add(-time.Hour), EndTime: now}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Logs().Count(ctx, tt.filter)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if got != tt.want {
				t.Errorf("count = %d, want %d", got, tt.want)
			}
		})
	}

	result, err := store.Logs().Query(ctx, &LogFilter{TeamID: "team-1", Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Entries) != 2 || result.Total != 4 || !result.HasMore {
		t.Errorf("query result = %d entries, total %d, hasMore %v", len(result.Entries), result.Total, result.HasMore)
	}
	if result.Entries[0].ID != "r4" || result.Entries[0].StackTrace != "at main()" {
		t.Errorf("first entry = %+v, want r4 with stack trace", result.Entries[0])
	}
	if result.Entries[0].Level != models.LevelFatal {
		t.Errorf("level = %v, want FATAL", result.Entries[0].Level)
	}

	asc, _ := store.Logs().Query(ctx, &LogFilter{TeamID: "team-1", OrderAsc: true, Limit: 1})
	if asc.Entries[0].ID != "r1" {
		t.Errorf("ascending first entry = %s, want r1", asc.Entries[0].ID)
	}

	deleted, err := store.Logs().DeleteBefore(ctx, now.Add(-time.Hour))
	if err != nil || deleted != 1 {
		t.Errorf("DeleteBefore = %d, %v, want 1", deleted, err)
	}
}
