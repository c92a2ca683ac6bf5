package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []DeliveryTask
}

func (s *recordingSubmitter) Submit(task DeliveryTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return true
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func createTrap(t *testing.T, store storage.Storage, teamID string) *models.Trap {
	t.Helper()
	trap := models.NewTrap(teamID, "db-timeouts", models.TrapTypePattern)
	trap.ID = uuid.New().String()
	require.NoError(t, store.Traps().Create(context.Background(), trap))
	return trap
}

func createRule(t *testing.T, store storage.Storage, trap *models.Trap, channel string, throttle int) *models.AlertRule {
	t.Helper()
	rule := models.NewAlertRule(trap.TeamID, trap.ID, channel, models.SeverityHigh)
	rule.ID = uuid.New().String()
	rule.ThrottleMinutes = throttle
	require.NoError(t, store.AlertRules().Create(context.Background(), rule))
	return rule
}

func newTestCoordinator(store storage.Storage, sub Submitter, now *time.Time) *Coordinator {
	c := NewCoordinator(store.Traps(), store.AlertRules(), store.AlertHistory(), sub, nil)
	c.SetClock(func() time.Time { return *now })
	return c
}

func historyCount(t *testing.T, store storage.Storage, ruleID string) int64 {
	t.Helper()
	_, total, err := store.AlertHistory().List(context.Background(), &storage.AlertHistoryFilter{RuleID: ruleID})
	require.NoError(t, err)
	return total
}

func TestFireAlerts_Throttle(t *testing.T) {
	store := setupStore(t)
	trap := createTrap(t, store, "team-1")
	rule := createRule(t, store, trap, "ops", 15)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := t0
	sub := &recordingSubmitter{}
	c := newTestCoordinator(store, sub, &now)
	ctx := context.Background()

	res := c.FireAlerts(ctx, trap.ID, "first")
	assert.Equal(t, FireResult{Rules: 1, Fired: 1}, res)
	assert.EqualValues(t, 1, historyCount(t, store, rule.ID))

	now = t0.Add(5 * time.Minute)
	res = c.FireAlerts(ctx, trap.ID, "second")
	assert.Equal(t, FireResult{Rules: 1, Throttled: 1}, res)
	assert.EqualValues(t, 1, historyCount(t, store, rule.ID))

	now = t0.Add(16 * time.Minute)
	res = c.FireAlerts(ctx, trap.ID, "third")
	assert.Equal(t, FireResult{Rules: 1, Fired: 1}, res)
	assert.EqualValues(t, 2, historyCount(t, store, rule.ID))

	require.Len(t, sub.tasks, 2)
	assert.Equal(t, "ops", sub.tasks[0].ChannelID)
	assert.Equal(t, "first", sub.tasks[0].Notification.Message)
	assert.Equal(t, "third", sub.tasks[1].Notification.Message)
}

func TestFireAlerts_RulesThrottleIndependently(t *testing.T) {
	store := setupStore(t)
	trap := createTrap(t, store, "team-1")
	short := createRule(t, store, trap, "ops", 1)
	long := createRule(t, store, trap, "pager", 60)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := t0
	c := newTestCoordinator(store, nil, &now)
	ctx := context.Background()

	assert.Equal(t, 2, c.FireAlerts(ctx, trap.ID, "boom").Fired)

	now = t0.Add(2 * time.Minute)
	res := c.FireAlerts(ctx, trap.ID, "boom again")
	assert.Equal(t, FireResult{Rules: 2, Fired: 1, Throttled: 1}, res)
	assert.EqualValues(t, 2, historyCount(t, store, short.ID))
	assert.EqualValues(t, 1, historyCount(t, store, long.ID))
}

func TestFireAlerts_SnapshotAndInactiveRules(t *testing.T) {
	store := setupStore(t)
	trap := createTrap(t, store, "team-1")
	rule := createRule(t, store, trap, "ops", 0)
	inactive := createRule(t, store, trap, "muted", 0)
	inactive.Active = false
	require.NoError(t, store.AlertRules().Update(context.Background(), inactive))

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestCoordinator(store, nil, &now)
	res := c.FireAlerts(context.Background(), trap.ID, "Matched ERROR log")
	assert.Equal(t, FireResult{Rules: 1, Fired: 1}, res)

	alerts, _, err := store.AlertHistory().List(context.Background(), &storage.AlertHistoryFilter{TeamID: "team-1"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, rule.ID, a.RuleID)
	assert.Equal(t, trap.Name, a.TrapName)
	assert.Equal(t, "ops", a.ChannelID)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, models.AlertStatusFired, a.Status)
	assert.Equal(t, "Matched ERROR log", a.Message)
	assert.True(t, a.CreatedAt.Equal(now))
}

func TestFireAlerts_UnknownTrap(t *testing.T) {
	store := setupStore(t)
	now := time.Now()
	c := newTestCoordinator(store, nil, &now)

	res := c.FireAlerts(context.Background(), "missing", "x")
	assert.Equal(t, FireResult{}, res)
}

// flakyHistory fails the throttle check for one rule.
type flakyHistory struct {
	storage.AlertHistoryRepository
	failRule string
}

func (h *flakyHistory) ExistsForRuleSince(ctx context.Context, ruleID string, since time.Time) (bool, error) {
	if ruleID == h.failRule {
		return false, errors.New("database is locked")
	}
	return h.AlertHistoryRepository.ExistsForRuleSince(ctx, ruleID, since)
}

func TestFireAlerts_RuleFailureIsolated(t *testing.T) {
	store := setupStore(t)
	trap := createTrap(t, store, "team-1")
	bad := createRule(t, store, trap, "ops", 10)
	good := createRule(t, store, trap, "pager", 10)

	history := &flakyHistory{AlertHistoryRepository: store.AlertHistory(), failRule: bad.ID}
	c := NewCoordinator(store.Traps(), store.AlertRules(), history, nil, nil)

	res := c.FireAlerts(context.Background(), trap.ID, "boom")
	assert.Equal(t, FireResult{Rules: 2, Fired: 1, Failed: 1}, res)
	assert.EqualValues(t, 0, historyCount(t, store, bad.ID))
	assert.EqualValues(t, 1, historyCount(t, store, good.ID))
}
