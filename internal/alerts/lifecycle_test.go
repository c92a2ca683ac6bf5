package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

func fireOne(t *testing.T, store storage.Storage, teamID string) *models.AlertHistory {
	t.Helper()
	trap := createTrap(t, store, teamID)
	createRule(t, store, trap, "ops", 0)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestCoordinator(store, nil, &now)
	require.Equal(t, 1, c.FireAlerts(context.Background(), trap.ID, "boom").Fired)

	alerts, _, err := store.AlertHistory().List(context.Background(), &storage.AlertHistoryFilter{TrapID: trap.ID})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	return alerts[0]
}

func newTestLifecycle(store storage.Storage, now time.Time) *Lifecycle {
	l := NewLifecycle(store.AlertHistory(), nil)
	l.SetClock(func() time.Time { return now })
	return l
}

func TestLifecycle_AcknowledgeThenResolve(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	ctx := context.Background()

	ackAt := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	acked, err := newTestLifecycle(store, ackAt).Acknowledge(ctx, "team-1", alert.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "alice", acked.AcknowledgedBy)

	resolveAt := ackAt.Add(10 * time.Minute)
	resolved, err := newTestLifecycle(store, resolveAt).Resolve(ctx, "team-1", alert.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.Equal(t, "alice", resolved.AcknowledgedBy, "original acknowledger is preserved")
	assert.Equal(t, "bob", resolved.ResolvedBy)

	stored, err := store.AlertHistory().GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, stored.Status)
	require.NotNil(t, stored.AcknowledgedAt)
	assert.True(t, stored.AcknowledgedAt.Equal(ackAt))
	require.NotNil(t, stored.ResolvedAt)
	assert.True(t, stored.ResolvedAt.Equal(resolveAt))
}

func TestLifecycle_ResolveUnacknowledged(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	resolved, err := newTestLifecycle(store, at).Resolve(context.Background(), "team-1", alert.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", resolved.AcknowledgedBy)
	assert.Equal(t, "carol", resolved.ResolvedBy)
	require.NotNil(t, resolved.AcknowledgedAt)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.AcknowledgedAt.Equal(at))
	assert.True(t, resolved.ResolvedAt.Equal(at))
}

func TestLifecycle_ReacknowledgeReplaces(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)

	_, err := newTestLifecycle(store, t1).Acknowledge(ctx, "team-1", alert.ID, "alice")
	require.NoError(t, err)
	again, err := newTestLifecycle(store, t1.Add(time.Minute)).Acknowledge(ctx, "team-1", alert.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", again.AcknowledgedBy)
	assert.True(t, again.AcknowledgedAt.Equal(t1.Add(time.Minute)))
}

func TestLifecycle_ResolvedIsTerminal(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	ctx := context.Background()
	l := newTestLifecycle(store, time.Now())

	_, err := l.Resolve(ctx, "team-1", alert.ID, "alice")
	require.NoError(t, err)

	_, err = l.Acknowledge(ctx, "team-1", alert.ID, "bob")
	assert.ErrorIs(t, err, ErrAlertResolved)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = l.Resolve(ctx, "team-1", alert.ID, "bob")
	assert.ErrorIs(t, err, ErrAlertResolved)

	_, err = l.SetStatus(ctx, "team-1", alert.ID, "acknowledged", "bob")
	assert.ErrorIs(t, err, ErrAlertResolved)
}

// racingHistory runs interleave once, right after the first read, so the
// caller continues with a stale copy of the alert.
type racingHistory struct {
	storage.AlertHistoryRepository
	interleave func()
	reads      int
}

func (h *racingHistory) GetByID(ctx context.Context, id string) (*models.AlertHistory, error) {
	alert, err := h.AlertHistoryRepository.GetByID(ctx, id)
	h.reads++
	if h.reads == 1 && h.interleave != nil {
		h.interleave()
	}
	return alert, err
}

func TestLifecycle_AcknowledgeLosesToConcurrentResolve(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	history := &racingHistory{
		AlertHistoryRepository: store.AlertHistory(),
		interleave: func() {
			_, err := newTestLifecycle(store, at).Resolve(ctx, "team-1", alert.ID, "bob")
			require.NoError(t, err)
		},
	}
	l := NewLifecycle(history, nil)
	l.SetClock(func() time.Time { return at.Add(time.Second) })

	_, err := l.Acknowledge(ctx, "team-1", alert.ID, "alice")
	assert.ErrorIs(t, err, ErrAlertResolved)
	assert.Equal(t, 2, history.reads, "stale write is retried from a fresh read")

	stored, err := store.AlertHistory().GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, stored.Status)
	assert.Equal(t, "bob", stored.ResolvedBy)
	assert.Equal(t, "bob", stored.AcknowledgedBy)
	require.NotNil(t, stored.ResolvedAt)
	assert.True(t, stored.ResolvedAt.Equal(at))
}

func TestLifecycle_ConcurrentAcknowledgeRetries(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	history := &racingHistory{
		AlertHistoryRepository: store.AlertHistory(),
		interleave: func() {
			_, err := newTestLifecycle(store, at).Acknowledge(ctx, "team-1", alert.ID, "bob")
			require.NoError(t, err)
		},
	}
	l := NewLifecycle(history, nil)
	l.SetClock(func() time.Time { return at.Add(time.Minute) })

	resolved, err := l.Resolve(ctx, "team-1", alert.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.Equal(t, "bob", resolved.AcknowledgedBy, "acknowledger from the concurrent update is kept")
	assert.Equal(t, "alice", resolved.ResolvedBy)
}

func TestLifecycle_SetStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	l := newTestLifecycle(store, time.Now())

	tests := []struct {
		name       string
		status     string
		wantStatus models.AlertStatus
		wantErr    error
	}{
		{name: "acknowledge", status: "ACKNOWLEDGED", wantStatus: models.AlertStatusAcknowledged},
		{name: "resolve lower case", status: "resolved", wantStatus: models.AlertStatusResolved},
		{name: "fired rejected", status: "FIRED", wantErr: ErrCannotSetFired},
		{name: "unknown rejected", status: "SNOOZED", wantErr: ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := fireOne(t, store, "team-1")
			got, err := l.SetStatus(ctx, "team-1", alert.ID, tt.status, "alice")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.False(t, errors.Is(err, ErrAlertNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestLifecycle_NotFound(t *testing.T) {
	store := setupStore(t)
	alert := fireOne(t, store, "team-1")
	ctx := context.Background()
	l := newTestLifecycle(store, time.Now())

	_, err := l.Acknowledge(ctx, "team-1", "missing", "alice")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	_, err = l.Resolve(ctx, "team-2", alert.ID, "alice")
	assert.ErrorIs(t, err, ErrAlertNotFound, "alerts of other teams are invisible")
	assert.False(t, errors.Is(err, ErrInvalidTransition))
}

func TestLifecycle_History(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		fireOne(t, store, "team-1")
	}
	fireOne(t, store, "team-2")

	l := newTestLifecycle(store, time.Now())
	page, err := l.History(ctx, HistoryFilter{TeamID: "team-1", PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Alerts, 2)
	assert.Equal(t, 1, page.Page)

	page, err = l.History(ctx, HistoryFilter{TeamID: "team-1", PerPage: 2, Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Alerts, 1)

	page, err = l.History(ctx, HistoryFilter{TeamID: "team-1", Status: models.AlertStatusResolved})
	require.NoError(t, err)
	assert.EqualValues(t, 0, page.Total)
	assert.NotNil(t, page.Alerts)
}
