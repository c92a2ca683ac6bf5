package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

var (
	// ErrAlertNotFound is returned for unknown alerts and alerts of another team.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidTransition is wrapped by every rejected status change.
	ErrInvalidTransition = errors.New("invalid alert transition")

	ErrAlertResolved  = fmt.Errorf("%w: alert is already resolved", ErrInvalidTransition)
	ErrCannotSetFired = fmt.Errorf("%w: status cannot be set to FIRED", ErrInvalidTransition)
	ErrUnknownStatus  = fmt.Errorf("%w: unknown status", ErrInvalidTransition)
)

// maxTransitionAttempts bounds re-reads when a status change races another.
const maxTransitionAttempts = 3

// HistoryFilter narrows alert history listings.
type HistoryFilter struct {
	TeamID   string
	RuleID   string
	TrapID   string
	Status   models.AlertStatus
	Severity models.Severity
	Page     int
	PerPage  int
}

// HistoryPage is one page of alert history.
type HistoryPage struct {
	Alerts  []*models.AlertHistory
	Total   int64
	Page    int
	PerPage int
}

// Lifecycle moves alerts forward through FIRED, ACKNOWLEDGED and RESOLVED.
type Lifecycle struct {
	history storage.AlertHistoryRepository
	now     func() time.Time
	logger  *zap.Logger
}

// NewLifecycle creates a lifecycle service.
func NewLifecycle(history storage.AlertHistoryRepository, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		history: history,
		now:     time.Now,
		logger:  logger.Named("lifecycle"),
	}
}

// SetClock replaces the time source.
func (l *Lifecycle) SetClock(now func() time.Time) {
	l.now = now
}

// Get returns an alert of the team.
func (l *Lifecycle) Get(ctx context.Context, teamID, alertID string) (*models.AlertHistory, error) {
	alert, err := l.history.GetByID(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if alert == nil || alert.TeamID != teamID {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

// Acknowledge marks the alert as acknowledged by user. Acknowledging again
// replaces the acknowledger.
func (l *Lifecycle) Acknowledge(ctx context.Context, teamID, alertID, user string) (*models.AlertHistory, error) {
	return l.transition(ctx, teamID, alertID, func(alert *models.AlertHistory, now time.Time) {
		alert.Status = models.AlertStatusAcknowledged
		alert.AcknowledgedBy = user
		alert.AcknowledgedAt = &now
	})
}

// Resolve marks the alert as resolved by user. An alert that was never
// acknowledged is acknowledged by the resolver at the same time.
func (l *Lifecycle) Resolve(ctx context.Context, teamID, alertID, user string) (*models.AlertHistory, error) {
	return l.transition(ctx, teamID, alertID, func(alert *models.AlertHistory, now time.Time) {
		if !alert.IsAcknowledged() {
			alert.AcknowledgedBy = user
			alert.AcknowledgedAt = &now
		}
		alert.Status = models.AlertStatusResolved
		alert.ResolvedBy = user
		alert.ResolvedAt = &now
	})
}

// transition applies change to a non-resolved alert and stores it only if
// the status read is still current. A concurrent change is re-read, so an
// alert resolved in between is reported as ErrAlertResolved.
func (l *Lifecycle) transition(ctx context.Context, teamID, alertID string, change func(*models.AlertHistory, time.Time)) (*models.AlertHistory, error) {
	for attempt := 1; ; attempt++ {
		alert, err := l.Get(ctx, teamID, alertID)
		if err != nil {
			return nil, err
		}
		if alert.Status == models.AlertStatusResolved {
			return nil, ErrAlertResolved
		}

		from := alert.Status
		change(alert, l.now())
		err = l.history.Update(ctx, alert, from)
		switch {
		case err == nil:
			metrics.AlertTransitionsTotal.WithLabelValues(string(alert.Status)).Inc()
			l.logger.Info("alert status changed",
				zap.String("alert_id", alert.ID),
				zap.String("from", string(from)),
				zap.String("status", string(alert.Status)))
			return alert, nil
		case errors.Is(err, storage.ErrStatusChanged) && attempt < maxTransitionAttempts:
			l.logger.Debug("alert changed concurrently, retrying",
				zap.String("alert_id", alert.ID),
				zap.Int("attempt", attempt))
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrAlertNotFound
		default:
			return nil, fmt.Errorf("update alert: %w", err)
		}
	}
}

// SetStatus applies a status by name. FIRED and unknown names are rejected.
func (l *Lifecycle) SetStatus(ctx context.Context, teamID, alertID, status, user string) (*models.AlertHistory, error) {
	parsed, err := models.ParseAlertStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownStatus, status)
	}

	switch parsed {
	case models.AlertStatusAcknowledged:
		return l.Acknowledge(ctx, teamID, alertID, user)
	case models.AlertStatusResolved:
		return l.Resolve(ctx, teamID, alertID, user)
	default:
		return nil, ErrCannotSetFired
	}
}

// History returns one page of the team's alerts, newest first.
func (l *Lifecycle) History(ctx context.Context, filter HistoryFilter) (*HistoryPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 50
	}
	if filter.PerPage > 500 {
		filter.PerPage = 500
	}

	alerts, total, err := l.history.List(ctx, &storage.AlertHistoryFilter{
		TeamID:   filter.TeamID,
		RuleID:   filter.RuleID,
		TrapID:   filter.TrapID,
		Status:   filter.Status,
		Severity: filter.Severity,
		Limit:    filter.PerPage,
		Offset:   (filter.Page - 1) * filter.PerPage,
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if alerts == nil {
		alerts = []*models.AlertHistory{}
	}
	return &HistoryPage{Alerts: alerts, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}
