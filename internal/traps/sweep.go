package traps

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

// AlertFirer fires the alert rules bound to a trap.
type AlertFirer interface {
	FireAlerts(ctx context.Context, trapID, message string) alerts.FireResult
}

// SweepConfig configures the absence sweep.
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

// SetDefaults fills unset sweep settings.
func (c *SweepConfig) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// SweepResult summarises one sweep pass.
type SweepResult struct {
	Evaluated int
	Fired     int
	Failed    int
}

// Sweeper periodically evaluates ABSENCE traps against windowed counts.
type Sweeper struct {
	repo      storage.TrapRepository
	evaluator *alerting.Evaluator
	firer     AlertFirer
	interval  time.Duration
	workers   int
	now       func() time.Time
	logger    *zap.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. Call Start to run it on its interval.
func NewSweeper(repo storage.TrapRepository, evaluator *alerting.Evaluator, firer AlertFirer, cfg SweepConfig, logger *zap.Logger) *Sweeper {
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		repo:      repo,
		evaluator: evaluator,
		firer:     firer,
		interval:  cfg.Interval,
		workers:   cfg.Workers,
		now:       time.Now,
		logger:    logger.Named("sweeper"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop ends the sweep loop and waits for the running pass.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res := s.RunOnce(ctx)
			if res.Fired > 0 || res.Failed > 0 {
				s.logger.Info("absence sweep finished",
					zap.Int("evaluated", res.Evaluated),
					zap.Int("fired", res.Fired),
					zap.Int("failed", res.Failed))
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce evaluates every active ABSENCE trap once. A failing trap is
// logged and counted and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	metrics.SweepRunsTotal.Inc()

	list, err := s.repo.ListActiveByType(ctx, models.TrapTypeAbsence)
	if err != nil {
		s.logger.Warn("load absence traps failed", zap.Error(err))
		metrics.SweepFailuresTotal.Inc()
		return SweepResult{Failed: 1}
	}

	var evaluated, fired, failed atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, trap := range list {
		g.Go(func() error {
			ok, err := s.sweepTrap(gCtx, trap)
			evaluated.Add(1)
			if err != nil {
				failed.Add(1)
				metrics.SweepFailuresTotal.Inc()
				s.logger.Warn("absence sweep of trap failed",
					zap.String("trap_id", trap.ID),
					zap.Error(err))
				return nil
			}
			if ok {
				fired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{
		Evaluated: int(evaluated.Load()),
		Fired:     int(fired.Load()),
		Failed:    int(failed.Load()),
	}
}

func (s *Sweeper) sweepTrap(ctx context.Context, trap *models.Trap) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	conds := trap.ConditionsOfType(models.ConditionAbsence)
	if len(conds) == 0 {
		return false, nil
	}
	for _, cond := range conds {
		if !s.evaluator.MatchAbsence(ctx, cond, trap.TeamID) {
			return false, nil
		}
	}

	metrics.EvaluationMatchesTotal.WithLabelValues(string(trap.Type)).Inc()
	if err := s.repo.RecordTrigger(ctx, trap.ID, s.now()); err != nil {
		s.logger.Warn("record trap trigger failed",
			zap.String("trap_id", trap.ID),
			zap.Error(err))
	}
	if s.firer != nil {
		s.firer.FireAlerts(ctx, trap.ID, AbsenceMessage(trap, conds))
	}
	return true, nil
}

// AbsenceMessage is the alert message for an ABSENCE trap that fired.
func AbsenceMessage(trap *models.Trap, conds []*models.Condition) string {
	window := conds[0].Window()
	service := conds[0].ServiceName
	if service == "" {
		return fmt.Sprintf("Trap %q: no matching logs received in the last %s", trap.Name, window)
	}
	return fmt.Sprintf("Trap %q: no logs from %s received in the last %s", trap.Name, service, window)
}
