package alerts

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/notifier"
)

// Deliverer sends a notification to a channel.
type Deliverer interface {
	Deliver(ctx context.Context, channelID string, n *notifier.Notification) error
}

// DeliveryTask is one notification waiting to be sent.
type DeliveryTask struct {
	ChannelID    string
	Notification *notifier.Notification
}

// DeliveryConfig configures the delivery pool.
type DeliveryConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Backoff        Backoff       `yaml:"backoff"`
}

// SetDefaults fills unset delivery settings.
func (c *DeliveryConfig) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	c.Backoff.setDefaults()
}

// DeliveryPool sends notifications on background workers, off the path
// that persists alerts. Failed deliveries are retried with backoff and then
// dropped; they never touch the stored alert.
type DeliveryPool struct {
	deliverer Deliverer
	cfg       DeliveryConfig
	tasks     chan DeliveryTask
	logger    *zap.Logger

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.RWMutex
	closed  bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDeliveryPool creates a delivery pool. Call Start to run the workers.
func NewDeliveryPool(deliverer Deliverer, cfg DeliveryConfig, logger *zap.Logger) *DeliveryPool {
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryPool{
		deliverer: deliverer,
		cfg:       cfg,
		tasks:     make(chan DeliveryTask, cfg.QueueSize),
		logger:    logger.Named("delivery"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *DeliveryPool) Start() {
	p.logger.Info("starting delivery pool",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a task without blocking. It returns false when the queue is
// full or the pool is stopped; the task is then dropped.
func (p *DeliveryPool) Submit(task DeliveryTask) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.drop(task, "pool stopped")
		return false
	}

	select {
	case p.tasks <- task:
		metrics.DeliveryQueueDepth.Set(float64(len(p.tasks)))
		return true
	default:
		p.drop(task, "queue full")
		return false
	}
}

func (p *DeliveryPool) drop(task DeliveryTask, reason string) {
	p.dropped.Add(1)
	metrics.DeliveryTotal.WithLabelValues("dropped").Inc()
	p.logger.Warn("notification dropped",
		zap.String("reason", reason),
		zap.String("channel_id", task.ChannelID),
		zap.String("alert_id", task.Notification.AlertID))
}

// Stop drains queued tasks and waits for the workers. Retries still waiting
// on backoff are abandoned once ctx is done.
func (p *DeliveryPool) Stop(ctx context.Context) {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	p.logger.Info("delivery pool stopped")
}

func (p *DeliveryPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.DeliveryQueueDepth.Set(float64(len(p.tasks)))
		p.run(id, task)
	}
}

// run delivers one task. A panic is recovered so the worker keeps going.
func (p *DeliveryPool) run(id int, task DeliveryTask) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			metrics.DeliveryTotal.WithLabelValues("panic").Inc()
			p.logger.Error("delivery panic recovered",
				zap.Int("worker_id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	err := p.deliver(task)
	switch {
	case err == nil:
		p.delivered.Add(1)
		metrics.DeliveryTotal.WithLabelValues("delivered").Inc()
	case errors.Is(err, notifier.ErrUnknownChannel):
		p.failed.Add(1)
		metrics.DeliveryTotal.WithLabelValues("unknown_channel").Inc()
		p.logger.Warn("notification for unknown channel",
			zap.String("channel_id", task.ChannelID),
			zap.String("alert_id", task.Notification.AlertID))
	default:
		p.failed.Add(1)
		metrics.DeliveryTotal.WithLabelValues("failed").Inc()
		p.logger.Error("notification delivery failed",
			zap.String("channel_id", task.ChannelID),
			zap.String("alert_id", task.Notification.AlertID),
			zap.Error(err))
	}
}

func (p *DeliveryPool) deliver(task DeliveryTask) error {
	var err error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.cfg.Backoff.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-p.ctx.Done():
				timer.Stop()
				return errors.Join(err, p.ctx.Err())
			}
		}

		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.AttemptTimeout)
		err = p.deliverer.Deliver(ctx, task.ChannelID, task.Notification)
		cancel()

		if err == nil {
			return nil
		}
		// Retrying cannot help these.
		if errors.Is(err, notifier.ErrUnknownChannel) || errors.Is(err, notifier.ErrRateLimited) {
			return err
		}
		p.logger.Debug("delivery attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("channel_id", task.ChannelID),
			zap.Error(err))
	}
	return err
}

// DeliveryStats holds delivery pool counters.
type DeliveryStats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
	Queued    int
}

// Stats returns delivery pool statistics.
func (p *DeliveryPool) Stats() DeliveryStats {
	return DeliveryStats{
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.tasks),
	}
}
