// Package notifier delivers fired alerts to notification channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

// Notification is the message delivered for one fired alert.
type Notification struct {
	AlertID  string          `json:"alertId"`
	TeamID   string          `json:"teamId"`
	TrapID   string          `json:"trapId"`
	TrapName string          `json:"trapName"`
	Severity models.Severity `json:"severity"`
	Message  string          `json:"message"`
	FiredAt  time.Time       `json:"firedAt"`
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier kind (e.g., "slack", "webhook").
	Name() string
	// Send sends a notification.
	Send(ctx context.Context, n *Notification) error
	// Close releases any resources.
	Close() error
}

var (
	// ErrRateLimited is returned when a notification is dropped due to rate limiting.
	ErrRateLimited = errors.New("notification rate limited")

	// ErrUnknownChannel is returned when no notifier is registered for a channel id.
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// Dispatcher routes notifications to notifiers by channel id.
type Dispatcher struct {
	mu          sync.RWMutex
	channels    map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a new notification dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		channels:    make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register binds a notifier to a channel id, replacing any previous one.
func (d *Dispatcher) Register(channelID string, n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channelID] = n
}

// Unregister removes a channel.
func (d *Dispatcher) Unregister(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, channelID)
}

// Get returns the notifier of a channel.
func (d *Dispatcher) Get(channelID string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.channels[channelID]
	return n, ok
}

// Channels returns the registered channel ids in sorted order.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deliver sends a notification to one channel.
// Returns ErrUnknownChannel or ErrRateLimited without contacting the channel.
func (d *Dispatcher) Deliver(ctx context.Context, channelID string, n *Notification) error {
	notifier, ok := d.Get(channelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}

	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		return ErrRateLimited
	}

	if err := notifier.Send(ctx, n); err != nil {
		return fmt.Errorf("%s %s: %w", notifier.Name(), channelID, err)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for id, n := range d.channels {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	d.channels = make(map[string]Notifier)

	return errors.Join(errs...)
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := max - 3
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
