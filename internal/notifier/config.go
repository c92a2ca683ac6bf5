package notifier

import (
	"fmt"
	"strings"
)

// ChannelConfig configures one notification channel.
type ChannelConfig struct {
	ID      string        `yaml:"id"`
	Type    string        `yaml:"type"` // slack or webhook
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// NewNotifier builds the notifier described by the channel config.
func NewNotifier(cfg ChannelConfig) (Notifier, error) {
	switch strings.ToLower(cfg.Type) {
	case "slack":
		return NewSlackNotifier(cfg.Slack)
	case "webhook":
		return NewWebhookNotifier(cfg.Webhook)
	default:
		return nil, fmt.Errorf("channel %q: unknown type %q", cfg.ID, cfg.Type)
	}
}

// RegisterChannels builds and registers every configured channel.
func (d *Dispatcher) RegisterChannels(channels []ChannelConfig) error {
	for _, ch := range channels {
		if ch.ID == "" {
			return fmt.Errorf("channel id is required")
		}
		n, err := NewNotifier(ch)
		if err != nil {
			return fmt.Errorf("channel %q: %w", ch.ID, err)
		}
		d.Register(ch.ID, n)
	}
	return nil
}
