package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"` // Slack incoming webhook URL
	Channel    string `yaml:"channel"`     // optional channel override
	Username   string `yaml:"username"`
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("webhook URL is invalid")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("webhook URL must use HTTP or HTTPS")
	}
	return nil
}

// SlackNotifier sends alerts to a Slack incoming webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send posts the notification to the webhook.
func (s *SlackNotifier) Send(ctx context.Context, n *Notification) error {
	msg := s.buildMessage(n)
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.config.WebhookURL, s.httpClient, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

func (s *SlackNotifier) buildMessage(n *Notification) *slack.WebhookMessage {
	emoji := severityEmoji(n.Severity)

	attachment := slack.Attachment{
		Color:    severityColor(n.Severity),
		Title:    fmt.Sprintf("%s LogTrap Alert: %s", emoji, n.TrapName),
		Text:     truncate(n.Message, 2000),
		Fallback: fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(n.Severity)), n.TrapName, truncate(n.Message, 200)),
		Fields: []slack.AttachmentField{
			{Title: "Severity", Value: strings.ToUpper(string(n.Severity)), Short: true},
			{Title: "Time", Value: n.FiredAt.UTC().Format("2006-01-02 15:04:05 MST"), Short: true},
		},
		Footer: "alert " + n.AlertID,
		Ts:     json.Number(strconv.FormatInt(n.FiredAt.Unix(), 10)),
	}

	return &slack.WebhookMessage{
		Channel:     s.config.Channel,
		Username:    s.config.Username,
		Attachments: []slack.Attachment{attachment},
	}
}

func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d00000"
	case models.SeverityHigh:
		return "#ff8c00"
	case models.SeverityMedium:
		return "#ffd700"
	default:
		return "#36a64f"
	}
}
