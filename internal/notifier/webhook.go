package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/good-yellow-bee/logtrap/pkg/config"
)

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("URL is invalid")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must use HTTP or HTTPS")
	}
	return nil
}

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &WebhookNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts the notification. Any non-2xx response is an error.
func (w *WebhookNotifier) Send(ctx context.Context, n *Notification) error {
	jsonData, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
