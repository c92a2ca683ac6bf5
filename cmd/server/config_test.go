package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/logtrap/internal/notifier"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logtrap.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Address != ":8080" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
	if cfg.Logs.Backend != BackendSQLite {
		t.Errorf("logs.backend = %q", cfg.Logs.Backend)
	}
	if cfg.Engine.MaxTrapsPerTeam != 50 || cfg.Engine.MaxConditionsPerTrap != 10 {
		t.Errorf("engine limits = %+v", cfg.Engine.Limits)
	}
	if !cfg.Sweep.Enabled || cfg.Sweep.Interval != time.Minute {
		t.Errorf("sweep = %+v", cfg.Sweep)
	}
	if !cfg.Notifications.RateLimit.Enabled {
		t.Error("notification rate limit disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
  token_ttl: 2h
  seed_traps: traps.yaml
  seed_team: platform
logs:
  backend: ClickHouse
  clickhouse:
    addresses: ["ch-1:9000"]
  buffer:
    enabled: true
    batch_size: 500
    flush_interval: 2s
redis:
  enabled: true
  addr: localhost:6379
  ttl: 1m
engine:
  max_traps_per_team: 20
  regex_timeout: 50ms
sweep:
  enabled: false
notifications:
  channels:
    - id: ops
      type: slack
      slack:
        webhook_url: https://hooks.slack.com/services/T/B/X
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Address != ":9000" || cfg.Server.TokenTTL != 2*time.Hour {
		t.Errorf("server = %+v", cfg.Server.Config)
	}
	if cfg.Server.SeedTraps != "traps.yaml" || cfg.Server.SeedTeam != "platform" {
		t.Errorf("seed = %q into %q", cfg.Server.SeedTraps, cfg.Server.SeedTeam)
	}
	if cfg.Logs.Backend != BackendClickHouse {
		t.Errorf("backend = %q", cfg.Logs.Backend)
	}
	if !cfg.Logs.Buffer.Enabled || cfg.Logs.Buffer.BatchSize != 500 || cfg.Logs.Buffer.FlushInterval != 2*time.Second {
		t.Errorf("buffer = %+v", cfg.Logs.Buffer)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" || cfg.Redis.TTL != time.Minute {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Engine.MaxTrapsPerTeam != 20 || cfg.Engine.MaxConditionsPerTrap != 10 {
		t.Errorf("limits = %+v", cfg.Engine.Limits)
	}
	if cfg.Engine.RegexTimeout != 50*time.Millisecond {
		t.Errorf("regex timeout = %v", cfg.Engine.RegexTimeout)
	}
	if cfg.Sweep.Enabled {
		t.Error("sweep should be disabled")
	}
	if len(cfg.Notifications.Channels) != 1 || cfg.Notifications.Channels[0].Slack.WebhookURL == "" {
		t.Errorf("channels = %+v", cfg.Notifications.Channels)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Logs.Backend = "mongo" }, "logs.backend"},
		{"clickhouse without addresses", func(c *Config) { c.Logs.Backend = BackendClickHouse }, "logs.clickhouse.addresses"},
		{"tls without cert", func(c *Config) { c.Server.TLSEnabled = true }, "tls_cert_file"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.SetDefaults() }, "kafka"},
		{"duplicate channel", func(c *Config) {
			c.Notifications.Channels = append(c.Notifications.Channels,
				notifierChannel("ops"), notifierChannel("ops"))
		}, "duplicate id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "server: [")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadConfig(writeConfig(t, "logs:\n  backend: csv\n")); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadEnv(t *testing.T) {
	if err := loadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(JWTSecretEnv+"=from-dotenv-file-secret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(JWTSecretEnv, "")
	os.Unsetenv(JWTSecretEnv)
	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv() error = %v", err)
	}
	if got := os.Getenv(JWTSecretEnv); got != "from-dotenv-file-secret" {
		t.Errorf("%s = %q", JWTSecretEnv, got)
	}
}

func notifierChannel(id string) notifier.ChannelConfig {
	return notifier.ChannelConfig{ID: id, Type: "webhook", Webhook: notifier.WebhookConfig{URL: "https://example.com/hook"}}
}
