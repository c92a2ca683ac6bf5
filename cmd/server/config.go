// Package main provides the LogTrap server CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api"
	"github.com/good-yellow-bee/logtrap/internal/ingest"
	"github.com/good-yellow-bee/logtrap/internal/logging"
	"github.com/good-yellow-bee/logtrap/internal/notifier"
	"github.com/good-yellow-bee/logtrap/internal/storage"
	"github.com/good-yellow-bee/logtrap/internal/traps"
)

// Log store backends.
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Database      DatabaseConfig        `yaml:"database"`
	Logs          LogsConfig            `yaml:"logs"`
	Redis         RedisConfig           `yaml:"redis"`
	Kafka         ingest.KafkaConfig    `yaml:"kafka"`
	Engine        EngineConfig          `yaml:"engine"`
	Sweep         traps.SweepConfig     `yaml:"sweep"`
	Delivery      alerts.DeliveryConfig `yaml:"delivery"`
	Notifications NotificationsConfig   `yaml:"notifications"`
	Logging       logging.Config        `yaml:"logging"`
	Metrics       MetricsConfig         `yaml:"metrics"`
	Verbose       bool                  `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings and startup seeding.
type ServerConfig struct {
	api.Config `yaml:",inline"`

	// SeedTraps is a YAML trap definition file loaded into SeedTeam on
	// startup. Traps whose name already exists in the team are skipped.
	SeedTraps string `yaml:"seed_traps"`
	SeedTeam  string `yaml:"seed_team"`
}

// DatabaseConfig contains metadata store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogsConfig selects and configures the log record store.
type LogsConfig struct {
	Backend    string                   `yaml:"backend"` // sqlite or clickhouse
	SQLitePath string                   `yaml:"sqlite_path"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
	Buffer     BufferConfig             `yaml:"buffer"`
	// Retention is how long SQLite keeps records. ClickHouse uses its
	// table TTL instead.
	Retention time.Duration `yaml:"retention"`
}

// BufferConfig enables asynchronous batched log writes. Buffered records are
// evaluated immediately but only count toward frequency windows once
// flushed.
type BufferConfig struct {
	Enabled                 bool `yaml:"enabled"`
	storage.LogBufferConfig `yaml:",inline"`
}

// RedisConfig enables the active-trap cache.
type RedisConfig struct {
	Enabled             bool `yaml:"enabled"`
	storage.RedisConfig `yaml:",inline"`
}

// EngineConfig tunes trap evaluation.
type EngineConfig struct {
	traps.Limits     `yaml:",inline"`
	PatternCacheSize int           `yaml:"pattern_cache_size"`
	RegexTimeout     time.Duration `yaml:"regex_timeout"`
}

// NotificationsConfig lists the delivery channels.
type NotificationsConfig struct {
	RateLimit notifier.RateLimitConfig `yaml:"rate_limit"`
	Channels  []notifier.ChannelConfig `yaml:"channels"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Config{
		Notifications: NotificationsConfig{RateLimit: notifier.DefaultRateLimitConfig()},
		Sweep:         traps.SweepConfig{Enabled: true},
		Metrics:       MetricsConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		Notifications: NotificationsConfig{RateLimit: notifier.DefaultRateLimitConfig()},
		Sweep:         traps.SweepConfig{Enabled: true},
		Metrics:       MetricsConfig{Enabled: true},
	}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	c.Server.Config.SetDefaults()
	if c.Server.SeedTeam == "" {
		c.Server.SeedTeam = "default"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/logtrap.db"
	}
	if c.Logs.Backend == "" {
		c.Logs.Backend = BackendSQLite
	}
	c.Logs.Backend = strings.ToLower(c.Logs.Backend)
	if c.Logs.SQLitePath == "" {
		c.Logs.SQLitePath = "./data/logs.db"
	}
	if c.Logs.Retention == 0 {
		c.Logs.Retention = 7 * 24 * time.Hour
	}
	if c.Logs.ClickHouse.Database == "" {
		c.Logs.ClickHouse.Database = "logtrap"
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * time.Second
	}
	if c.Kafka.Enabled {
		c.Kafka.SetDefaults()
	}
	c.Engine.Limits.SetDefaults()
	if c.Engine.PatternCacheSize == 0 {
		c.Engine.PatternCacheSize = 1000
	}
	if c.Engine.RegexTimeout == 0 {
		c.Engine.RegexTimeout = 100 * time.Millisecond
	}
	c.Sweep.SetDefaults()
	c.Delivery.SetDefaults()
	c.Logging.SetDefaults()
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("server.tls_cert_file is required when TLS is enabled")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("server.tls_key_file is required when TLS is enabled")
		}
	}
	if c.Server.TokenTTL < 0 {
		return fmt.Errorf("server.token_ttl must not be negative")
	}

	switch c.Logs.Backend {
	case BackendSQLite:
	case BackendClickHouse:
		if len(c.Logs.ClickHouse.Addresses) == 0 {
			return fmt.Errorf("logs.clickhouse.addresses is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("logs.backend must be sqlite or clickhouse, got %q", c.Logs.Backend)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}
	if c.Engine.RegexTimeout < 0 {
		return fmt.Errorf("engine.regex_timeout must not be negative")
	}

	seen := make(map[string]bool, len(c.Notifications.Channels))
	for i, ch := range c.Notifications.Channels {
		if ch.ID == "" {
			return fmt.Errorf("notifications.channels[%d].id is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("notifications.channels[%d]: duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}
