// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api/health"
	"github.com/good-yellow-bee/logtrap/internal/api/middleware"
	"github.com/good-yellow-bee/logtrap/internal/ingest"
	"github.com/good-yellow-bee/logtrap/internal/traps"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string        `yaml:"address"`
	JWTSecret        []byte        `yaml:"-"`
	TokenTTL         time.Duration `yaml:"token_ttl"`
	RateLimitPerTeam int           `yaml:"rate_limit_per_team"` // requests per minute
	TLSEnabled       bool          `yaml:"tls_enabled"`
	TLSCertFile      string        `yaml:"tls_cert_file"`
	TLSKeyFile       string        `yaml:"tls_key_file"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	Verbose          bool          `yaml:"verbose"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.RateLimitPerTeam == 0 {
		c.RateLimitPerTeam = 600
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Services are the domain services the API exposes.
type Services struct {
	Traps     *traps.Manager
	Rules     *alerts.Rules
	Lifecycle *alerts.Lifecycle
	// Pipeline may be nil, which disables the ingest endpoint.
	Pipeline *ingest.Pipeline
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	services      Services
	server        *http.Server
	healthHandler *health.Handler
	limiter       *middleware.RateLimiter
	logger        *zap.Logger
}

// New creates a new API server.
func New(cfg *Config, services Services, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if services.Traps == nil || services.Rules == nil || services.Lifecycle == nil {
		return nil, fmt.Errorf("trap, rule and lifecycle services are required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		services:      services,
		healthHandler: health.NewHandler(),
		limiter:       middleware.NewRateLimiter(cfg.RateLimitPerTeam),
		logger:        logger.Named("api"),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening",
			zap.String("address", s.config.Address),
			zap.Bool("tls", s.config.TLSEnabled))
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		s.limiter.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.limiter.Stop()
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
