package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	alertsapi "github.com/good-yellow-bee/logtrap/internal/api/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api/auth"
	ingestapi "github.com/good-yellow-bee/logtrap/internal/api/ingest"
	"github.com/good-yellow-bee/logtrap/internal/api/middleware"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
	rulesapi "github.com/good-yellow-bee/logtrap/internal/api/rules"
	trapsapi "github.com/good-yellow-bee/logtrap/internal/api/traps"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.TokenTTL)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.HTTPMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.JSONError(w, response.ErrNotFound)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(s.config.RequestTimeout))
		r.Use(middleware.JWTAuth(jwtService, s.logger))
		r.Use(middleware.TeamMetrics)
		r.Use(middleware.RateLimitByTeam(s.limiter))
		r.Use(middleware.WriteMethodsRequireWrite)

		r.Route("/traps", trapsapi.NewHandler(s.services.Traps, s.logger).Routes)
		r.Route("/rules", rulesapi.NewHandler(s.services.Rules, s.logger).Routes)
		r.Route("/alerts", alertsapi.NewHandler(s.services.Lifecycle, s.logger).Routes)

		if s.services.Pipeline != nil {
			r.Post("/ingest", ingestapi.NewHandler(s.services.Pipeline, s.logger).Submit)
		}
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
