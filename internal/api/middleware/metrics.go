package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
)

// unmatchedRoute labels requests no route pattern claimed. Raw paths carry
// trap and alert ids and would make one series per id.
const unmatchedRoute = "unmatched"

// HTTPMetrics records request counts, latency and in-flight requests
// labelled by chi route pattern.
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// The pattern is complete only after routing has finished.
		route := routeLabel(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// TeamMetrics counts authenticated requests per team and status class.
// It must run after JWTAuth so the caller's team is known.
func TeamMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		team := GetTeamID(r.Context())
		if team == "" {
			return
		}
		metrics.HTTPTeamRequestsTotal.WithLabelValues(team, statusClass(wrapped.status)).Inc()
	})
}

func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
