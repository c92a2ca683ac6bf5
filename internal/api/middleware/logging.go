// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// RequestLogger returns a middleware that logs HTTP requests. Successful
// requests are logged only when verbose is set.
func RequestLogger(logger *zap.Logger, verbose bool) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.New().String()[:8]

			w.Header().Set("X-Request-ID", requestID)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if !verbose && wrapped.status < 400 {
				return
			}
			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Int("size", wrapped.size),
				zap.Duration("duration", time.Since(start)),
			}
			if team := GetTeamID(r.Context()); team != "" {
				fields = append(fields, zap.String("team_id", team))
			}
			if wrapped.status >= 500 {
				logger.Error("request failed", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
