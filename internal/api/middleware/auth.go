package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/api/auth"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
	"github.com/good-yellow-bee/logtrap/internal/metrics"
)

// Context keys for storing caller information.
type contextKey string

const (
	userIDKey contextKey = "user_id"
	teamIDKey contextKey = "team_id"
	roleKey   contextKey = "role"
	claimsKey contextKey = "claims"
)

// JWTAuth returns middleware that validates Bearer tokens and stores the
// caller's user, team and role in the request context.
func JWTAuth(jwtService *auth.JWTService, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				metrics.AuthAttemptsTotal.WithLabelValues("missing").Inc()
				response.JSONError(w, response.ErrInvalidToken)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				metrics.AuthAttemptsTotal.WithLabelValues("malformed").Inc()
				response.JSONError(w, response.ErrInvalidToken)
				return
			}

			claims, err := jwtService.ValidateToken(parts[1])
			if err != nil {
				logger.Debug("jwt auth failed",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				metrics.AuthAttemptsTotal.WithLabelValues("invalid").Inc()
				response.JSONError(w, response.ErrInvalidToken)
				return
			}
			metrics.AuthAttemptsTotal.WithLabelValues("ok").Inc()

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores the caller's claims in ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, claims.UserID)
	ctx = context.WithValue(ctx, teamIDKey, claims.TeamID)
	ctx = context.WithValue(ctx, roleKey, claims.Role)
	return context.WithValue(ctx, claimsKey, claims)
}

// GetUserID returns the user ID from context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(userIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetTeamID returns the caller's team from context.
func GetTeamID(ctx context.Context) string {
	if v := ctx.Value(teamIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetRole returns the user role from context.
func GetRole(ctx context.Context) auth.Role {
	if v := ctx.Value(roleKey); v != nil {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}
