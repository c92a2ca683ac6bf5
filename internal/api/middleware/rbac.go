package middleware

import (
	"net/http"

	"github.com/good-yellow-bee/logtrap/internal/api/auth"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
)

// RequireRole returns middleware that requires specific roles.
func RequireRole(allowedRoles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userRole := GetRole(r.Context())
			if userRole == "" {
				response.JSONError(w, response.ErrForbidden)
				return
			}

			for _, role := range allowedRoles {
				if userRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Admin always has access
			if userRole == auth.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			response.JSONError(w, response.ErrForbidden)
		})
	}
}

// RequireCanWrite allows access to admin and member roles.
func RequireCanWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetRole(r.Context()).CanWrite() {
			response.JSONError(w, response.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteMethodsRequireWrite applies RequireCanWrite to every method except
// GET and HEAD.
func WriteMethodsRequireWrite(next http.Handler) http.Handler {
	guarded := RequireCanWrite(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	})
}
