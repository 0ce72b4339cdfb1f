package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/jwhitfield/gatehouse/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing session claims in context
	SessionContextKey contextKey = "session"
)

// RequireSession validates the bearer session token and injects its claims
// into the request context. MFA challenge tokens are rejected here; they are
// only accepted by the MFA verification endpoint.
func RequireSession(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1], models.TokenTypeSession)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext extracts validated session claims from the context
func SessionFromContext(ctx context.Context) (*models.TokenClaims, bool) {
	claims, ok := ctx.Value(SessionContextKey).(*models.TokenClaims)
	return claims, ok
}
