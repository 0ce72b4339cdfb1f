package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/handlers"
	"github.com/jwhitfield/gatehouse/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	tokenManager *auth.TokenManager,
) {
	// Rate limiting config for credential-bearing endpoints
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/mfa/verify", authHandler.VerifyMFA)

	// Protected routes - session token required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(tokenManager))
		r.Use(middleware.RateLimitBySession(60))

		r.Get("/me", authHandler.Me)

		r.Post("/mfa/setup", mfaHandler.Setup)
		r.Post("/mfa/setup/verify", mfaHandler.Confirm)
		r.Post("/mfa/disable", mfaHandler.Disable)
	})
}
