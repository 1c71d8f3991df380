package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/calebthorne/bastion/internal/auth"
	"github.com/calebthorne/bastion/internal/handlers"
	"github.com/calebthorne/bastion/internal/middleware"
	"github.com/calebthorne/bastion/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.SecurityAdminHandler,
	guard *auth.Middleware,
	tokens *auth.ServiceTokenManager,
) {
	// Rate limiting config for the login endpoint. This is the coarse edge
	// limit; the lockout pipeline inside the handler is the real control.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no session required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)

	// Protected routes - valid session required
	router.Group(func(r chi.Router) {
		r.Use(guard.RequireSession)
		r.Use(guard.CSRFProtect)

		r.Get("/auth/csrf", authHandler.CsrfToken)
		r.Post("/auth/logout", authHandler.Logout)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(guard.RequireRole(models.RoleAdmin))

			r.Post("/admin/security/lists", adminHandler.AddListEntry)
			r.Post("/admin/security/lists/deactivate", adminHandler.DeactivateListEntry)
			r.Get("/admin/security/lists", adminHandler.ListEntries)
			r.Get("/admin/security/lockouts", adminHandler.LockoutStatus)
			r.Post("/admin/security/lockouts/clear", adminHandler.ClearLockout)
			r.Get("/admin/security/stats", adminHandler.Stats)
			r.Post("/admin/security/attempts/prune", adminHandler.PruneAttempts)
			r.Get("/admin/security/events", adminHandler.RecentEvents)
			r.Post("/admin/security/tokens", adminHandler.MintServiceToken)
			r.Post("/admin/security/settings", adminHandler.UpdateSetting)
		})
	})

	// Service-to-service routes - bearer token instead of session cookies,
	// so they sit outside the CSRF perimeter entirely.
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireServiceToken(tokens))

		r.Get("/api/security/lockouts", adminHandler.LockoutStatus)
		r.Get("/api/security/stats", adminHandler.Stats)
	})
}
