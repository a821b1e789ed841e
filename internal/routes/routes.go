package routes

import (
	"log/slog"

	"github.com/Nancyzolla/Groupe8-SI3/internal/auth"
	"github.com/Nancyzolla/Groupe8-SI3/internal/handlers"
	"github.com/Nancyzolla/Groupe8-SI3/internal/middleware"
	pkghttp "github.com/Nancyzolla/Groupe8-SI3/pkg/http"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes. Every route passes
// through the detection gate; auth routes additionally get body inspection
// and skip the volume checks, which the per-account lockout covers there.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	engine middleware.ThreatEvaluator,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) {
	authGate := middleware.ThreatGate(engine, ipConfig, logger, middleware.ThreatGateConfig{
		SkipFrequencyChecks: true,
		InspectBody:         true,
	})
	apiGate := middleware.ThreatGate(engine, ipConfig, logger, middleware.ThreatGateConfig{})

	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.With(authGate, middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(authGate, middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/refresh", authHandler.Refresh)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(apiGate)
		r.Use(auth.AuthMiddleware(tokenManager))

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Post("/admin/unban", adminHandler.Unban)
			r.Get("/admin/bans", adminHandler.ListBans)
			r.Get("/admin/alerts", adminHandler.ListAlerts)
		})
	})
}
