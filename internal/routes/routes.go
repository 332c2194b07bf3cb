package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// Limits groups the rate limits applied to the auth endpoints.
type Limits struct {
	Public        middleware.RateLimitConfig
	Authenticated middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	auditHandler *handlers.AuditHandler,
	verifier auth.AccessVerifier,
	ipConfig *pkghttp.IPConfig,
	limits Limits,
) {
	router.Route("/auth", func(r chi.Router) {
		// Public routes - no authentication required
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(limits.Public, ipConfig))
			r.Post("/register", authHandler.Register)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/login", authHandler.Login)
			r.Post("/mfa/challenge", authHandler.MFAChallenge)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/password/reset-request", authHandler.RequestPasswordReset)
			r.Post("/password/reset", authHandler.ResetPassword)
		})

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(verifier))
			r.Use(middleware.RateLimitByAccount(limits.Authenticated, ipConfig))

			r.Post("/logout", authHandler.Logout)
			r.Post("/password/change", authHandler.ChangePassword)

			r.With(auth.RequirePermission(models.PermProfileRead)).Get("/me", authHandler.Me)
			r.With(auth.RequirePermission(models.PermSessionsRead)).Get("/sessions", authHandler.Sessions)

			r.Route("/mfa", func(r chi.Router) {
				r.Use(auth.RequirePermission(models.PermProfileWrite))
				r.Post("/enable", mfaHandler.Enable)
				r.Post("/verify", mfaHandler.VerifySetup)
				r.Post("/disable", mfaHandler.Disable)
				r.Get("/status", mfaHandler.Status)
			})

			r.With(auth.RequirePermission(models.PermAuditRead)).
				Get("/admin/accounts/{id}/audit", auditHandler.AccountAuditTrail)
		})
	})
}
