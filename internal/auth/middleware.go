package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// AccessVerifier validates an access token and confirms its session is live.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*models.TokenClaims, error)
}

// AuthMiddleware authenticates bearer access tokens. Session state is checked
// on every request; storage faults deny access.
func AuthMiddleware(verifier AccessVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := verifier.VerifyAccess(r.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, models.ErrTransientFailure):
				pkghttp.WriteServiceUnavailable(w, "unable to verify session")
				return
			case errors.Is(err, models.ErrTokenExpired):
				pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "access token has expired")
				return
			case errors.Is(err, models.ErrSessionRevoked):
				pkghttp.WriteError(w, http.StatusUnauthorized, "session_revoked", "session is no longer active")
				return
			default:
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePermission rejects callers whose role lacks p. Must run after
// AuthMiddleware.
func RequirePermission(p models.Permission) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if !models.HasPermission(claims.Role, p) {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the authenticated claims, or nil.
func ClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims
}
