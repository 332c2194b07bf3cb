package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
)

type verifierFunc func(ctx context.Context, token string) (*models.TokenClaims, error)

func (f verifierFunc) VerifyAccess(ctx context.Context, token string) (*models.TokenClaims, error) {
	return f(ctx, token)
}

func okHandler(t *testing.T, wantAccount string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if assert.NotNil(t, claims) {
			assert.Equal(t, wantAccount, claims.AccountID)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		verifyErr  error
		wantStatus int
	}{
		{"valid token", "Bearer good", nil, http.StatusNoContent},
		{"lowercase scheme", "bearer good", nil, http.StatusNoContent},
		{"missing header", "", nil, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", nil, http.StatusUnauthorized},
		{"empty token", "Bearer   ", nil, http.StatusUnauthorized},
		{"invalid token", "Bearer bad", models.ErrTokenInvalid, http.StatusUnauthorized},
		{"expired token", "Bearer old", models.ErrTokenExpired, http.StatusUnauthorized},
		{"revoked session", "Bearer revoked", models.ErrSessionRevoked, http.StatusUnauthorized},
		{"storage down fails closed", "Bearer good", models.ErrTransientFailure, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := verifierFunc(func(_ context.Context, token string) (*models.TokenClaims, error) {
				if tt.verifyErr != nil {
					return nil, tt.verifyErr
				}
				return &models.TokenClaims{AccountID: "acc-1", SessionID: "s-1", Type: models.TokenTypeAccess}, nil
			})

			req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			AuthMiddleware(verifier)(okHandler(t, "acc-1")).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRequirePermission(t *testing.T) {
	handler := RequirePermission(models.PermAuditRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("user lacks permission", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), &models.TokenClaims{Role: models.RoleUser}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), &models.TokenClaims{Role: models.RoleAdmin}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
