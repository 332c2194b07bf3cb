package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:41000"
	return req
}

// WithAuthContext adds access claims to the request context.
func WithAuthContext(req *http.Request, accountID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		AccountID: accountID,
		SessionID: sessionID,
		Role:      models.RoleUser,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc             func(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.AccountResponse, error)
	VerifyEmailFunc          func(ctx context.Context, token string, meta services.RequestMeta) error
	LoginFunc                func(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	VerifyMFALoginFunc       func(ctx context.Context, in services.MFALoginInput) (*services.LoginResult, error)
	RefreshFunc              func(ctx context.Context, refreshToken string, meta services.RequestMeta) (*models.TokenPair, error)
	LogoutFunc               func(ctx context.Context, claims *models.TokenClaims, sessionID string, all bool, meta services.RequestMeta) error
	ChangePasswordFunc       func(ctx context.Context, claims *models.TokenClaims, current, next string, meta services.RequestMeta) error
	RequestPasswordResetFunc func(ctx context.Context, email string, meta services.RequestMeta)
	ResetPasswordFunc        func(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
	ProfileFunc              func(ctx context.Context, claims *models.TokenClaims) (*services.AccountResponse, []models.Permission, error)
	ListSessionsFunc         func(ctx context.Context, claims *models.TokenClaims) ([]services.SessionResponse, error)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.AccountResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in, meta)
	}
	return nil, nil
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, token string, meta services.RequestMeta) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, token, meta)
	}
	return nil
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return nil, nil
}

func (m *MockAuthService) VerifyMFALogin(ctx context.Context, in services.MFALoginInput) (*services.LoginResult, error) {
	if m.VerifyMFALoginFunc != nil {
		return m.VerifyMFALoginFunc(ctx, in)
	}
	return nil, nil
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*models.TokenPair, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, meta)
	}
	return nil, nil
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, sessionID string, all bool, meta services.RequestMeta) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, claims, sessionID, all, meta)
	}
	return nil
}

func (m *MockAuthService) ChangePassword(ctx context.Context, claims *models.TokenClaims, current, next string, meta services.RequestMeta) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, claims, current, next, meta)
	}
	return nil
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string, meta services.RequestMeta) {
	if m.RequestPasswordResetFunc != nil {
		m.RequestPasswordResetFunc(ctx, email, meta)
	}
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newPassword string, meta services.RequestMeta) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword, meta)
	}
	return nil
}

func (m *MockAuthService) Profile(ctx context.Context, claims *models.TokenClaims) (*services.AccountResponse, []models.Permission, error) {
	if m.ProfileFunc != nil {
		return m.ProfileFunc(ctx, claims)
	}
	return nil, nil, nil
}

func (m *MockAuthService) ListSessions(ctx context.Context, claims *models.TokenClaims) ([]services.SessionResponse, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, claims)
	}
	return nil, nil
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	EnableMFAFunc      func(ctx context.Context, claims *models.TokenClaims, method models.MFAMethod, meta services.RequestMeta) (*models.MFASetupResponse, error)
	VerifyMFASetupFunc func(ctx context.Context, claims *models.TokenClaims, setupToken, code string, meta services.RequestMeta) error
	DisableMFAFunc     func(ctx context.Context, claims *models.TokenClaims, password string, meta services.RequestMeta) error
	MFAStatusFunc      func(ctx context.Context, claims *models.TokenClaims) (models.MFAStatus, error)
}

func (m *MockMFAService) EnableMFA(ctx context.Context, claims *models.TokenClaims, method models.MFAMethod, meta services.RequestMeta) (*models.MFASetupResponse, error) {
	if m.EnableMFAFunc != nil {
		return m.EnableMFAFunc(ctx, claims, method, meta)
	}
	return nil, nil
}

func (m *MockMFAService) VerifyMFASetup(ctx context.Context, claims *models.TokenClaims, setupToken, code string, meta services.RequestMeta) error {
	if m.VerifyMFASetupFunc != nil {
		return m.VerifyMFASetupFunc(ctx, claims, setupToken, code, meta)
	}
	return nil
}

func (m *MockMFAService) DisableMFA(ctx context.Context, claims *models.TokenClaims, password string, meta services.RequestMeta) error {
	if m.DisableMFAFunc != nil {
		return m.DisableMFAFunc(ctx, claims, password, meta)
	}
	return nil
}

func (m *MockMFAService) MFAStatus(ctx context.Context, claims *models.TokenClaims) (models.MFAStatus, error) {
	if m.MFAStatusFunc != nil {
		return m.MFAStatusFunc(ctx, claims)
	}
	return models.MFAStatus{}, nil
}
