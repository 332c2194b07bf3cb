//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// SentEmail represents a captured email message
type SentEmail struct {
	Kind  string
	To    string
	Token string
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (m *MockEmailService) record(e SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{Kind: "verification", To: email, Token: token})
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{Kind: "reset", To: email, Token: token})
	return nil
}

func (m *MockEmailService) SendSecurityNotice(ctx context.Context, email, subject, body string) error {
	m.record(SentEmail{Kind: "notice", To: email, Token: subject})
	return nil
}

// Last returns the most recent email of kind sent to addr.
func (m *MockEmailService) Last(kind, addr string) *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind && m.sent[i].To == addr {
			e := m.sent[i]
			return &e
		}
	}
	return nil
}

// TestServer is the full HTTP stack over a real database.
type TestServer struct {
	Server *httptest.Server
	Email  *MockEmailService
	Config *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:         "integration-secret-with-enough-entropy-0123456789",
			AccessTokenExpiry: 15 * time.Minute,
			BcryptCost:        4,
			OperationTimeout:  5 * time.Second,
		},
		Lockout: config.LockoutConfig{MaxAttempts: 5, Duration: 15 * time.Minute},
		MFA: config.MFAConfig{
			Issuer:           "WardenTest",
			EncryptionKey:    []byte("0123456789abcdef0123456789abcdef"),
			BackupCodeCount:  10,
			SetupTokenExpiry: 10 * time.Minute,
			ChallengeExpiry:  5 * time.Minute,
			TOTPSkew:         1,
		},
		Session: config.SessionConfig{
			DefaultTTL:    24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
			Store:         config.SessionStorePostgres,
		},
		Anomaly: config.AnomalyConfig{
			Window:             7 * 24 * time.Hour,
			VolumeThreshold:    100,
			BusinessHoursStart: 8,
			BusinessHoursEnd:   18,
		},
		Email: config.EmailConfig{
			ResetTokenExpiry:  time.Hour,
			VerifyTokenExpiry: 24 * time.Hour,
		},
		Server: config.ServerConfig{Env: "test"},
	}
}

// NewTestServer wires every component the way cmd/api does, with side
// effects run inline and email captured.
func NewTestServer(db *database.DB) (*TestServer, error) {
	cfg := testConfig()
	logger := quietLogger()
	mockEmail := &MockEmailService{}

	accountRepo := repositories.NewAccountRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret)
	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer, cfg.MFA.TOTPSkew)
	if err != nil {
		return nil, err
	}

	notifier := services.NewNotificationService(accountRepo, mockEmail, nil, logger)
	sessionService := services.NewSessionService(repositories.NewSessionRepository(db), tokenManager, cfg.Auth, cfg.Session, logger)

	authService := services.NewAuthService(services.AuthDependencies{
		Accounts:     accountRepo,
		Attempts:     attemptRepo,
		Hasher:       pkgauth.NewHasher(cfg.Auth.BcryptCost),
		Tokens:       tokenManager,
		Lockout:      services.NewLockoutService(accountRepo, notifier, cfg.Lockout, logger),
		Devices:      services.NewDeviceTrustService(accountRepo),
		MFA:          services.NewMFAService(accountRepo, totpManager, tokenManager, cfg.MFA),
		Sessions:     sessionService,
		Anomaly:      services.NewAnomalyService(attemptRepo, cfg.Anomaly),
		Audit:        services.NewAuditService(repositories.NewAuditLogRepository(db), nil, logger),
		Notifier:     notifier,
		Verification: services.NewEmailVerificationService(repositories.NewEmailVerificationRepository(db), accountRepo, mockEmail, cfg.Email.VerifyTokenExpiry, logger),
		Resets:       services.NewPasswordResetService(repositories.NewPasswordResetRepository(db), mockEmail, cfg.Email.ResetTokenExpiry),
		Logger:       logger,
	}, cfg.Auth, cfg.MFA)

	ipConfig := pkghttp.NewIPConfig(nil)
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{
		Env:             cfg.Server.Env,
		NoStorePrefixes: []string{"/auth"},
	}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r,
		handlers.NewAuthHandler(authService, ipConfig, logger),
		handlers.NewMFAHandler(authService, ipConfig, logger),
		handlers.NewAuditHandler(repositories.NewAuditLogRepository(db), logger),
		sessionService, ipConfig,
		routes.Limits{
			Public:        middlewareCustom.RateLimitConfig{Requests: 1000, Window: time.Minute},
			Authenticated: middlewareCustom.RateLimitConfig{Requests: 1000, Window: time.Minute},
		})

	return &TestServer{
		Server: httptest.NewServer(r),
		Email:  mockEmail,
		Config: cfg,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body any, accessToken string) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(pkghttp.DeviceIDHeader, "integration-device")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return http.DefaultClient.Do(req)
}

// ParseJSONResponse decodes and closes the response body.
func ParseJSONResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
