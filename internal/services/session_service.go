package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

// SessionRepository is implemented by the Postgres and Redis session stores.
// Rotate must be a compare-and-swap on the stored refresh hash.
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Rotate(ctx context.Context, id, presentedHash, nextHash string, now time.Time) error
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeAll(ctx context.Context, accountID, exceptID, reason string, now time.Time) (int64, error)
	ListActive(ctx context.Context, accountID string, now time.Time) ([]*models.Session, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

const (
	RevokeReasonLogout          = "logout"
	RevokeReasonLogoutAll       = "logout_all"
	RevokeReasonPasswordChange  = "password_change"
	RevokeReasonPasswordReset   = "password_reset"
	RevokeReasonMFADisabled     = "mfa_disabled"
	RevokeReasonAccountInactive = "account_inactive"
)

// SessionService issues, rotates and revokes token pairs bound to session
// records. Session state is authoritative over token expiry.
type SessionService struct {
	repo          SessionRepository
	tokens        *auth.TokenManager
	accessTTL     time.Duration
	defaultTTL    time.Duration
	rememberMeTTL time.Duration
	timeout       time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewSessionService(repo SessionRepository, tokens *auth.TokenManager, authCfg config.AuthConfig, cfg config.SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:          repo,
		tokens:        tokens,
		accessTTL:     authCfg.AccessTokenExpiry,
		defaultTTL:    cfg.DefaultTTL,
		rememberMeTTL: cfg.RememberMeTTL,
		timeout:       authCfg.OperationTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *SessionService) SetClock(now func() time.Time) { s.now = now }

// Create starts a session for account and issues its first token pair.
func (s *SessionService) Create(ctx context.Context, account *models.Account, sc models.SessionContext) (*models.Session, *models.TokenPair, error) {
	now := s.now()
	ttl := s.defaultTTL
	if sc.RememberMe {
		ttl = s.rememberMeTTL
	}

	session := &models.Session{
		ID:                uuid.NewString(),
		AccountID:         account.ID,
		Status:            models.SessionStatusActive,
		DeviceFingerprint: sc.DeviceFingerprint,
		IPAddress:         sc.IPAddress,
		UserAgent:         sc.UserAgent,
		RememberMe:        sc.RememberMe,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(ttl),
	}

	pair, err := s.issuePair(account.ID, session.ID, account.Role, session.ExpiresAt, now)
	if err != nil {
		return nil, nil, err
	}
	session.RefreshTokenHash = hashToken(pair.RefreshToken)

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, nil, transient("create session", err)
	}
	return session, pair, nil
}

func (s *SessionService) issuePair(accountID, sessionID string, role models.Role, sessionExpiry, now time.Time) (*models.TokenPair, error) {
	accessExpiry := now.Add(s.accessTTL)
	if accessExpiry.After(sessionExpiry) {
		accessExpiry = sessionExpiry
	}

	access, err := s.tokens.GenerateAccessToken(accountID, sessionID, role, accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(accountID, sessionID, sessionExpiry)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		TokenType:             "Bearer",
		AccessTokenExpiresAt:  accessExpiry,
		RefreshTokenExpiresAt: sessionExpiry,
		SessionID:             sessionID,
	}, nil
}

// ParseRefresh validates a refresh token's signature, expiry and type.
func (s *SessionService) ParseRefresh(refreshToken string) (*models.TokenClaims, error) {
	claims, err := s.tokens.ValidateToken(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

// Rotate exchanges refreshToken for a new pair. The previous refresh token
// stops working the moment the swap commits; of two concurrent rotations of
// the same token exactly one succeeds.
func (s *SessionService) Rotate(ctx context.Context, claims *models.TokenClaims, refreshToken string, role models.Role) (*models.TokenPair, error) {
	now := s.now()

	session, err := s.repo.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.TokenRefreshTotal.WithLabelValues("revoked").Inc()
			return nil, models.ErrSessionRevoked
		}
		return nil, transient("load session", err)
	}
	if session.AccountID != claims.AccountID {
		metrics.TokenRefreshTotal.WithLabelValues("invalid").Inc()
		return nil, models.ErrTokenInvalid
	}
	if !session.IsUsable(now) {
		metrics.TokenRefreshTotal.WithLabelValues("revoked").Inc()
		return nil, models.ErrSessionRevoked
	}

	pair, err := s.issuePair(session.AccountID, session.ID, role, session.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	err = s.repo.Rotate(ctx, session.ID, hashToken(refreshToken), hashToken(pair.RefreshToken), now)
	switch {
	case err == nil:
		metrics.TokenRefreshTotal.WithLabelValues("rotated").Inc()
		return pair, nil
	case errors.Is(err, models.ErrTokenInvalid):
		metrics.TokenRefreshTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("stale refresh token presented",
			slog.String("session_id", session.ID),
			slog.String("account_id", session.AccountID))
		return nil, models.ErrTokenInvalid
	case errors.Is(err, models.ErrSessionRevoked):
		metrics.TokenRefreshTotal.WithLabelValues("revoked").Inc()
		return nil, models.ErrSessionRevoked
	default:
		return nil, transient("rotate session", err)
	}
}

// VerifyAccess validates an access token and confirms its session is still
// active. It satisfies auth.AccessVerifier.
func (s *SessionService) VerifyAccess(ctx context.Context, accessToken string) (*models.TokenClaims, error) {
	claims, err := s.tokens.ValidateToken(accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, models.ErrTokenInvalid
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	session, err := s.repo.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionRevoked
		}
		return nil, transient("load session", err)
	}
	if session.AccountID != claims.AccountID {
		return nil, models.ErrTokenInvalid
	}
	if !session.IsUsable(s.now()) {
		return nil, models.ErrSessionRevoked
	}
	return claims, nil
}

// Revoke ends one session owned by accountID.
func (s *SessionService) Revoke(ctx context.Context, accountID, sessionID, reason string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return transient("load session", err)
	}
	if session.AccountID != accountID {
		return models.ErrNotFound
	}

	if err := s.repo.Revoke(ctx, sessionID, reason, s.now()); err != nil {
		return transient("revoke session", err)
	}
	metrics.SessionsRevokedTotal.WithLabelValues(reason).Inc()
	return nil
}

// RevokeAll ends every active session of accountID except exceptID, which
// may be empty.
func (s *SessionService) RevokeAll(ctx context.Context, accountID, exceptID, reason string) (int64, error) {
	n, err := s.repo.RevokeAll(ctx, accountID, exceptID, reason, s.now())
	if err != nil {
		return 0, transient("revoke sessions", err)
	}
	metrics.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(n))
	return n, nil
}

func (s *SessionService) List(ctx context.Context, accountID string) ([]*models.Session, error) {
	sessions, err := s.repo.ListActive(ctx, accountID, s.now())
	if err != nil {
		return nil, transient("list sessions", err)
	}
	return sessions, nil
}

func (s *SessionService) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, s.now())
}
