package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/events"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// AccountRepository is the account storage the orchestrator reads and writes.
type AccountRepository interface {
	Create(ctx context.Context, na models.NewAccount) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByLogin(ctx context.Context, login string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
}

type LoginAttemptRecorder interface {
	Record(ctx context.Context, a *models.LoginAttempt) error
}

// RequestMeta is the caller context of an auth request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	DeviceID  string
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Name     string
}

type LoginInput struct {
	Login      string
	Password   string
	MFACode    string
	RememberMe bool
	Meta       RequestMeta
}

type MFALoginInput struct {
	MFAToken string
	Code     string
	Meta     RequestMeta
}

// AccountResponse represents an account in HTTP responses
type AccountResponse struct {
	ID         string               `json:"id"`
	Username   string               `json:"username"`
	Email      string               `json:"email"`
	Name       string               `json:"name"`
	Role       models.Role          `json:"role"`
	Status     models.AccountStatus `json:"status"`
	MFAEnabled bool                 `json:"mfa_enabled"`
	CreatedAt  time.Time            `json:"created_at"`
}

func toAccountResponse(a *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:         a.ID,
		Username:   a.Username,
		Email:      a.Email,
		Name:       a.Name,
		Role:       a.Role,
		Status:     a.Status,
		MFAEnabled: a.MFAEnabled,
		CreatedAt:  a.CreatedAt,
	}
}

// LoginResult is either a token pair or an MFA challenge.
type LoginResult struct {
	Tokens      *models.TokenPair
	MFA         *models.MFARequiredResponse
	Account     *AccountResponse
	Permissions []models.Permission
	NewDevice   bool
}

// SessionResponse represents a session in HTTP responses
type SessionResponse struct {
	ID             string    `json:"id"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RememberMe     bool      `json:"remember_me"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

// AuthDependencies are the collaborators of AuthService. Audit, Notifier,
// Anomaly, Dispatcher and Timing may be nil.
type AuthDependencies struct {
	Accounts     AccountRepository
	Attempts     LoginAttemptRecorder
	Hasher       *pkgauth.Hasher
	Tokens       *auth.TokenManager
	Lockout      *LockoutService
	Devices      *DeviceTrustService
	MFA          *MFAService
	Sessions     *SessionService
	Anomaly      *AnomalyService
	Audit        *AuditService
	Notifier     Notifier
	Verification *EmailVerificationService
	Resets       *PasswordResetService
	Dispatcher   *events.Dispatcher
	Timing       *auth.TimingDelay
	Logger       *slog.Logger
}

// AuthService composes the auth components into the user-facing flows. It
// is the only service handlers call.
type AuthService struct {
	accounts     AccountRepository
	attempts     LoginAttemptRecorder
	hasher       *pkgauth.Hasher
	tokens       *auth.TokenManager
	lockout      *LockoutService
	devices      *DeviceTrustService
	mfa          *MFAService
	sessions     *SessionService
	anomaly      *AnomalyService
	audit        *AuditService
	notifier     Notifier
	verification *EmailVerificationService
	resets       *PasswordResetService
	dispatcher   *events.Dispatcher
	timing       *auth.TimingDelay
	logger       *slog.Logger

	challengeTTL time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDependencies, authCfg config.AuthConfig, mfaCfg config.MFAConfig) *AuthService {
	return &AuthService{
		accounts:     deps.Accounts,
		attempts:     deps.Attempts,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		lockout:      deps.Lockout,
		devices:      deps.Devices,
		mfa:          deps.MFA,
		sessions:     deps.Sessions,
		anomaly:      deps.Anomaly,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		verification: deps.Verification,
		resets:       deps.Resets,
		dispatcher:   deps.Dispatcher,
		timing:       deps.Timing,
		logger:       deps.Logger,
		challengeTTL: mfaCfg.ChallengeExpiry,
		timeout:      authCfg.OperationTimeout,
		now:          time.Now,
	}
}

// SetClock overrides the time source here and in every component. Tests only.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.tokens.SetClock(now)
	s.lockout.SetClock(now)
	s.sessions.SetClock(now)
	s.mfa.SetClock(now)
	if s.verification != nil {
		s.verification.SetClock(now)
	}
	if s.resets != nil {
		s.resets.SetClock(now)
	}
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// fail logs an unexpected error and reports it as transient.
func (s *AuthService) fail(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "auth operation failed", slog.String("op", op), slog.Any("error", err))
	return transient(op, err)
}

// async runs job on the dispatcher, or inline when there is none.
func (s *AuthService) async(ctx context.Context, name string, job events.Job) {
	if s.dispatcher == nil {
		if err := job(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "side effect failed", slog.String("job", name), slog.Any("error", err))
		}
		return
	}
	s.dispatcher.Submit(name, job)
}

func (s *AuthService) notify(ctx context.Context, typ NotificationType, accountID string, payload map[string]any) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, typ, accountID, payload)
	}
}

func (s *AuthService) record(ctx context.Context, action models.AuditAction, accountID string, success bool, meta RequestMeta, md models.AuditMetadata) {
	s.audit.Record(ctx, AuditEntry{
		Action:    action,
		AccountID: accountID,
		Success:   success,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  md,
	})
}

// recordAttempt appends to the attempt log and returns the stored attempt,
// or nil when no log is configured.
func (s *AuthService) recordAttempt(ctx context.Context, login string, account *models.Account, meta RequestMeta, success bool, reason string) *models.LoginAttempt {
	if s.attempts == nil {
		return nil
	}
	a := &models.LoginAttempt{
		ID:          uuid.NewString(),
		Login:       login,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		Success:     success,
		AttemptedAt: s.now(),
	}
	if meta.UserAgent != "" || meta.DeviceID != "" {
		a.DeviceFingerprint = auth.Fingerprint(meta.UserAgent, meta.IPAddress, meta.DeviceID)
	}
	if account != nil {
		a.AccountID = &account.ID
	}
	if reason != "" {
		a.FailureReason = &reason
	}
	if err := s.attempts.Record(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "failed to record login attempt", slog.Any("error", err))
	}
	return a
}

// Register creates a pending account and sends its verification email.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*AccountResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if strength := pkgauth.AssessStrength(in.Password); !strength.Valid {
		return nil, &models.WeakPasswordError{Violations: strength.Violations}
	}

	exists, err := s.accounts.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, s.fail(ctx, "check existing account", err)
	}
	if exists {
		return nil, models.ErrDuplicateAccount
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.fail(ctx, "hash password", err)
	}

	account, err := s.accounts.Create(ctx, models.NewAccount{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Role:         models.RoleUser,
		Status:       models.AccountStatusPendingVerification,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateAccount
		}
		return nil, s.fail(ctx, "create account", err)
	}

	if s.verification != nil {
		s.async(ctx, "email:verification", func(jobCtx context.Context) error {
			return s.verification.Issue(jobCtx, account)
		})
	}

	s.logger.InfoContext(ctx, "account registered", slog.String("account_id", account.ID))
	s.record(ctx, models.AuditActionRegister, account.ID, true, meta, nil)
	return toAccountResponse(account), nil
}

// VerifyEmail activates the account a verification token was issued for.
func (s *AuthService) VerifyEmail(ctx context.Context, token string, meta RequestMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accountID, err := s.verification.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrVerificationInvalid) {
			return err
		}
		return s.fail(ctx, "verify email", err)
	}

	s.record(ctx, models.AuditActionEmailVerified, accountID, true, meta, nil)
	return nil
}

// Login authenticates by username or email. For MFA accounts without a code
// it returns a challenge instead of tokens. Unknown logins and wrong
// passwords fail identically.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	login := strings.ToLower(strings.TrimSpace(in.Login))
	if login == "" || in.Password == "" {
		s.timing.WaitFrom(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	account, err := s.accounts.GetByLogin(ctx, login)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, s.fail(ctx, "resolve account", err)
		}
		_, _ = s.hasher.Verify(in.Password, s.hasher.DummyHash())
		s.recordAttempt(ctx, login, nil, in.Meta, false, "unknown_login")
		s.record(ctx, models.AuditActionLoginFailed, "", false, in.Meta, models.AuditMetadata{
			"reason": "invalid_credentials",
			"login":  pkglogger.MaskLogin(login),
		})
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		s.timing.WaitFrom(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	if err := s.lockout.CheckGate(account); err != nil {
		s.recordAttempt(ctx, login, account, in.Meta, false, "locked")
		s.record(ctx, models.AuditActionLoginFailed, account.ID, false, in.Meta, models.AuditMetadata{"reason": "locked"})
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, err
	}

	ok, err := s.hasher.Verify(in.Password, account.PasswordHash)
	if err != nil {
		return nil, s.fail(ctx, "verify password", err)
	}
	if !ok {
		return nil, s.loginFailure(ctx, login, account, in.Meta, "invalid_password", models.ErrInvalidCredentials, start)
	}

	if account.Status != models.AccountStatusActive {
		s.recordAttempt(ctx, login, account, in.Meta, false, "not_active")
		s.record(ctx, models.AuditActionLoginFailed, account.ID, false, in.Meta, models.AuditMetadata{
			"reason": "not_active",
			"status": string(account.Status),
		})
		metrics.LoginAttemptsTotal.WithLabelValues("inactive").Inc()
		return nil, models.ErrAccountNotActive
	}

	if account.MFAEnabled {
		if strings.TrimSpace(in.MFACode) == "" {
			return s.mfaChallenge(ctx, account, in.RememberMe, in.Meta)
		}
		if err := s.mfa.Verify(ctx, account, in.MFACode); err != nil {
			if errors.Is(err, models.ErrInvalidMFACode) {
				return nil, s.loginFailure(ctx, login, account, in.Meta, "invalid_mfa", models.ErrInvalidMFACode, start)
			}
			return nil, s.fail(ctx, "verify MFA code", err)
		}
	}

	return s.completeLogin(ctx, login, account, in.RememberMe, in.Meta)
}

// VerifyMFALogin finishes a login that returned an MFA challenge.
func (s *AuthService) VerifyMFALogin(ctx context.Context, in MFALoginInput) (*LoginResult, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.tokens.ValidateToken(in.MFAToken, models.TokenTypeMFAChallenge)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, s.fail(ctx, "load account", err)
	}
	login := strings.ToLower(account.Username)

	if err := s.lockout.CheckGate(account); err != nil {
		s.recordAttempt(ctx, login, account, in.Meta, false, "locked")
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, err
	}
	if account.Status != models.AccountStatusActive {
		metrics.LoginAttemptsTotal.WithLabelValues("inactive").Inc()
		return nil, models.ErrAccountNotActive
	}
	if !account.MFAEnabled {
		return nil, models.ErrTokenInvalid
	}

	if err := s.mfa.Verify(ctx, account, in.Code); err != nil {
		if errors.Is(err, models.ErrInvalidMFACode) {
			return nil, s.loginFailure(ctx, login, account, in.Meta, "invalid_mfa", models.ErrInvalidMFACode, start)
		}
		return nil, s.fail(ctx, "verify MFA code", err)
	}

	return s.completeLogin(ctx, login, account, claims.RememberMe, in.Meta)
}

// loginFailure counts a failed credential or MFA check. When this failure
// locks the account the caller gets the lock error instead of cause.
func (s *AuthService) loginFailure(ctx context.Context, login string, account *models.Account, meta RequestMeta, reason string, cause error, start time.Time) error {
	res, err := s.lockout.RecordFailure(ctx, account)
	if err != nil {
		return s.fail(ctx, "record failed login", err)
	}

	s.recordAttempt(ctx, login, account, meta, false, reason)
	s.record(ctx, models.AuditActionLoginFailed, account.ID, false, meta, models.AuditMetadata{
		"reason":          reason,
		"failed_attempts": res.Attempts,
	})

	if res.JustLocked {
		s.record(ctx, models.AuditActionAccountLocked, account.ID, true, meta, models.AuditMetadata{
			"locked_until": res.LockedUntil.UTC().Format(time.RFC3339),
		})
	}
	if res.LockedUntil != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return &models.LockedError{RetryAfter: res.LockedUntil.Sub(s.now())}
	}

	if reason == "invalid_mfa" {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_mfa").Inc()
	} else {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
	}
	s.timing.WaitFrom(ctx, start)
	return cause
}

func (s *AuthService) mfaChallenge(ctx context.Context, account *models.Account, rememberMe bool, meta RequestMeta) (*LoginResult, error) {
	token, err := s.tokens.GenerateMFAChallengeToken(account.ID, rememberMe, s.challengeTTL)
	if err != nil {
		return nil, s.fail(ctx, "issue MFA challenge", err)
	}

	s.record(ctx, models.AuditActionLoginMFAChallenge, account.ID, true, meta, models.AuditMetadata{
		"method": string(account.MFAMethod),
	})
	metrics.LoginAttemptsTotal.WithLabelValues("mfa_required").Inc()

	return &LoginResult{
		MFA: &models.MFARequiredResponse{
			MFARequired: true,
			MFAToken:    token,
			ExpiresIn:   int(s.challengeTTL.Seconds()),
		},
	}, nil
}

func (s *AuthService) completeLogin(ctx context.Context, login string, account *models.Account, rememberMe bool, meta RequestMeta) (*LoginResult, error) {
	if err := s.lockout.RecordSuccess(ctx, account); err != nil {
		return nil, s.fail(ctx, "reset lockout", err)
	}

	digest, trusted := s.devices.Check(account, meta)
	_, pair, err := s.sessions.Create(ctx, account, models.SessionContext{
		DeviceFingerprint: digest,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		RememberMe:        rememberMe,
	})
	if err != nil {
		return nil, s.fail(ctx, "create session", err)
	}

	attempt := s.recordAttempt(ctx, login, account, meta, true, "")
	at := s.now()
	var attemptID string
	if attempt != nil {
		at, attemptID = attempt.AttemptedAt, attempt.ID
	}

	if !trusted {
		if err := s.devices.Trust(ctx, account, digest); err != nil {
			s.logger.WarnContext(ctx, "failed to trust device", slog.String("account_id", account.ID), slog.Any("error", err))
		}
		s.notify(ctx, NotifyNewDevice, account.ID, map[string]any{
			"ip_address": meta.IPAddress,
			"user_agent": meta.UserAgent,
		})
		s.record(ctx, models.AuditActionLoginNewDevice, account.ID, true, meta, models.AuditMetadata{
			"session_id": pair.SessionID,
		})
	}

	s.audit.Record(ctx, AuditEntry{
		Action:    models.AuditActionLoginSuccess,
		AccountID: account.ID,
		Success:   true,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata: models.AuditMetadata{
			"session_id":  pair.SessionID,
			"new_device":  !trusted,
			"remember_me": rememberMe,
		},
		Enrich: s.anomalyEnricher(account.ID, at, attemptID, meta),
	})
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()

	return &LoginResult{
		Tokens:      pair,
		Account:     toAccountResponse(account),
		Permissions: models.ResolvePermissions(account.Role),
		NewDevice:   !trusted,
	}, nil
}

func (s *AuthService) anomalyEnricher(accountID string, at time.Time, attemptID string, meta RequestMeta) func(context.Context) models.AuditMetadata {
	if s.anomaly == nil {
		return nil
	}
	return func(ctx context.Context) models.AuditMetadata {
		flags, err := s.anomaly.Inspect(ctx, accountID, at, attemptID)
		if err != nil {
			s.logger.WarnContext(ctx, "anomaly inspection failed", slog.String("account_id", accountID), slog.Any("error", err))
			return nil
		}
		if flags.Any() {
			s.logger.WarnContext(ctx, "login anomaly detected",
				slog.String("account_id", accountID),
				slog.Bool("unusual_hour", flags.UnusualHour),
				slog.Bool("high_volume", flags.HighVolume))
			s.record(ctx, models.AuditActionAnomalyDetected, accountID, true, meta, flags.Metadata())
		}
		return flags.Metadata()
	}
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*models.TokenPair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.sessions.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionRevoked
		}
		return nil, s.fail(ctx, "load account", err)
	}
	if account.Status != models.AccountStatusActive {
		if err := s.sessions.Revoke(ctx, account.ID, claims.SessionID, RevokeReasonAccountInactive); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to revoke session of inactive account", slog.Any("error", err))
		}
		return nil, models.ErrSessionRevoked
	}

	pair, err := s.sessions.Rotate(ctx, claims, refreshToken, account.Role)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenInvalid):
			s.record(ctx, models.AuditActionRefreshReuse, account.ID, false, meta, models.AuditMetadata{
				"session_id": claims.SessionID,
			})
			return nil, err
		case errors.Is(err, models.ErrSessionRevoked):
			return nil, err
		default:
			return nil, s.fail(ctx, "rotate session", err)
		}
	}

	s.record(ctx, models.AuditActionRefresh, account.ID, true, meta, models.AuditMetadata{"session_id": pair.SessionID})
	return pair, nil
}

// Logout revokes sessionID (the caller's own session when empty), or every
// session of the account when all is set.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, sessionID string, all bool, meta RequestMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if all {
		n, err := s.sessions.RevokeAll(ctx, claims.AccountID, "", RevokeReasonLogoutAll)
		if err != nil {
			return s.fail(ctx, "revoke sessions", err)
		}
		s.record(ctx, models.AuditActionLogoutAll, claims.AccountID, true, meta, models.AuditMetadata{"revoked": n})
		return nil
	}

	if sessionID == "" {
		sessionID = claims.SessionID
	}
	if err := s.sessions.Revoke(ctx, claims.AccountID, sessionID, RevokeReasonLogout); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return s.fail(ctx, "revoke session", err)
	}
	s.record(ctx, models.AuditActionLogout, claims.AccountID, true, meta, models.AuditMetadata{"session_id": sessionID})
	return nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every session of the account, including the caller's.
func (s *AuthService) ChangePassword(ctx context.Context, claims *models.TokenClaims, current, next string, meta RequestMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, claims.AccountID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return s.fail(ctx, "verify password", err)
	}
	if !ok {
		s.record(ctx, models.AuditActionPasswordChange, account.ID, false, meta, models.AuditMetadata{"reason": "invalid_current_password"})
		return models.ErrInvalidCredentials
	}

	if strength := pkgauth.AssessStrength(next); !strength.Valid {
		return &models.WeakPasswordError{Violations: strength.Violations}
	}

	if err := s.setPassword(ctx, account.ID, next); err != nil {
		return err
	}

	n, err := s.sessions.RevokeAll(ctx, account.ID, "", RevokeReasonPasswordChange)
	if err != nil {
		return s.fail(ctx, "revoke sessions", err)
	}

	s.notify(ctx, NotifyPasswordChanged, account.ID, nil)
	s.record(ctx, models.AuditActionPasswordChange, account.ID, true, meta, models.AuditMetadata{"sessions_revoked": n})
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, accountID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return s.fail(ctx, "hash password", err)
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash, s.now()); err != nil {
		return s.fail(ctx, "update password", err)
	}
	return nil
}

// RequestPasswordReset emails a reset token when email belongs to an
// account. It reports nothing either way.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	email = strings.ToLower(strings.TrimSpace(email))
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "password reset lookup failed", slog.Any("error", err))
		}
		s.record(ctx, models.AuditActionPasswordResetReq, "", false, meta, models.AuditMetadata{
			"email": pkglogger.SanitizedEmail(email),
		})
		return
	}

	if account.Status == models.AccountStatusInactive || account.Status == models.AccountStatusSuspended {
		s.record(ctx, models.AuditActionPasswordResetReq, account.ID, false, meta, models.AuditMetadata{"reason": "not_active"})
		return
	}

	token, expiresAt, err := s.resets.Issue(ctx, account)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue reset token", slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}

	to := account.Email
	s.async(ctx, "email:password_reset", func(jobCtx context.Context) error {
		return s.resets.Send(jobCtx, to, token, expiresAt)
	})
	s.record(ctx, models.AuditActionPasswordResetReq, account.ID, true, meta, nil)
}

// ResetPassword consumes a reset token, sets the new password, clears the
// lockout state and revokes every session.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if strength := pkgauth.AssessStrength(newPassword); !strength.Valid {
		return &models.WeakPasswordError{Violations: strength.Violations}
	}

	accountID, err := s.resets.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrResetTokenInvalid) {
			return err
		}
		return s.fail(ctx, "consume reset token", err)
	}

	if err := s.setPassword(ctx, accountID, newPassword); err != nil {
		return err
	}

	n, err := s.sessions.RevokeAll(ctx, accountID, "", RevokeReasonPasswordReset)
	if err != nil {
		return s.fail(ctx, "revoke sessions", err)
	}

	s.notify(ctx, NotifyPasswordChanged, accountID, map[string]any{"via": "password_reset"})
	s.record(ctx, models.AuditActionPasswordReset, accountID, true, meta, models.AuditMetadata{"sessions_revoked": n})
	return nil
}

// EnableMFA starts an MFA enrollment for the caller.
func (s *AuthService) EnableMFA(ctx context.Context, claims *models.TokenClaims, method models.MFAMethod, meta RequestMeta) (*models.MFASetupResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, claims.AccountID)
	if err != nil {
		return nil, err
	}

	resp, err := s.mfa.BeginEnrollment(ctx, account, method)
	if err != nil {
		if errors.Is(err, models.ErrMFAAlreadyEnabled) || errors.Is(err, models.ErrBadRequest) {
			return nil, err
		}
		return nil, s.fail(ctx, "begin MFA enrollment", err)
	}

	s.record(ctx, models.AuditActionMFAEnrollBegin, account.ID, true, meta, models.AuditMetadata{"method": string(method)})
	return resp, nil
}

// VerifyMFASetup completes the caller's pending enrollment.
func (s *AuthService) VerifyMFASetup(ctx context.Context, claims *models.TokenClaims, setupToken, code string, meta RequestMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, claims.AccountID)
	if err != nil {
		return err
	}

	if err := s.mfa.CompleteEnrollment(ctx, account, setupToken, code); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidMFACode),
			errors.Is(err, models.ErrMFAEnrollmentInvalid),
			errors.Is(err, models.ErrMFAAlreadyEnabled):
			s.record(ctx, models.AuditActionMFAFailed, account.ID, false, meta, models.AuditMetadata{"reason": err.Error()})
			return err
		default:
			return s.fail(ctx, "complete MFA enrollment", err)
		}
	}

	s.notify(ctx, NotifyMFAEnabled, account.ID, nil)
	s.record(ctx, models.AuditActionMFAEnabled, account.ID, true, meta, nil)
	return nil
}

// DisableMFA turns MFA off after re-checking the password and revokes the
// account's other sessions.
func (s *AuthService) DisableMFA(ctx context.Context, claims *models.TokenClaims, password string, meta RequestMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, claims.AccountID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return s.fail(ctx, "verify password", err)
	}
	if !ok {
		s.record(ctx, models.AuditActionMFADisabled, account.ID, false, meta, models.AuditMetadata{"reason": "invalid_password"})
		return models.ErrInvalidCredentials
	}

	if err := s.mfa.Disable(ctx, account); err != nil {
		if errors.Is(err, models.ErrMFANotEnabled) {
			return err
		}
		return s.fail(ctx, "disable MFA", err)
	}

	n, err := s.sessions.RevokeAll(ctx, account.ID, claims.SessionID, RevokeReasonMFADisabled)
	if err != nil {
		return s.fail(ctx, "revoke sessions", err)
	}

	s.notify(ctx, NotifyMFADisabled, account.ID, nil)
	s.record(ctx, models.AuditActionMFADisabled, account.ID, true, meta, models.AuditMetadata{"sessions_revoked": n})
	return nil
}

func (s *AuthService) MFAStatus(ctx context.Context, claims *models.TokenClaims) (models.MFAStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, claims.AccountID)
	if err != nil {
		return models.MFAStatus{}, err
	}
	return s.mfa.Status(account), nil
}

// Profile returns the caller's account and effective permissions.
func (s *AuthService) Profile(ctx context.Context, claims *models.TokenClaims) (*AccountResponse, []models.Permission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, claims.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return toAccountResponse(account), models.ResolvePermissions(account.Role), nil
}

// ListSessions returns the caller's active sessions.
func (s *AuthService) ListSessions(ctx context.Context, claims *models.TokenClaims) ([]SessionResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sessions, err := s.sessions.List(ctx, claims.AccountID)
	if err != nil {
		return nil, s.fail(ctx, "list sessions", err)
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionResponse{
			ID:             sess.ID,
			IPAddress:      sess.IPAddress,
			UserAgent:      sess.UserAgent,
			RememberMe:     sess.RememberMe,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			ExpiresAt:      sess.ExpiresAt,
			Current:        sess.ID == claims.SessionID,
		})
	}
	return out, nil
}

func (s *AuthService) loadAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionRevoked
		}
		return nil, s.fail(ctx, "load account", err)
	}
	return account, nil
}
