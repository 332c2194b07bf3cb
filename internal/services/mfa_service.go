package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

// MFAStore holds pending and active MFA state. Consume methods are atomic
// and report false when the step or code was already used.
type MFAStore interface {
	BeginMFAEnrollment(ctx context.Context, id string, e *models.MFAEnrollment) error
	CommitMFAEnrollment(ctx context.Context, id, enrollmentID string, step int64, consumedCode string, now time.Time) error
	ConsumeTOTPStep(ctx context.Context, id string, step int64) (bool, error)
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error)
	DisableMFA(ctx context.Context, id string) error
}

type MFAService struct {
	store       MFAStore
	totp        *auth.TOTPManager
	tokens      *auth.TokenManager
	backupCount int
	setupTTL    time.Duration
	now         func() time.Time
}

func NewMFAService(store MFAStore, totp *auth.TOTPManager, tokens *auth.TokenManager, cfg config.MFAConfig) *MFAService {
	return &MFAService{
		store:       store,
		totp:        totp,
		tokens:      tokens,
		backupCount: cfg.BackupCodeCount,
		setupTTL:    cfg.SetupTokenExpiry,
		now:         time.Now,
	}
}

func (s *MFAService) SetClock(now func() time.Time) { s.now = now }

// BeginEnrollment stores a pending enrollment and returns the material the
// user needs to complete it. MFA stays disabled until CompleteEnrollment.
func (s *MFAService) BeginEnrollment(ctx context.Context, account *models.Account, method models.MFAMethod) (*models.MFASetupResponse, error) {
	if account.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unsupported MFA method %q", models.ErrBadRequest, method)
	}

	now := s.now()
	codes, err := s.totp.GenerateBackupCodes(s.backupCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = s.totp.HashBackupCode(c)
	}

	enrollment := &models.MFAEnrollment{
		ID:          uuid.NewString(),
		Method:      method,
		BackupCodes: hashes,
		ExpiresAt:   now.Add(s.setupTTL),
	}
	resp := &models.MFASetupResponse{
		Method:      method,
		BackupCodes: codes,
		ExpiresIn:   int(s.setupTTL.Seconds()),
	}

	if method == models.MFAMethodTOTP {
		totpEnrollment, err := s.totp.GenerateEnrollment(account.Email)
		if err != nil {
			return nil, err
		}
		enrollment.Secret = totpEnrollment.EncryptedSecret
		resp.Secret = totpEnrollment.Secret
		resp.ProvisioningURI = totpEnrollment.ProvisioningURI
		resp.QRCode = totpEnrollment.QRCodeDataURL
	}

	if err := s.store.BeginMFAEnrollment(ctx, account.ID, enrollment); err != nil {
		if errors.Is(err, models.ErrMFAAlreadyEnabled) {
			return nil, err
		}
		return nil, transient("begin MFA enrollment", err)
	}

	resp.SetupToken, err = s.tokens.GenerateSetupToken(account.ID, enrollment.ID, enrollment.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CompleteEnrollment checks setupToken and code against the pending
// enrollment and activates it.
func (s *MFAService) CompleteEnrollment(ctx context.Context, account *models.Account, setupToken, code string) error {
	if account.MFAEnabled {
		return models.ErrMFAAlreadyEnabled
	}

	claims, err := s.tokens.ValidateToken(setupToken, models.TokenTypeMFASetup)
	if err != nil || claims.AccountID != account.ID {
		return models.ErrMFAEnrollmentInvalid
	}

	now := s.now()
	e := account.MFAEnrollment
	if e == nil || e.ID != claims.EnrollmentID || !now.Before(e.ExpiresAt) {
		return models.ErrMFAEnrollmentInvalid
	}

	var step int64
	var consumed string
	switch e.Method {
	case models.MFAMethodTOTP:
		secret, err := s.totp.DecryptSecret(e.Secret)
		if err != nil {
			return fmt.Errorf("decrypt pending secret: %w", err)
		}
		matched, ok, err := s.totp.ValidateTOTP(secret, auth.NormalizeCode(code), now)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidMFACode
		}
		step = matched
	case models.MFAMethodBackupCodes:
		h := s.totp.HashBackupCode(code)
		if !slices.Contains(e.BackupCodes, h) {
			return models.ErrInvalidMFACode
		}
		consumed = h
	default:
		return models.ErrMFAEnrollmentInvalid
	}

	if err := s.store.CommitMFAEnrollment(ctx, account.ID, e.ID, step, consumed, now); err != nil {
		if errors.Is(err, models.ErrMFAEnrollmentInvalid) {
			return err
		}
		return transient("commit MFA enrollment", err)
	}
	return nil
}

// Verify checks a login-time code. A TOTP code is accepted within the
// configured skew but each time step only once; a backup code is removed
// from the unused set before success is reported.
func (s *MFAService) Verify(ctx context.Context, account *models.Account, code string) error {
	if !account.MFAEnabled {
		return models.ErrMFANotEnabled
	}

	normalized := auth.NormalizeCode(code)
	if normalized == "" {
		return models.ErrInvalidMFACode
	}

	if account.MFAMethod == models.MFAMethodTOTP && isNumeric(normalized) {
		secret, err := s.totp.DecryptSecret(account.MFASecret)
		if err != nil {
			return fmt.Errorf("decrypt MFA secret: %w", err)
		}
		step, ok, err := s.totp.ValidateTOTP(secret, normalized, s.now())
		if err != nil {
			return err
		}
		if ok {
			consumed, err := s.store.ConsumeTOTPStep(ctx, account.ID, step)
			if err != nil {
				return transient("consume TOTP step", err)
			}
			if consumed {
				metrics.MFAVerificationsTotal.WithLabelValues("totp", "success").Inc()
				return nil
			}
			metrics.MFAVerificationsTotal.WithLabelValues("totp", "replay").Inc()
			return models.ErrInvalidMFACode
		}
	}

	consumed, err := s.store.ConsumeBackupCode(ctx, account.ID, s.totp.HashBackupCode(normalized))
	if err != nil {
		return transient("consume backup code", err)
	}
	if consumed {
		metrics.MFAVerificationsTotal.WithLabelValues("backup_code", "success").Inc()
		return nil
	}

	metrics.MFAVerificationsTotal.WithLabelValues(string(account.MFAMethod), "failure").Inc()
	return models.ErrInvalidMFACode
}

// Disable removes all MFA state, active or pending.
func (s *MFAService) Disable(ctx context.Context, account *models.Account) error {
	if !account.MFAEnabled && account.MFAEnrollment == nil {
		return models.ErrMFANotEnabled
	}
	if err := s.store.DisableMFA(ctx, account.ID); err != nil {
		return transient("disable MFA", err)
	}
	return nil
}

func (s *MFAService) Status(account *models.Account) models.MFAStatus {
	method := account.MFAMethod
	if !account.MFAEnabled {
		method = models.MFAMethodNone
	}
	return models.MFAStatus{
		Enabled:              account.MFAEnabled,
		Method:               method,
		BackupCodesRemaining: len(account.BackupCodes),
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
