package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

type EmailVerificationRepository interface {
	Create(ctx context.Context, accountID, tokenHash, email string, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
}

type AccountStatusUpdater interface {
	TransitionStatus(ctx context.Context, id string, from, to models.AccountStatus) error
}

// EmailVerificationService activates pending accounts through an emailed
// single-use token. Only the token's SHA-256 is stored.
type EmailVerificationService struct {
	repo     EmailVerificationRepository
	accounts AccountStatusUpdater
	email    EmailService
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewEmailVerificationService(repo EmailVerificationRepository, accounts AccountStatusUpdater, email EmailService, ttl time.Duration, logger *slog.Logger) *EmailVerificationService {
	return &EmailVerificationService{
		repo:     repo,
		accounts: accounts,
		email:    email,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *EmailVerificationService) SetClock(now func() time.Time) { s.now = now }

// Issue creates a verification token for account and emails it.
func (s *EmailVerificationService) Issue(ctx context.Context, account *models.Account) error {
	token, err := pkgauth.GenerateOpaqueToken(32)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.ttl)

	if err := s.repo.Create(ctx, account.ID, hashToken(token), account.Email, expiresAt); err != nil {
		return transient("store verification token", err)
	}
	if err := s.email.SendVerificationEmail(ctx, account.Email, token, expiresAt); err != nil {
		return err
	}
	return nil
}

// Verify consumes token and moves its account from pending verification to
// active. It returns the account id.
func (s *EmailVerificationService) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", models.ErrVerificationInvalid
	}

	accountID, err := s.repo.Consume(ctx, hashToken(token), s.now())
	if err != nil {
		if errors.Is(err, models.ErrVerificationInvalid) {
			return "", err
		}
		return "", transient("consume verification token", err)
	}

	err = s.accounts.TransitionStatus(ctx, accountID, models.AccountStatusPendingVerification, models.AccountStatusActive)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return "", transient("activate account", err)
	}
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Info("verified account was not pending", slog.String("account_id", accountID))
	}
	return accountID, nil
}
