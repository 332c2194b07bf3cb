package services

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

type PasswordResetRepository interface {
	Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
}

// PasswordResetService issues and consumes single-use reset tokens.
type PasswordResetService struct {
	repo  PasswordResetRepository
	email EmailService
	ttl   time.Duration
	now   func() time.Time
}

func NewPasswordResetService(repo PasswordResetRepository, email EmailService, ttl time.Duration) *PasswordResetService {
	return &PasswordResetService{repo: repo, email: email, ttl: ttl, now: time.Now}
}

func (s *PasswordResetService) SetClock(now func() time.Time) { s.now = now }

// Issue stores a new token for account and returns it with its expiry.
// Earlier unused tokens are retired.
func (s *PasswordResetService) Issue(ctx context.Context, account *models.Account) (string, time.Time, error) {
	token, err := pkgauth.GenerateOpaqueToken(32)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.ttl)

	if err := s.repo.Create(ctx, account.ID, hashToken(token), expiresAt); err != nil {
		return "", time.Time{}, transient("store reset token", err)
	}
	return token, expiresAt, nil
}

// Send emails a previously issued token.
func (s *PasswordResetService) Send(ctx context.Context, email, token string, expiresAt time.Time) error {
	return s.email.SendPasswordResetEmail(ctx, email, token, expiresAt)
}

// Consume marks token used and returns its account id. A token can be
// consumed once.
func (s *PasswordResetService) Consume(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", models.ErrResetTokenInvalid
	}
	accountID, err := s.repo.Consume(ctx, hashToken(token), s.now())
	if err != nil {
		if errors.Is(err, models.ErrResetTokenInvalid) {
			return "", err
		}
		return "", transient("consume reset token", err)
	}
	return accountID, nil
}
