package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
)

// LockoutStore performs the atomic counter updates behind the lockout state
// machine.
type LockoutStore interface {
	RecordFailedLogin(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetFailedLogins(ctx context.Context, id string) error
}

// FailureResult is the lockout state after a recorded failure.
type FailureResult struct {
	Attempts    int
	LockedUntil *time.Time
	JustLocked  bool
}

type LockoutService struct {
	store       LockoutStore
	notifier    Notifier
	maxAttempts int
	duration    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewLockoutService(store LockoutStore, notifier Notifier, cfg config.LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		store:       store,
		notifier:    notifier,
		maxAttempts: cfg.MaxAttempts,
		duration:    cfg.Duration,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *LockoutService) SetClock(now func() time.Time) { s.now = now }

// CheckGate returns a *models.LockedError while account is locked. The lock
// ends exactly at LockedUntil.
func (s *LockoutService) CheckGate(account *models.Account) error {
	now := s.now()
	if !account.IsLocked(now) {
		return nil
	}
	return &models.LockedError{RetryAfter: account.LockedUntil.Sub(now)}
}

// RecordFailure counts one failed attempt. The lockout notification fires
// only on the attempt that crosses the threshold.
func (s *LockoutService) RecordFailure(ctx context.Context, account *models.Account) (*FailureResult, error) {
	now := s.now()
	attempts, lockedUntil, err := s.store.RecordFailedLogin(ctx, account.ID, now, s.maxAttempts, now.Add(s.duration))
	if err != nil {
		return nil, transient("record failed login", err)
	}

	res := &FailureResult{Attempts: attempts}
	if lockedUntil != nil && now.Before(*lockedUntil) {
		res.LockedUntil = lockedUntil
		res.JustLocked = attempts == s.maxAttempts
	}

	if res.JustLocked {
		metrics.AccountLockoutsTotal.Inc()
		s.logger.Warn("account locked",
			slog.String("account_id", account.ID),
			slog.Time("locked_until", *lockedUntil))
		if s.notifier != nil {
			s.notifier.Notify(ctx, NotifyAccountLocked, account.ID, map[string]any{
				"locked_until": lockedUntil.UTC().Format(time.RFC3339),
			})
		}
	}
	return res, nil
}

// RecordSuccess clears the counter and any lock. The reset always reaches
// the store: account may predate a failure recorded by a concurrent login.
func (s *LockoutService) RecordSuccess(ctx context.Context, account *models.Account) error {
	if err := s.store.ResetFailedLogins(ctx, account.ID); err != nil {
		return transient("reset failed logins", err)
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	return nil
}
