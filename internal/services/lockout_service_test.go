package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockoutCfg = config.LockoutConfig{MaxAttempts: 5, Duration: 15 * time.Minute}

func newTestLockout(store LockoutStore, notifier Notifier, now time.Time) *LockoutService {
	svc := NewLockoutService(store, notifier, lockoutCfg, testLogger())
	svc.SetClock(func() time.Time { return now })
	return svc
}

func TestLockoutService_CheckGate(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc := newTestLockout(&MockLockoutStore{}, nil, now)

	assert.NoError(t, svc.CheckGate(&models.Account{}))

	past := now.Add(-time.Second)
	assert.NoError(t, svc.CheckGate(&models.Account{LockedUntil: &past}))

	// the lock ends exactly at LockedUntil
	assert.NoError(t, svc.CheckGate(&models.Account{LockedUntil: &now}))

	future := now.Add(90 * time.Second)
	err := svc.CheckGate(&models.Account{LockedUntil: &future})
	require.ErrorIs(t, err, models.ErrAccountLocked)

	var locked *models.LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 90, locked.RetryAfterSeconds())
	assert.Equal(t, 2, locked.RetryAfterMinutes())
}

func TestLockoutService_RecordFailure_BelowThreshold(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}

	var gotMax int
	var gotUntil time.Time
	store := &MockLockoutStore{
		RecordFailedLoginFunc: func(ctx context.Context, id string, at time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
			gotMax, gotUntil = maxAttempts, lockUntil
			return 3, nil, nil
		},
	}

	res, err := newTestLockout(store, notifier, now).RecordFailure(context.Background(), &models.Account{ID: "acct-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Nil(t, res.LockedUntil)
	assert.False(t, res.JustLocked)
	assert.Equal(t, 5, gotMax)
	assert.True(t, gotUntil.Equal(now.Add(15*time.Minute)))
	assert.Zero(t, notifier.count(NotifyAccountLocked))
}

func TestLockoutService_RecordFailure_CrossingThresholdNotifiesOnce(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)
	notifier := &recordingNotifier{}

	attempts := 4
	store := &MockLockoutStore{
		RecordFailedLoginFunc: func(ctx context.Context, id string, at time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
			attempts++
			return attempts, &until, nil
		},
	}
	svc := newTestLockout(store, notifier, now)

	res, err := svc.RecordFailure(context.Background(), &models.Account{ID: "acct-1"})
	require.NoError(t, err)
	assert.True(t, res.JustLocked)
	require.NotNil(t, res.LockedUntil)
	assert.True(t, res.LockedUntil.Equal(until))

	// further failures while locked keep the lock but do not re-notify
	res, err = svc.RecordFailure(context.Background(), &models.Account{ID: "acct-1"})
	require.NoError(t, err)
	assert.False(t, res.JustLocked)
	assert.NotNil(t, res.LockedUntil)

	assert.Equal(t, 1, notifier.count(NotifyAccountLocked))
}

func TestLockoutService_RecordFailure_StoreError(t *testing.T) {
	store := &MockLockoutStore{
		RecordFailedLoginFunc: func(ctx context.Context, id string, at time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
			return 0, nil, errors.New("connection reset")
		},
	}

	_, err := newTestLockout(store, nil, time.Now()).RecordFailure(context.Background(), &models.Account{ID: "acct-1"})
	assert.ErrorIs(t, err, models.ErrTransientFailure)
}

func TestLockoutService_RecordSuccess(t *testing.T) {
	calls := 0
	store := &MockLockoutStore{
		ResetFailedLoginsFunc: func(ctx context.Context, id string) error {
			calls++
			return nil
		},
	}
	svc := newTestLockout(store, nil, time.Now())

	require.NoError(t, svc.RecordSuccess(context.Background(), &models.Account{ID: "acct-1"}))
	assert.Equal(t, 1, calls, "a clear snapshot still resets the stored counter")

	until := time.Now().Add(-time.Minute)
	account := &models.Account{ID: "acct-1", FailedAttempts: 5, LockedUntil: &until}
	require.NoError(t, svc.RecordSuccess(context.Background(), account))
	assert.Equal(t, 2, calls)
	assert.Zero(t, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
}

func TestLockoutService_RecordSuccess_ClearsFailureAfterSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := newMemAccountStore(func() time.Time { return now })
	created, err := store.Create(context.Background(), models.NewAccount{
		Username: "alice",
		Email:    "alice@x.com",
		Role:     models.RoleUser,
		Status:   models.AccountStatusActive,
	})
	require.NoError(t, err)
	svc := newTestLockout(store, nil, now)

	// a successful login loaded a clean account, then a concurrent
	// failure landed before it finished
	loaded := store.get(created.ID)
	_, err = svc.RecordFailure(context.Background(), store.get(created.ID))
	require.NoError(t, err)
	require.Equal(t, 1, store.get(created.ID).FailedAttempts)

	require.NoError(t, svc.RecordSuccess(context.Background(), loaded))
	assert.Zero(t, store.get(created.ID).FailedAttempts)
	assert.Nil(t, store.get(created.ID).LockedUntil)
}
