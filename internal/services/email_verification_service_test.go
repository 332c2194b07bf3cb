package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerificationFixture(t *testing.T) (*EmailVerificationService, *memAccountStore, *captureEmailService, *fakeClock, *models.Account) {
	t.Helper()
	clock := newFakeClock(testStart)
	accounts := newMemAccountStore(clock.Now)
	email := &captureEmailService{}

	account, err := accounts.Create(context.Background(), models.NewAccount{
		Username: "alice",
		Email:    "alice@x.com",
		Role:     models.RoleUser,
		Status:   models.AccountStatusPendingVerification,
	})
	require.NoError(t, err)

	svc := NewEmailVerificationService(memVerificationStore{newMemTokenStore(models.ErrVerificationInvalid)}, accounts, email, 24*time.Hour, testLogger())
	svc.SetClock(clock.Now)
	return svc, accounts, email, clock, account
}

func TestEmailVerificationService_IssueAndVerify(t *testing.T) {
	svc, accounts, email, _, account := newVerificationFixture(t)

	require.NoError(t, svc.Issue(context.Background(), account))
	msg, ok := email.last("verification")
	require.True(t, ok)
	assert.Equal(t, "alice@x.com", msg.To)

	id, err := svc.Verify(context.Background(), msg.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
	assert.Equal(t, models.AccountStatusActive, accounts.get(account.ID).Status)
}

func TestEmailVerificationService_Expired(t *testing.T) {
	svc, accounts, email, clock, account := newVerificationFixture(t)

	require.NoError(t, svc.Issue(context.Background(), account))
	msg, _ := email.last("verification")

	clock.Advance(24 * time.Hour)
	_, err := svc.Verify(context.Background(), msg.Token)
	assert.ErrorIs(t, err, models.ErrVerificationInvalid)
	assert.Equal(t, models.AccountStatusPendingVerification, accounts.get(account.ID).Status)
}

func TestEmailVerificationService_ReissueRetiresEarlierToken(t *testing.T) {
	svc, _, email, _, account := newVerificationFixture(t)

	require.NoError(t, svc.Issue(context.Background(), account))
	first, _ := email.last("verification")
	require.NoError(t, svc.Issue(context.Background(), account))
	second, _ := email.last("verification")

	_, err := svc.Verify(context.Background(), first.Token)
	assert.ErrorIs(t, err, models.ErrVerificationInvalid)
	_, err = svc.Verify(context.Background(), second.Token)
	assert.NoError(t, err)
}

func TestEmailVerificationService_DoesNotReactivateSuspended(t *testing.T) {
	svc, accounts, email, _, account := newVerificationFixture(t)
	require.NoError(t, svc.Issue(context.Background(), account))
	msg, _ := email.last("verification")

	suspended := accounts.get(account.ID)
	suspended.Status = models.AccountStatusSuspended
	accounts.put(suspended)

	_, err := svc.Verify(context.Background(), msg.Token)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusSuspended, accounts.get(account.ID).Status)
}

func TestEmailVerificationService_SendFailure(t *testing.T) {
	svc, _, email, _, account := newVerificationFixture(t)
	email.err = errors.New("ses throttled")

	assert.Error(t, svc.Issue(context.Background(), account))
}
