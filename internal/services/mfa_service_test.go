package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mfaFixture struct {
	svc     *MFAService
	store   *memAccountStore
	clock   *fakeClock
	account *models.Account
}

func newMFAFixture(t *testing.T) *mfaFixture {
	t.Helper()
	clock := newFakeClock(testStart)

	totpManager, err := auth.NewTOTPManager(testEncryptionKey, "Warden", 1)
	require.NoError(t, err)
	tokens := auth.NewTokenManager("mfa-test-secret")
	tokens.SetClock(clock.Now)

	store := newMemAccountStore(clock.Now)
	account, err := store.Create(context.Background(), models.NewAccount{
		Username: "alice",
		Email:    "alice@x.com",
		Role:     models.RoleUser,
		Status:   models.AccountStatusActive,
	})
	require.NoError(t, err)

	svc := NewMFAService(store, totpManager, tokens, config.MFAConfig{
		BackupCodeCount:  4,
		SetupTokenExpiry: 10 * time.Minute,
	})
	svc.SetClock(clock.Now)

	return &mfaFixture{svc: svc, store: store, clock: clock, account: account}
}

func (f *mfaFixture) reload() *models.Account { return f.store.get(f.account.ID) }

func TestMFAService_BeginEnrollment_InvalidMethod(t *testing.T) {
	f := newMFAFixture(t)

	_, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethod("sms"))
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Nil(t, f.reload().MFAEnrollment)
}

func TestMFAService_BeginEnrollment_StoresOnlyHashes(t *testing.T) {
	f := newMFAFixture(t)

	resp, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodTOTP)
	require.NoError(t, err)
	require.Len(t, resp.BackupCodes, 4)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://totp/")
	assert.Equal(t, 600, resp.ExpiresIn)

	stored := f.reload()
	require.NotNil(t, stored.MFAEnrollment)
	assert.False(t, stored.MFAEnabled)
	assert.NotEqual(t, resp.Secret, stored.MFAEnrollment.Secret)
	for _, code := range resp.BackupCodes {
		assert.NotContains(t, stored.MFAEnrollment.BackupCodes, code)
	}
}

func TestMFAService_CompleteEnrollment(t *testing.T) {
	f := newMFAFixture(t)
	resp, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodTOTP)
	require.NoError(t, err)
	pending := f.reload()

	err = f.svc.CompleteEnrollment(context.Background(), pending, "not-a-token", totpCode(t, resp.Secret, f.clock.Now()))
	assert.ErrorIs(t, err, models.ErrMFAEnrollmentInvalid)

	err = f.svc.CompleteEnrollment(context.Background(), pending, resp.SetupToken, "123")
	assert.ErrorIs(t, err, models.ErrInvalidMFACode)
	assert.False(t, f.reload().MFAEnabled)

	require.NoError(t, f.svc.CompleteEnrollment(context.Background(), pending, resp.SetupToken, totpCode(t, resp.Secret, f.clock.Now())))

	active := f.reload()
	assert.True(t, active.MFAEnabled)
	assert.Equal(t, models.MFAMethodTOTP, active.MFAMethod)
	assert.Nil(t, active.MFAEnrollment)
	assert.Len(t, active.BackupCodes, 4)

	// the enrollment code's step is already spent
	err = f.svc.Verify(context.Background(), active, totpCode(t, resp.Secret, f.clock.Now()))
	assert.ErrorIs(t, err, models.ErrInvalidMFACode)
}

func TestMFAService_CompleteEnrollment_Expired(t *testing.T) {
	f := newMFAFixture(t)
	resp, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodTOTP)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	err = f.svc.CompleteEnrollment(context.Background(), f.reload(), resp.SetupToken, totpCode(t, resp.Secret, f.clock.Now()))
	assert.ErrorIs(t, err, models.ErrMFAEnrollmentInvalid)
}

func TestMFAService_CompleteEnrollment_SupersededEnrollment(t *testing.T) {
	f := newMFAFixture(t)
	first, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodTOTP)
	require.NoError(t, err)
	_, err = f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodTOTP)
	require.NoError(t, err)

	err = f.svc.CompleteEnrollment(context.Background(), f.reload(), first.SetupToken, totpCode(t, first.Secret, f.clock.Now()))
	assert.ErrorIs(t, err, models.ErrMFAEnrollmentInvalid)
}

func TestMFAService_Verify_TOTPWithinSkew(t *testing.T) {
	f := newMFAFixture(t)
	resp, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodTOTP)
	require.NoError(t, err)
	require.NoError(t, f.svc.CompleteEnrollment(context.Background(), f.reload(), resp.SetupToken, totpCode(t, resp.Secret, f.clock.Now())))

	f.clock.Advance(2 * time.Minute)
	previous := totpCode(t, resp.Secret, f.clock.Now().Add(-30*time.Second))
	assert.NoError(t, f.svc.Verify(context.Background(), f.reload(), previous))

	f.clock.Advance(2 * time.Minute)
	stale := totpCode(t, resp.Secret, f.clock.Now().Add(-90*time.Second))
	current := totpCode(t, resp.Secret, f.clock.Now())
	if stale != current {
		assert.ErrorIs(t, f.svc.Verify(context.Background(), f.reload(), stale), models.ErrInvalidMFACode)
	}
}

func TestMFAService_Verify_NotEnabled(t *testing.T) {
	f := newMFAFixture(t)
	err := f.svc.Verify(context.Background(), f.account, "123456")
	assert.ErrorIs(t, err, models.ErrMFANotEnabled)
}

type failingMFAStore struct{ *memAccountStore }

func (failingMFAStore) ConsumeBackupCode(context.Context, string, string) (bool, error) {
	return false, errors.New("pool closed")
}

func TestMFAService_Verify_StoreFailure(t *testing.T) {
	f := newMFAFixture(t)
	resp, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodBackupCodes)
	require.NoError(t, err)
	require.NoError(t, f.svc.CompleteEnrollment(context.Background(), f.reload(), resp.SetupToken, resp.BackupCodes[0]))

	f.svc.store = failingMFAStore{f.store}
	err = f.svc.Verify(context.Background(), f.reload(), resp.BackupCodes[1])
	assert.ErrorIs(t, err, models.ErrTransientFailure)
}

func TestMFAService_DisableAndStatus(t *testing.T) {
	f := newMFAFixture(t)

	assert.ErrorIs(t, f.svc.Disable(context.Background(), f.account), models.ErrMFANotEnabled)

	resp, err := f.svc.BeginEnrollment(context.Background(), f.account, models.MFAMethodBackupCodes)
	require.NoError(t, err)
	require.NoError(t, f.svc.CompleteEnrollment(context.Background(), f.reload(), resp.SetupToken, resp.BackupCodes[0]))

	status := f.svc.Status(f.reload())
	assert.True(t, status.Enabled)
	assert.Equal(t, models.MFAMethodBackupCodes, status.Method)
	assert.Equal(t, 3, status.BackupCodesRemaining)

	require.NoError(t, f.svc.Disable(context.Background(), f.reload()))
	status = f.svc.Status(f.reload())
	assert.False(t, status.Enabled)
	assert.Equal(t, models.MFAMethodNone, status.Method)
	assert.Zero(t, status.BackupCodesRemaining)
}
