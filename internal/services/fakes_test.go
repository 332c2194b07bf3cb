package services

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeClock is a settable time source shared by every component under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// MockLockoutStore implements LockoutStore for testing
type MockLockoutStore struct {
	RecordFailedLoginFunc func(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetFailedLoginsFunc func(ctx context.Context, id string) error
}

func (m *MockLockoutStore) RecordFailedLogin(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	if m.RecordFailedLoginFunc != nil {
		return m.RecordFailedLoginFunc(ctx, id, now, maxAttempts, lockUntil)
	}
	return 1, nil, nil
}

func (m *MockLockoutStore) ResetFailedLogins(ctx context.Context, id string) error {
	if m.ResetFailedLoginsFunc != nil {
		return m.ResetFailedLoginsFunc(ctx, id)
	}
	return nil
}

// MockLoginHistory implements LoginHistory for testing
type MockLoginHistory struct {
	ListByAccountSinceFunc func(ctx context.Context, accountID string, since time.Time) ([]*models.LoginAttempt, error)
}

func (m *MockLoginHistory) ListByAccountSince(ctx context.Context, accountID string, since time.Time) ([]*models.LoginAttempt, error) {
	if m.ListByAccountSinceFunc != nil {
		return m.ListByAccountSinceFunc(ctx, accountID, since)
	}
	return nil, nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc func(ctx context.Context, log *models.AuditLog) error
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return nil
}

type sentEmail struct {
	Kind  string
	To    string
	Token string
	Body  string
}

// captureEmailService records outgoing emails instead of sending them.
type captureEmailService struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (c *captureEmailService) add(e sentEmail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, e)
	return nil
}

func (c *captureEmailService) SendVerificationEmail(_ context.Context, email, token string, _ time.Time) error {
	return c.add(sentEmail{Kind: "verification", To: email, Token: token})
}

func (c *captureEmailService) SendPasswordResetEmail(_ context.Context, email, token string, _ time.Time) error {
	return c.add(sentEmail{Kind: "reset", To: email, Token: token})
}

func (c *captureEmailService) SendSecurityNotice(_ context.Context, email, subject, body string) error {
	return c.add(sentEmail{Kind: "notice:" + subject, To: email, Body: body})
}

func (c *captureEmailService) last(kind string) (sentEmail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Kind == kind {
			return c.sent[i], true
		}
	}
	return sentEmail{}, false
}

func (c *captureEmailService) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.sent {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type notification struct {
	Type      NotificationType
	AccountID string
	Payload   map[string]any
}

// recordingNotifier implements Notifier for testing
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(_ context.Context, typ NotificationType, accountID string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{Type: typ, AccountID: accountID, Payload: payload})
}

func (r *recordingNotifier) count(typ NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Type == typ {
			n++
		}
	}
	return n
}

// memAccountStore is an in-memory account store. Each method holds the lock
// for its whole read-modify-write, matching the single-statement atomicity
// of the Postgres repository.
type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	now      func() time.Time
}

func newMemAccountStore(now func() time.Time) *memAccountStore {
	return &memAccountStore{accounts: make(map[string]*models.Account), now: now}
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.BackupCodes = slices.Clone(a.BackupCodes)
	c.TrustedDevices = slices.Clone(a.TrustedDevices)
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	if a.MFAEnrollment != nil {
		e := *a.MFAEnrollment
		e.BackupCodes = slices.Clone(a.MFAEnrollment.BackupCodes)
		c.MFAEnrollment = &e
	}
	return &c
}

func (m *memAccountStore) get(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return cloneAccount(a)
	}
	return nil
}

func (m *memAccountStore) put(a *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = cloneAccount(a)
}

func (m *memAccountStore) Create(_ context.Context, na models.NewAccount) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, na.Username) || strings.EqualFold(a.Email, na.Email) {
			return nil, models.ErrConflict
		}
	}
	now := m.now()
	a := &models.Account{
		ID:           uuid.NewString(),
		Username:     na.Username,
		Email:        na.Email,
		PasswordHash: na.PasswordHash,
		Name:         na.Name,
		Role:         na.Role,
		Status:       na.Status,
		MFAMethod:    models.MFAMethodNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[a.ID] = a
	return cloneAccount(a), nil
}

func (m *memAccountStore) GetByID(_ context.Context, id string) (*models.Account, error) {
	if a := m.get(id); a != nil {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (m *memAccountStore) GetByLogin(_ context.Context, login string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, login) || strings.EqualFold(a.Email, login) {
			return cloneAccount(a), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memAccountStore) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			return cloneAccount(a), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memAccountStore) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, username) || strings.EqualFold(a.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccountStore) UpdatePassword(_ context.Context, id, passwordHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.PasswordChangedAt = &now
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (m *memAccountStore) TransitionStatus(_ context.Context, id string, from, to models.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.Status != from {
		return models.ErrNotFound
	}
	a.Status = to
	return nil
}

func (m *memAccountStore) RecordFailedLogin(_ context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, nil, models.ErrNotFound
	}

	if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
		a.FailedAttempts = 1
		a.LockedUntil = nil
	} else {
		a.FailedAttempts++
	}

	if a.LockedUntil == nil && a.FailedAttempts >= maxAttempts {
		t := lockUntil
		a.LockedUntil = &t
	}

	var locked *time.Time
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		locked = &t
	}
	return a.FailedAttempts, locked, nil
}

func (m *memAccountStore) ResetFailedLogins(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.FailedAttempts = 0
		a.LockedUntil = nil
	}
	return nil
}

func (m *memAccountStore) AddTrustedDevice(_ context.Context, id, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok && !slices.Contains(a.TrustedDevices, digest) {
		a.TrustedDevices = append(a.TrustedDevices, digest)
	}
	return nil
}

func (m *memAccountStore) BeginMFAEnrollment(_ context.Context, id string, e *models.MFAEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.MFAEnabled {
		return models.ErrMFAAlreadyEnabled
	}
	c := *e
	c.BackupCodes = slices.Clone(e.BackupCodes)
	a.MFAEnrollment = &c
	return nil
}

func (m *memAccountStore) CommitMFAEnrollment(_ context.Context, id, enrollmentID string, step int64, consumedCode string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.MFAEnabled || a.MFAEnrollment == nil || a.MFAEnrollment.ID != enrollmentID || !now.Before(a.MFAEnrollment.ExpiresAt) {
		return models.ErrMFAEnrollmentInvalid
	}
	e := a.MFAEnrollment
	a.MFAEnabled = true
	a.MFAMethod = e.Method
	a.MFASecret = e.Secret
	a.BackupCodes = slices.DeleteFunc(slices.Clone(e.BackupCodes), func(c string) bool { return c == consumedCode })
	a.MFALastUsedStep = step
	a.MFAEnrollment = nil
	return nil
}

func (m *memAccountStore) ConsumeTOTPStep(_ context.Context, id string, step int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.MFAEnabled || a.MFALastUsedStep >= step {
		return false, nil
	}
	a.MFALastUsedStep = step
	return true, nil
}

func (m *memAccountStore) ConsumeBackupCode(_ context.Context, id, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.MFAEnabled {
		return false, nil
	}
	i := slices.Index(a.BackupCodes, codeHash)
	if i < 0 {
		return false, nil
	}
	a.BackupCodes = slices.Delete(a.BackupCodes, i, i+1)
	return true, nil
}

func (m *memAccountStore) DisableMFA(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.MFAEnabled = false
	a.MFAMethod = models.MFAMethodNone
	a.MFASecret = ""
	a.BackupCodes = nil
	a.MFALastUsedStep = 0
	a.MFAEnrollment = nil
	return nil
}

// memAttemptStore is an in-memory login attempt log.
type memAttemptStore struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
}

func (m *memAttemptStore) Record(_ context.Context, a *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.attempts = append(m.attempts, &c)
	return nil
}

func (m *memAttemptStore) ListByAccountSince(_ context.Context, accountID string, since time.Time) ([]*models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LoginAttempt
	for _, a := range m.attempts {
		if a.AccountID != nil && *a.AccountID == accountID && !a.AttemptedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// memTokenStore backs both reset and verification tokens.
type memTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]*memToken
	invalid error
}

type memToken struct {
	accountID string
	expiresAt time.Time
	used      bool
}

func newMemTokenStore(invalid error) *memTokenStore {
	return &memTokenStore{tokens: make(map[string]*memToken), invalid: invalid}
}

func (m *memTokenStore) Create(_ context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.accountID == accountID {
			t.used = true
		}
	}
	m.tokens[tokenHash] = &memToken{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (m *memTokenStore) Consume(_ context.Context, tokenHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok || t.used || !now.Before(t.expiresAt) {
		return "", m.invalid
	}
	t.used = true
	return t.accountID, nil
}

// memVerificationStore adapts memTokenStore to EmailVerificationRepository.
type memVerificationStore struct{ *memTokenStore }

func (m memVerificationStore) Create(ctx context.Context, accountID, tokenHash, _ string, expiresAt time.Time) error {
	return m.memTokenStore.Create(ctx, accountID, tokenHash, expiresAt)
}
