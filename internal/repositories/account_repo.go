package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository stores accounts in Postgres. Every write that can race
// (lockout counters, MFA state, trusted devices) is a single conditional
// UPDATE so concurrent requests never lose updates.
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

const accountColumns = `
	id, username, email, password_hash, name, role, status,
	failed_attempts, locked_until,
	mfa_enabled, mfa_method, mfa_secret, backup_codes, mfa_last_used_step,
	mfa_enrollment_id, mfa_enrollment_method, mfa_enrollment_secret,
	mfa_enrollment_backup_codes, mfa_enrollment_expires_at,
	trusted_devices, password_changed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var enrollID, enrollMethod, enrollSecret *string
	var enrollCodes []string
	var enrollExpires *time.Time

	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Name, &a.Role, &a.Status,
		&a.FailedAttempts, &a.LockedUntil,
		&a.MFAEnabled, &a.MFAMethod, &a.MFASecret, &a.BackupCodes, &a.MFALastUsedStep,
		&enrollID, &enrollMethod, &enrollSecret, &enrollCodes, &enrollExpires,
		&a.TrustedDevices, &a.PasswordChangedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if enrollID != nil && enrollMethod != nil && enrollExpires != nil {
		a.MFAEnrollment = &models.MFAEnrollment{
			ID:          *enrollID,
			Method:      models.MFAMethod(*enrollMethod),
			BackupCodes: enrollCodes,
			ExpiresAt:   *enrollExpires,
		}
		if enrollSecret != nil {
			a.MFAEnrollment.Secret = *enrollSecret
		}
	}

	return &a, nil
}

// Create inserts a new account. Duplicate username or email (case-insensitive)
// returns ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, na models.NewAccount) (*models.Account, error) {
	query := `
		INSERT INTO accounts (username, email, password_hash, name, role, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING` + accountColumns

	return scanAccount(r.pool.QueryRow(ctx, query,
		na.Username, na.Email, na.PasswordHash, na.Name, na.Role, na.Status,
	))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

// GetByLogin resolves a username or email, case-insensitively.
func (r *AccountRepository) GetByLogin(ctx context.Context, login string) (*models.Account, error) {
	login = strings.ToLower(strings.TrimSpace(login))

	column := "username"
	if strings.Contains(login, "@") {
		column = "email"
	}

	query := `SELECT` + accountColumns + ` FROM accounts WHERE lower(` + column + `) = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, login))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	return scanAccount(r.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// ExistsByUsernameOrEmail reports whether either identifier is taken.
func (r *AccountRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM accounts WHERE lower(username) = lower($1) OR lower(email) = lower($2)
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, username, email).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// RecordFailedLogin increments the failure counter in one statement. A lock
// that has already elapsed restarts the count at 1. When the count reaches
// maxAttempts, locked_until is set to lockUntil. An active lock is never
// extended.
func (r *AccountRepository) RecordFailedLogin(ctx context.Context, id string, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		WITH next AS (
			SELECT id,
				CASE WHEN locked_until IS NOT NULL AND locked_until <= $2
					THEN 1 ELSE failed_attempts + 1 END AS attempts,
				locked_until
			FROM accounts WHERE id = $1
			FOR UPDATE
		)
		UPDATE accounts a SET
			failed_attempts = next.attempts,
			locked_until = CASE
				WHEN next.locked_until IS NOT NULL AND next.locked_until > $2 THEN next.locked_until
				WHEN next.attempts >= $3 THEN $4::timestamptz
				ELSE NULL END,
			updated_at = $2
		FROM next
		WHERE a.id = next.id
		RETURNING a.failed_attempts, a.locked_until`

	var attempts int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, now, maxAttempts, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return attempts, lockedUntil, nil
}

// ResetFailedLogins clears the lockout state.
func (r *AccountRepository) ResetFailedLogins(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET failed_attempts = 0, locked_until = NULL
		WHERE id = $1 AND (failed_attempts <> 0 OR locked_until IS NOT NULL)`

	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// UpdatePassword stores a new hash and clears lockout state.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, passwordHash, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// TransitionStatus moves an account from one status to another. It returns
// ErrNotFound when the account is not currently in from.
func (r *AccountRepository) TransitionStatus(ctx context.Context, id string, from, to models.AccountStatus) error {
	query := `UPDATE accounts SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

	tag, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AddTrustedDevice appends digest to the trusted set if absent.
func (r *AccountRepository) AddTrustedDevice(ctx context.Context, id, digest string) error {
	query := `
		UPDATE accounts SET trusted_devices = array_append(trusted_devices, $2)
		WHERE id = $1 AND NOT ($2 = ANY(trusted_devices))`

	_, err := r.pool.Exec(ctx, query, id, digest)
	return database.MapPostgresError(err)
}

// BeginMFAEnrollment stores a pending enrollment, replacing any earlier one.
func (r *AccountRepository) BeginMFAEnrollment(ctx context.Context, id string, e *models.MFAEnrollment) error {
	query := `
		UPDATE accounts SET
			mfa_enrollment_id = $2,
			mfa_enrollment_method = $3,
			mfa_enrollment_secret = $4,
			mfa_enrollment_backup_codes = $5,
			mfa_enrollment_expires_at = $6,
			updated_at = now()
		WHERE id = $1 AND mfa_enabled = false`

	tag, err := r.pool.Exec(ctx, query, id, e.ID, string(e.Method), e.Secret, e.BackupCodes, e.ExpiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMFAAlreadyEnabled
	}
	return nil
}

// CommitMFAEnrollment activates the pending enrollment enrollmentID. The TOTP
// step used to confirm it is recorded so the same code cannot log in, and
// consumedCode (a backup code hash, may be empty) is dropped from the set.
func (r *AccountRepository) CommitMFAEnrollment(ctx context.Context, id, enrollmentID string, step int64, consumedCode string, now time.Time) error {
	query := `
		UPDATE accounts SET
			mfa_enabled = true,
			mfa_method = mfa_enrollment_method,
			mfa_secret = COALESCE(mfa_enrollment_secret, ''),
			backup_codes = array_remove(COALESCE(mfa_enrollment_backup_codes, '{}'), $4),
			mfa_last_used_step = $3,
			mfa_enrollment_id = NULL,
			mfa_enrollment_method = NULL,
			mfa_enrollment_secret = NULL,
			mfa_enrollment_backup_codes = NULL,
			mfa_enrollment_expires_at = NULL,
			updated_at = $5
		WHERE id = $1
			AND mfa_enabled = false
			AND mfa_enrollment_id = $2
			AND mfa_enrollment_expires_at > $5`

	tag, err := r.pool.Exec(ctx, query, id, enrollmentID, step, consumedCode, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMFAEnrollmentInvalid
	}
	return nil
}

// ConsumeTOTPStep records step as used. It returns false when step is not
// newer than the last accepted step.
func (r *AccountRepository) ConsumeTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	query := `
		UPDATE accounts SET mfa_last_used_step = $2
		WHERE id = $1 AND mfa_enabled = true AND mfa_last_used_step < $2`

	tag, err := r.pool.Exec(ctx, query, id, step)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeBackupCode removes codeHash from the unused set. It returns false
// when the code is not present, which includes a concurrent consumer having
// removed it first.
func (r *AccountRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	query := `
		UPDATE accounts SET backup_codes = array_remove(backup_codes, $2)
		WHERE id = $1 AND mfa_enabled = true AND $2 = ANY(backup_codes)`

	tag, err := r.pool.Exec(ctx, query, id, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DisableMFA clears all MFA state, pending or active.
func (r *AccountRepository) DisableMFA(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET
			mfa_enabled = false,
			mfa_method = 'none',
			mfa_secret = '',
			backup_codes = '{}',
			mfa_last_used_step = 0,
			mfa_enrollment_id = NULL,
			mfa_enrollment_method = NULL,
			mfa_enrollment_secret = NULL,
			mfa_enrollment_backup_codes = NULL,
			mfa_enrollment_expires_at = NULL,
			updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnsureAdmin creates an active admin account when none exists with email.
func (r *AccountRepository) EnsureAdmin(ctx context.Context, username, email, passwordHash string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, err
	}

	_, err = r.Create(ctx, models.NewAccount{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Name:         "Administrator",
		Role:         models.RoleAdmin,
		Status:       models.AccountStatusActive,
	})
	if err != nil {
		return false, fmt.Errorf("create admin account: %w", err)
	}
	return true, nil
}
