package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
)

type PasswordResetRepository struct {
	db *database.DB
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a new reset token and retires any unused earlier tokens for
// the account.
func (r *PasswordResetRepository) Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	query := `
		WITH retired AS (
			UPDATE password_reset_tokens SET used = true
			WHERE account_id = $1 AND used = false
		)
		INSERT INTO password_reset_tokens (account_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`

	_, err := r.db.Pool.Exec(ctx, query, accountID, tokenHash, expiresAt)
	return database.MapPostgresError(err)
}

// Consume marks the token used and returns its account. The update only
// matches an unused, unexpired token so it succeeds at most once.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	query := `
		UPDATE password_reset_tokens SET used = true
		WHERE token_hash = $1 AND used = false AND expires_at > $2
		RETURNING account_id`

	var accountID string
	if err := r.db.Pool.QueryRow(ctx, query, tokenHash, now).Scan(&accountID); err != nil {
		err = database.MapPostgresError(err)
		if err == models.ErrNotFound {
			return "", models.ErrResetTokenInvalid
		}
		return "", err
	}
	return accountID, nil
}

// DeleteSpent purges used or expired tokens.
func (r *PasswordResetRepository) DeleteSpent(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE used = true OR expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
