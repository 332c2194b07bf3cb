package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
)

type EmailVerificationRepository struct {
	db *database.DB
}

func NewEmailVerificationRepository(db *database.DB) *EmailVerificationRepository {
	return &EmailVerificationRepository{db: db}
}

func (r *EmailVerificationRepository) Create(ctx context.Context, accountID, tokenHash, email string, expiresAt time.Time) error {
	query := `
		INSERT INTO email_verification_tokens (account_id, token_hash, email, expires_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Pool.Exec(ctx, query, accountID, tokenHash, email, expiresAt)
	return database.MapPostgresError(err)
}

// Consume marks the token used and returns its account id. It succeeds at
// most once per token.
func (r *EmailVerificationRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	query := `
		UPDATE email_verification_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING account_id`

	var accountID string
	if err := r.db.Pool.QueryRow(ctx, query, tokenHash, now).Scan(&accountID); err != nil {
		err = database.MapPostgresError(err)
		if err == models.ErrNotFound {
			return "", models.ErrVerificationInvalid
		}
		return "", err
	}
	return accountID, nil
}

// DeleteSpent purges used or expired tokens.
func (r *EmailVerificationRepository) DeleteSpent(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM email_verification_tokens WHERE used_at IS NOT NULL OR expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
