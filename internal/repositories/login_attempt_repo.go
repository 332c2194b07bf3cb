package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
)

// LoginAttemptRepository is the append-only login attempt log.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func (r *LoginAttemptRepository) Record(ctx context.Context, a *models.LoginAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `
		INSERT INTO login_attempts (id, login, account_id, ip_address, user_agent, device_fingerprint, success, failure_reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Pool.Exec(ctx, query,
		a.ID, a.Login, a.AccountID, a.IPAddress, a.UserAgent, a.DeviceFingerprint,
		a.Success, a.FailureReason, a.AttemptedAt,
	)
	return database.MapPostgresError(err)
}

// ListByAccountSince returns an account's attempts at or after since, oldest
// first.
func (r *LoginAttemptRepository) ListByAccountSince(ctx context.Context, accountID string, since time.Time) ([]*models.LoginAttempt, error) {
	query := `
		SELECT id, login, account_id, ip_address, user_agent, device_fingerprint, success, failure_reason, attempted_at
		FROM login_attempts
		WHERE account_id = $1 AND attempted_at >= $2
		ORDER BY attempted_at`

	rows, err := r.db.Pool.Query(ctx, query, accountID, since)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(&a.ID, &a.Login, &a.AccountID, &a.IPAddress, &a.UserAgent,
			&a.DeviceFingerprint, &a.Success, &a.FailureReason, &a.AttemptedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, database.MapPostgresError(rows.Err())
}

// DeleteOlderThan purges attempts before cutoff.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
