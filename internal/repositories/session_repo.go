package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository stores sessions in Postgres. Rotation is a
// compare-and-swap on refresh_token_hash.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

const sessionColumns = `
	id, account_id, refresh_token_hash, status, device_fingerprint, ip_address, user_agent,
	remember_me, created_at, last_activity_at, expires_at, revoked_at, revoke_reason`

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.AccountID, &s.RefreshTokenHash, &s.Status, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.RememberMe, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &s.RevokedAt, &s.RevokeReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, account_id, refresh_token_hash, status, device_fingerprint, ip_address,
			user_agent, remember_me, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.AccountID, s.RefreshTokenHash, s.Status, s.DeviceFingerprint, s.IPAddress,
		s.UserAgent, s.RememberMe, s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// Rotate swaps the stored refresh hash from presented to next. It fails with
// ErrSessionRevoked when the session is gone, inactive or expired, and with
// ErrTokenInvalid when presented is not the current hash.
func (r *SessionRepository) Rotate(ctx context.Context, id, presented, next string, now time.Time) error {
	query := `
		UPDATE sessions SET refresh_token_hash = $3, last_activity_at = $4
		WHERE id = $1 AND refresh_token_hash = $2 AND status = 'active' AND expires_at > $4`

	tag, err := r.pool.Exec(ctx, query, id, presented, next, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	s, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionRevoked
		}
		return err
	}
	if !s.IsUsable(now) {
		return models.ErrSessionRevoked
	}
	return models.ErrTokenInvalid
}

// Revoke marks one active session revoked. Revoking an already terminal
// session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	query := `
		UPDATE sessions SET status = 'revoked', revoked_at = $3, revoke_reason = $2
		WHERE id = $1 AND status = 'active'`

	_, err := r.pool.Exec(ctx, query, id, reason, now)
	return database.MapPostgresError(err)
}

// RevokeAll revokes every active session of accountID except exceptID (may
// be empty) and returns how many were revoked.
func (r *SessionRepository) RevokeAll(ctx context.Context, accountID, exceptID, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET status = 'revoked', revoked_at = $4, revoke_reason = $3
		WHERE account_id = $1 AND status = 'active' AND ($2 = '' OR id::text <> $2)`

	tag, err := r.pool.Exec(ctx, query, accountID, exceptID, reason, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns the live sessions of accountID, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, accountID string, now time.Time) ([]*models.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE account_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, accountID, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return sessions, nil
}

// ExpireStale moves active sessions past expires_at to expired.
func (r *SessionRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE sessions SET status = 'expired' WHERE status = 'active' AND expires_at <= $1`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
