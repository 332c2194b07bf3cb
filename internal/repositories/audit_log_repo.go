package repositories

import (
	"context"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
)

type AuditLogRepository struct {
	db *database.DB
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, action, account_id, success, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Pool.Exec(ctx, query,
		log.ID, string(log.Action), log.AccountID, log.Success,
		log.IPAddress, log.UserAgent, log.Metadata, log.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// ListByAccount returns the newest audit events of an account.
func (r *AuditLogRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, account_id, success, ip_address, user_agent, metadata, created_at
		FROM audit_logs WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.AccountID, &l.Success,
			&l.IPAddress, &l.UserAgent, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		logs = append(logs, &l)
	}
	return logs, database.MapPostgresError(rows.Err())
}
