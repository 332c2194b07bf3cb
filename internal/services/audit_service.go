package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/events"
	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/google/uuid"
)

type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditEntry is one auth event. Enrich, when set, runs on the dispatcher
// before the event is written and may add metadata (anomaly flags).
type AuditEntry struct {
	Action    models.AuditAction
	AccountID string
	Success   bool
	IPAddress string
	UserAgent string
	Metadata  models.AuditMetadata
	Enrich    func(ctx context.Context) models.AuditMetadata
}

// AuditService handles audit logging with dual-write pattern (slog + database).
// Writes happen off the request path and failures are only logged.
type AuditService struct {
	repo        AuditLogRepository
	auditLogger *pkglogger.AuditLogger
	dispatcher  *events.Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

func NewAuditService(repo AuditLogRepository, dispatcher *events.Dispatcher, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: pkglogger.NewAuditLogger(logger),
		dispatcher:  dispatcher,
		logger:      logger,
		now:         time.Now,
	}
}

// Record queues entry, or writes it inline when there is no dispatcher. A
// nil service records nothing.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil {
		return
	}
	at := s.now().UTC()

	if s.dispatcher == nil {
		s.write(context.WithoutCancel(ctx), entry, at)
		return
	}

	accepted := s.dispatcher.Submit("audit:"+string(entry.Action), func(ctx context.Context) error {
		s.write(ctx, entry, at)
		return nil
	})
	if !accepted {
		s.logger.Warn("audit event dropped", slog.String("action", string(entry.Action)))
	}
}

func (s *AuditService) write(ctx context.Context, entry AuditEntry, at time.Time) {
	metadata := entry.Metadata
	if entry.Enrich != nil {
		for k, v := range entry.Enrich(ctx) {
			metadata = metadata.With(k, v)
		}
	}

	s.auditLogger.LogAuthEvent(ctx, pkglogger.AuthEvent{
		Action:    string(entry.Action),
		AccountID: entry.AccountID,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Success:   entry.Success,
		Metadata:  metadata,
	})

	if s.repo == nil {
		return
	}

	log := &models.AuditLog{
		ID:        uuid.New(),
		Action:    entry.Action,
		Success:   entry.Success,
		Metadata:  metadata,
		CreatedAt: at,
	}
	if entry.AccountID != "" {
		log.AccountID = &entry.AccountID
	}
	if entry.IPAddress != "" {
		log.IPAddress = &entry.IPAddress
	}
	if entry.UserAgent != "" {
		log.UserAgent = &entry.UserAgent
	}

	if err := s.repo.Create(ctx, log); err != nil {
		s.logger.Error("failed to persist audit log",
			slog.String("action", string(entry.Action)),
			slog.Any("error", err))
	}
}
