package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditTrailReader lists persisted audit events of one account.
type AuditTrailReader interface {
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditLog, error)
}

// AuditHandler serves the audit trail to administrators.
type AuditHandler struct {
	reader AuditTrailReader
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditTrailReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: logger}
}

// AuditLogResponse represents an audit log entry in HTTP response
type AuditLogResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	IPAddress *string        `json:"ip_address,omitempty"`
	UserAgent *string        `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// AccountAuditTrail handles GET /auth/admin/accounts/{id}/audit. The route is
// gated on audit.read; limit defaults to 50 and is capped at 200.
func (h *AuditHandler) AccountAuditTrail(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(l, maxAuditLimit)
	}

	logs, err := h.reader.ListByAccount(r.Context(), accountID.String(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	entries := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, auditLogToResponse(l))
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(len(entries)))
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID.String(),
		"entries":    entries,
		"limit":      limit,
	})
}

func auditLogToResponse(l *models.AuditLog) AuditLogResponse {
	return AuditLogResponse{
		ID:        l.ID.String(),
		Action:    string(l.Action),
		Success:   l.Success,
		IPAddress: l.IPAddress,
		UserAgent: l.UserAgent,
		Metadata:  l.Metadata,
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
}
