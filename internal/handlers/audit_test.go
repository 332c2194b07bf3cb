package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/models"
)

type mockAuditReader struct {
	ListByAccountFunc func(ctx context.Context, accountID string, limit int) ([]*models.AuditLog, error)
}

func (m *mockAuditReader) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditLog, error) {
	return m.ListByAccountFunc(ctx, accountID, limit)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAuditHandler_AccountAuditTrail(t *testing.T) {
	accountID := uuid.New().String()
	ip := "203.0.113.9"

	t.Run("lists entries", func(t *testing.T) {
		var gotLimit int
		reader := &mockAuditReader{
			ListByAccountFunc: func(_ context.Context, id string, limit int) ([]*models.AuditLog, error) {
				assert.Equal(t, accountID, id)
				gotLimit = limit
				return []*models.AuditLog{{
					ID:        uuid.New(),
					Action:    models.AuditActionLoginFailed,
					AccountID: &id,
					IPAddress: &ip,
					Metadata:  models.AuditMetadata{"reason": "bad_password"},
					CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
				}}, nil
			},
		}
		h := NewAuditHandler(reader, discardLogger())

		req := withURLParam(NewTestRequest(t, http.MethodGet, "/auth/admin/accounts/"+accountID+"/audit", nil), "id", accountID)
		w := httptest.NewRecorder()
		h.AccountAuditTrail(w, req)

		var body struct {
			AccountID string             `json:"account_id"`
			Entries   []AuditLogResponse `json:"entries"`
			Limit     int                `json:"limit"`
		}
		AssertJSONResponse(t, w, http.StatusOK, &body)
		assert.Equal(t, defaultAuditLimit, gotLimit)
		assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
		require.Len(t, body.Entries, 1)
		assert.Equal(t, "login_failed", body.Entries[0].Action)
		assert.Equal(t, "2026-01-02T03:04:05Z", body.Entries[0].CreatedAt)
		assert.Equal(t, ip, *body.Entries[0].IPAddress)
	})

	t.Run("limit is capped", func(t *testing.T) {
		var gotLimit int
		reader := &mockAuditReader{
			ListByAccountFunc: func(_ context.Context, _ string, limit int) ([]*models.AuditLog, error) {
				gotLimit = limit
				return nil, nil
			},
		}
		h := NewAuditHandler(reader, discardLogger())

		req := withURLParam(NewTestRequest(t, http.MethodGet, "/audit?limit=5000", nil), "id", accountID)
		w := httptest.NewRecorder()
		h.AccountAuditTrail(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, maxAuditLimit, gotLimit)
	})

	t.Run("bad input", func(t *testing.T) {
		h := NewAuditHandler(&mockAuditReader{}, discardLogger())

		tests := []struct {
			name string
			id   string
			url  string
		}{
			{"invalid id", "not-a-uuid", "/audit"},
			{"negative limit", accountID, "/audit?limit=-1"},
			{"non numeric limit", accountID, "/audit?limit=ten"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := withURLParam(NewTestRequest(t, http.MethodGet, tt.url, nil), "id", tt.id)
				w := httptest.NewRecorder()
				h.AccountAuditTrail(w, req)
				AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
			})
		}
	})

	t.Run("store failure", func(t *testing.T) {
		reader := &mockAuditReader{
			ListByAccountFunc: func(context.Context, string, int) ([]*models.AuditLog, error) {
				return nil, errors.New("connection reset")
			},
		}
		h := NewAuditHandler(reader, discardLogger())

		req := withURLParam(NewTestRequest(t, http.MethodGet, "/audit", nil), "id", accountID)
		w := httptest.NewRecorder()
		h.AccountAuditTrail(w, req)
		AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
	})
}
