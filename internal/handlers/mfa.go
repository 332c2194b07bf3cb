package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// MFAServiceInterface is the MFA management part of the auth service.
type MFAServiceInterface interface {
	EnableMFA(ctx context.Context, claims *models.TokenClaims, method models.MFAMethod, meta services.RequestMeta) (*models.MFASetupResponse, error)
	VerifyMFASetup(ctx context.Context, claims *models.TokenClaims, setupToken, code string, meta services.RequestMeta) error
	DisableMFA(ctx context.Context, claims *models.TokenClaims, password string, meta services.RequestMeta) error
	MFAStatus(ctx context.Context, claims *models.TokenClaims) (models.MFAStatus, error)
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	service  MFAServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(service MFAServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

func (h *MFAHandler) meta(r *http.Request) services.RequestMeta {
	m := pkghttp.ExtractRequestMeta(r, h.ipConfig)
	return services.RequestMeta{IPAddress: m.IPAddress, UserAgent: m.UserAgent, DeviceID: m.DeviceID}
}

// Enable handles POST /auth/mfa/enable. The secret and backup codes in the
// response are never shown again.
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req EnableMFARequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	setup, err := h.service.EnableMFA(r.Context(), claims, req.Method, h.meta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// VerifySetup handles POST /auth/mfa/verify
func (h *MFAHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req VerifyMFASetupRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.VerifyMFASetup(r.Context(), claims, req.SetupToken, req.Code, h.meta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"mfa_enabled": true})
}

// Disable handles POST /auth/mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req DisableMFARequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.DisableMFA(r.Context(), claims, req.CurrentPassword, h.meta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"mfa_enabled": false})
}

// Status handles GET /auth/mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.service.MFAStatus(r.Context(), claims)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}
