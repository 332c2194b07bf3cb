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

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.AccountResponse, error)
	VerifyEmail(ctx context.Context, token string, meta services.RequestMeta) error
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	VerifyMFALogin(ctx context.Context, in services.MFALoginInput) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*models.TokenPair, error)
	Logout(ctx context.Context, claims *models.TokenClaims, sessionID string, all bool, meta services.RequestMeta) error
	ChangePassword(ctx context.Context, claims *models.TokenClaims, current, next string, meta services.RequestMeta) error
	RequestPasswordReset(ctx context.Context, email string, meta services.RequestMeta)
	ResetPassword(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
	Profile(ctx context.Context, claims *models.TokenClaims) (*services.AccountResponse, []models.Permission, error)
	ListSessions(ctx context.Context, claims *models.TokenClaims) ([]services.SessionResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,excludesall=@ "`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"max=128"`
}

// LoginRequest accepts a username or email as login.
type LoginRequest struct {
	Login      string `json:"login" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	MFACode    string `json:"mfa_code,omitempty" validate:"max=32"`
	RememberMe bool   `json:"remember_me"`
}

// MFAChallengeRequest completes a login that returned an MFA challenge.
type MFAChallengeRequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
	Code     string `json:"code" validate:"required,max=32"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest ends the caller's session, another of its sessions, or all.
type LogoutRequest struct {
	SessionID string `json:"session_id,omitempty" validate:"omitempty,uuid"`
	All       bool   `json:"all"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// Response DTOs

// LoginResponse is a token pair plus the caller's profile.
type LoginResponse struct {
	*models.TokenPair
	Account     *services.AccountResponse `json:"account"`
	Permissions []models.Permission       `json:"permissions"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ProfileResponse is returned by GET /auth/me.
type ProfileResponse struct {
	Account     *services.AccountResponse `json:"account"`
	Permissions []models.Permission       `json:"permissions"`
}

func (h *AuthHandler) meta(r *http.Request) services.RequestMeta {
	m := pkghttp.ExtractRequestMeta(r, h.ipConfig)
	return services.RequestMeta{IPAddress: m.IPAddress, UserAgent: m.UserAgent, DeviceID: m.DeviceID}
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, res *services.LoginResult) {
	if res.MFA != nil {
		pkghttp.WriteJSON(w, http.StatusOK, res.MFA)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		TokenPair:   res.Tokens,
		Account:     res.Account,
		Permissions: res.Permissions,
	})
}

// Register handles account registration
// @Summary Register an account
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} services.AccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	account, err := h.service.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, h.meta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]any{
		"account":               account,
		"verification_required": true,
	})
}

// VerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token, h.meta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email verified. You can now log in."})
}

// Login handles password login
// @Summary Log in with username or email
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.service.Login(r.Context(), services.LoginInput{
		Login:      req.Login,
		Password:   req.Password,
		MFACode:    req.MFACode,
		RememberMe: req.RememberMe,
		Meta:       h.meta(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeLoginResult(w, res)
}

// MFAChallenge handles POST /auth/mfa/challenge
func (h *AuthHandler) MFAChallenge(w http.ResponseWriter, r *http.Request) {
	var req MFAChallengeRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.service.VerifyMFALogin(r.Context(), services.MFALoginInput{
		MFAToken: req.MFAToken,
		Code:     req.Code,
		Meta:     h.meta(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeLoginResult(w, res)
}

// Refresh handles token refresh
// @Summary Rotate a refresh token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, h.meta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout handles POST /auth/logout. The body is optional.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req LogoutRequest
	if err := decodeAndValidate(w, r, &req, true); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.Logout(r.Context(), claims, req.SessionID, req.All, h.meta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// ChangePassword handles POST /auth/password/change. Every session of the
// account, including this one, is revoked.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims, req.CurrentPassword, req.NewPassword, h.meta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message":         "Password changed. Please log in again.",
		"reauth_required": true,
	})
}

// RequestPasswordReset handles POST /auth/password/reset-request. The
// response is the same whether or not the email is registered.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.service.RequestPasswordReset(r.Context(), req.Email, h.meta(r))
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Message: "If an account exists with this email, a password reset link has been sent.",
	})
}

// ResetPassword handles POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, h.meta(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset. Please log in."})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	account, perms, err := h.service.Profile(r.Context(), claims)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ProfileResponse{Account: account, Permissions: perms})
}

// Sessions handles GET /auth/sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
