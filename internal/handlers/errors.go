package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// writeServiceError maps the auth error taxonomy onto HTTP. Messages never
// say whether an account exists.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var locked *models.LockedError
	var weak *models.WeakPasswordError
	var invalid *ValidationError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, locked.Error(), locked.RetryAfterSeconds())
	case errors.As(err, &weak):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", models.ErrWeakPassword.Error(), map[string][]string{
			"violations": weak.Violations,
		})
	case errors.As(err, &invalid):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "request validation failed", invalid.Fields)
	case errors.Is(err, errInvalidBody):
		pkghttp.WriteBadRequest(w, "Invalid request body")

	case errors.Is(err, models.ErrTransientFailure):
		pkghttp.WriteServiceUnavailable(w, "temporary failure, please retry")

	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid login or password")
	case errors.Is(err, models.ErrInvalidMFACode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "invalid MFA code")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "token has expired")
	case errors.Is(err, models.ErrSessionRevoked):
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_revoked", "session is no longer active")
	case errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
	case errors.Is(err, models.ErrAccountNotActive):
		pkghttp.WriteError(w, http.StatusForbidden, "account_not_active", "account is not active")

	case errors.Is(err, models.ErrDuplicateAccount):
		pkghttp.WriteConflict(w, models.ErrDuplicateAccount.Error())
	case errors.Is(err, models.ErrResetTokenInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_reset_token", models.ErrResetTokenInvalid.Error())
	case errors.Is(err, models.ErrVerificationInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_verification_token", models.ErrVerificationInvalid.Error())
	case errors.Is(err, models.ErrMFAAlreadyEnabled):
		pkghttp.WriteError(w, http.StatusBadRequest, "mfa_already_enabled", models.ErrMFAAlreadyEnabled.Error())
	case errors.Is(err, models.ErrMFANotEnabled):
		pkghttp.WriteError(w, http.StatusBadRequest, "mfa_not_enabled", models.ErrMFANotEnabled.Error())
	case errors.Is(err, models.ErrMFAEnrollmentInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_setup_token", models.ErrMFAEnrollmentInvalid.Error())
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteError(w, http.StatusNotFound, "not_found", "resource not found")

	default:
		logger.ErrorContext(r.Context(), "unhandled service error",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
