package handlers

import "github.com/BradenHooton/warden/internal/models"

// EnableMFARequest starts an enrollment for method.
type EnableMFARequest struct {
	Method models.MFAMethod `json:"method" validate:"required,oneof=totp backup_codes"`
}

// VerifyMFASetupRequest confirms a pending enrollment. Code is a TOTP code
// for totp enrollments and one of the issued backup codes otherwise.
type VerifyMFASetupRequest struct {
	SetupToken string `json:"setup_token" validate:"required"`
	Code       string `json:"code" validate:"required,max=32"`
}

// DisableMFARequest re-checks the password before MFA is turned off.
type DisableMFARequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
}
