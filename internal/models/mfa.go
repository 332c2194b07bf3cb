package models

import "time"

// MFAEnrollment is a pending, unverified MFA setup. It does not gate login
// until it is committed.
type MFAEnrollment struct {
	ID          string
	Method      MFAMethod
	Secret      string   // encrypted TOTP secret, empty for backup_codes
	BackupCodes []string // hashes
	ExpiresAt   time.Time
}

// MFARequiredResponse is returned when a password login needs a second factor.
type MFARequiredResponse struct {
	MFARequired bool   `json:"mfa_required"`
	MFAToken    string `json:"mfa_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// MFASetupResponse contains the material for a new enrollment. Secrets and
// backup codes are shown exactly once.
type MFASetupResponse struct {
	Method          MFAMethod `json:"method"`
	Secret          string    `json:"secret,omitempty"`
	ProvisioningURI string    `json:"provisioning_uri,omitempty"`
	QRCode          string    `json:"qr_code,omitempty"`
	BackupCodes     []string  `json:"backup_codes"`
	SetupToken      string    `json:"setup_token"`
	ExpiresIn       int       `json:"expires_in"`
}

// MFAStatus summarises an account's MFA configuration.
type MFAStatus struct {
	Enabled              bool      `json:"mfa_enabled"`
	Method               MFAMethod `json:"method"`
	BackupCodesRemaining int       `json:"backup_codes_remaining"`
}
