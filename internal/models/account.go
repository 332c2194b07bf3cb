package models

import (
	"slices"
	"time"
)

// AccountStatus is the persisted lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusPendingVerification AccountStatus = "pending_verification"
	AccountStatusActive              AccountStatus = "active"
	AccountStatusInactive            AccountStatus = "inactive"
	AccountStatusSuspended           AccountStatus = "suspended"

	// AccountStatusLocked is never stored. It is reported by EffectiveStatus
	// while a lockout is in force.
	AccountStatusLocked AccountStatus = "locked"
)

// MFAMethod identifies the second factor an account uses.
type MFAMethod string

const (
	MFAMethodNone        MFAMethod = "none"
	MFAMethodTOTP        MFAMethod = "totp"
	MFAMethodBackupCodes MFAMethod = "backup_codes"
)

// Valid reports whether m can be enrolled.
func (m MFAMethod) Valid() bool {
	return m == MFAMethodTOTP || m == MFAMethodBackupCodes
}

// Account is the identity record shared by the auth components. Each
// component owns a disjoint group of fields and updates only those.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Name         string
	Role         Role
	Status       AccountStatus

	// Lockout tracker
	FailedAttempts int
	LockedUntil    *time.Time

	// MFA engine. MFASecret is AES-GCM encrypted; BackupCodes hold hashes.
	MFAEnabled      bool
	MFAMethod       MFAMethod
	MFASecret       string
	BackupCodes     []string
	MFALastUsedStep int64
	MFAEnrollment   *MFAEnrollment

	// Device trust engine
	TrustedDevices []string

	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLocked reports whether a lockout is in force at now. The lock ends
// exactly at LockedUntil.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// EffectiveStatus folds the lockout state into the persisted status.
func (a *Account) EffectiveStatus(now time.Time) AccountStatus {
	if a.Status == AccountStatusActive && a.IsLocked(now) {
		return AccountStatusLocked
	}
	return a.Status
}

// HasTrustedDevice reports membership of digest in the trusted set.
func (a *Account) HasTrustedDevice(digest string) bool {
	return slices.Contains(a.TrustedDevices, digest)
}

// NewAccount holds the fields required to create an account.
type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	Name         string
	Role         Role
	Status       AccountStatus
}
