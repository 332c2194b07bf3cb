package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication outcomes. These are expected results surfaced to callers,
// not internal faults.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountNotActive   = errors.New("account is not active")
	ErrInvalidMFACode     = errors.New("invalid MFA code")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrSessionRevoked     = errors.New("session has been revoked or expired")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrDuplicateAccount   = errors.New("an account with this username or email already exists")
	ErrResetTokenInvalid  = errors.New("reset token is invalid, expired or already used")

	ErrMFAAlreadyEnabled    = errors.New("MFA is already enabled")
	ErrMFANotEnabled        = errors.New("MFA is not enabled")
	ErrMFAEnrollmentInvalid = errors.New("MFA enrollment is invalid or has expired")
	ErrVerificationInvalid  = errors.New("verification token is invalid, expired or already used")

	// ErrTransientFailure marks storage or dependency faults. Safe to retry.
	ErrTransientFailure = errors.New("temporary failure, please retry")
)

// LockedError carries the remaining lock time of a locked account.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: try again in %d minute(s)", ErrAccountLocked.Error(), e.RetryAfterMinutes())
}

// Is reports ErrAccountLocked so callers can use errors.Is.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfterSeconds is the remaining lock time rounded up to whole seconds.
func (e *LockedError) RetryAfterSeconds() int {
	secs := e.RetryAfter / time.Second
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// RetryAfterMinutes is the remaining lock time rounded up to whole minutes.
func (e *LockedError) RetryAfterMinutes() int {
	mins := e.RetryAfter / time.Minute
	if e.RetryAfter%time.Minute != 0 {
		mins++
	}
	return int(mins)
}

// WeakPasswordError lists every password rule that was violated.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword.Error(), strings.Join(e.Violations, ", "))
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}
