package models

import "time"

// LoginAttempt is an append-only record of one login attempt. AccountID is
// nil when the login identifier did not resolve to an account.
type LoginAttempt struct {
	ID                string
	Login             string
	AccountID         *string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Success           bool
	FailureReason     *string
	AttemptedAt       time.Time
}
