package models

import (
	"time"
)

// EmailVerificationToken activates a pending account once consumed.
type EmailVerificationToken struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	TokenHash string     `json:"-"`
	Email     string     `json:"email"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsValid checks the token is unused and unexpired at now.
func (t *EmailVerificationToken) IsValid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
