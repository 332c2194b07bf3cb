package models

import "time"

// PasswordResetToken is a single-use reset credential. Only the token hash is
// stored.
type PasswordResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// IsValid reports whether the token can still be consumed at now.
func (t *PasswordResetToken) IsValid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}
