package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired"
	SessionStatusRevoked SessionStatus = "revoked"
)

// Session binds a device context to an account across token rotations.
// Only the SHA-256 of the current refresh token is stored.
type Session struct {
	ID                string
	AccountID         string
	RefreshTokenHash  string
	Status            SessionStatus
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	RememberMe        bool
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevokeReason      string
}

// IsUsable reports whether the session can still authenticate at now.
func (s *Session) IsUsable(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.ExpiresAt)
}

// SessionContext is the request context a session is created from.
type SessionContext struct {
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	RememberMe        bool
}

// TokenPair is an access/refresh pair issued for a session.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	TokenType             string    `json:"token_type"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	SessionID             string    `json:"session_id"`
}
