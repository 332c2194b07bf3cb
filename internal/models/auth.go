package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType tags a signed token with its purpose. A token of one type never
// validates as another.
type TokenType string

const (
	TokenTypeAccess       TokenType = "access"
	TokenTypeRefresh      TokenType = "refresh"
	TokenTypeMFAChallenge TokenType = "mfa_challenge"
	TokenTypeMFASetup     TokenType = "mfa_setup"
)

// TokenClaims is the claim set of every token the service issues.
type TokenClaims struct {
	Type      TokenType `json:"typ"`
	AccountID string    `json:"aid"`
	SessionID string    `json:"sid,omitempty"`
	Role      Role      `json:"role,omitempty"`

	// EnrollmentID binds a setup token to one enrollment attempt.
	EnrollmentID string `json:"eid,omitempty"`
	// RememberMe carries the login choice through an MFA challenge.
	RememberMe bool `json:"rm,omitempty"`
	jwt.RegisteredClaims
}
