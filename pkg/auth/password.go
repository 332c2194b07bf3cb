package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt ignores input past 72 bytes
)

// Violation codes reported by AssessStrength.
const (
	ViolationTooShort         = "too_short"
	ViolationTooLong          = "too_long"
	ViolationMissingUppercase = "missing_uppercase"
	ViolationMissingLowercase = "missing_lowercase"
	ViolationMissingDigit     = "missing_digit"
	ViolationMissingSymbol    = "missing_symbol"
	ViolationTooCommon        = "too_common"
)

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password1!":  true,
	"password123": true,
	"p@ssw0rd":    true,
	"p@ssw0rd1":   true,
	"qwerty123!":  true,
	"welcome1!":   true,
	"letmein1!":   true,
	"admin123!":   true,
	"changeme1!":  true,
	"iloveyou1!":  true,
}

// Hasher hashes and verifies passwords with bcrypt. The cost is fixed at
// construction.
type Hasher struct {
	cost      int
	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a Hasher using cost, clamped to bcrypt's valid range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a salted bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. A malformed hash is an error;
// a mismatch is (false, nil).
func (h *Hasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
}

// DummyHash returns a hash for equalising timing when no account matched.
// It is computed once per Hasher at the configured cost.
func (h *Hasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		hashed, _ := bcrypt.GenerateFromPassword([]byte("warden-dummy-password"), h.cost)
		h.dummy = string(hashed)
	})
	return h.dummy
}

// StrengthResult lists every rule a password violates.
type StrengthResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations"`
}

// AssessStrength checks password against all rules and reports every
// violation, not just the first.
func AssessStrength(password string) StrengthResult {
	violations := make([]string, 0)

	if len(password) < MinPasswordLen {
		violations = append(violations, ViolationTooShort)
	}
	if len(password) > MaxPasswordLen {
		violations = append(violations, ViolationTooLong)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, ViolationMissingUppercase)
	}
	if !hasLower {
		violations = append(violations, ViolationMissingLowercase)
	}
	if !hasDigit {
		violations = append(violations, ViolationMissingDigit)
	}
	if !hasSymbol {
		violations = append(violations, ViolationMissingSymbol)
	}
	if commonPasswords[strings.ToLower(password)] {
		violations = append(violations, ViolationTooCommon)
	}

	return StrengthResult{Valid: len(violations) == 0, Violations: violations}
}

// GenerateOpaqueToken returns n random bytes, URL-safe base64 encoded.
func GenerateOpaqueToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
