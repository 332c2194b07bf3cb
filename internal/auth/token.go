package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "warden"

// TokenManager signs and validates typed JWTs. Each token type is signed with
// its own key derived from the root secret, so a token minted for one purpose
// cannot pass signature verification for another.
type TokenManager struct {
	keys map[models.TokenType][]byte
	now  func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string) *TokenManager {
	types := []models.TokenType{
		models.TokenTypeAccess,
		models.TokenTypeRefresh,
		models.TokenTypeMFAChallenge,
		models.TokenTypeMFASetup,
	}

	keys := make(map[models.TokenType][]byte, len(types))
	for _, t := range types {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte("warden-token:" + string(t)))
		keys[t] = mac.Sum(nil)
	}

	return &TokenManager{keys: keys, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// Issue signs claims as a token of claims.Type expiring at expiresAt.
func (tm *TokenManager) Issue(claims models.TokenClaims, expiresAt time.Time) (string, error) {
	key, ok := tm.keys[claims.Type]
	if !ok {
		return "", fmt.Errorf("unknown token type %q", claims.Type)
	}

	now := tm.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    tokenIssuer,
		Subject:   claims.AccountID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// GenerateAccessToken creates a short-lived access token bound to a session.
func (tm *TokenManager) GenerateAccessToken(accountID, sessionID string, role models.Role, expiresAt time.Time) (string, error) {
	return tm.Issue(models.TokenClaims{
		Type:      models.TokenTypeAccess,
		AccountID: accountID,
		SessionID: sessionID,
		Role:      role,
	}, expiresAt)
}

// GenerateRefreshToken creates a refresh token bound to a session.
func (tm *TokenManager) GenerateRefreshToken(accountID, sessionID string, expiresAt time.Time) (string, error) {
	return tm.Issue(models.TokenClaims{
		Type:      models.TokenTypeRefresh,
		AccountID: accountID,
		SessionID: sessionID,
	}, expiresAt)
}

// GenerateMFAChallengeToken creates the token that completes an MFA login.
func (tm *TokenManager) GenerateMFAChallengeToken(accountID string, rememberMe bool, ttl time.Duration) (string, error) {
	return tm.Issue(models.TokenClaims{
		Type:       models.TokenTypeMFAChallenge,
		AccountID:  accountID,
		RememberMe: rememberMe,
	}, tm.now().Add(ttl))
}

// GenerateSetupToken creates the token that completes one MFA enrollment.
func (tm *TokenManager) GenerateSetupToken(accountID, enrollmentID string, expiresAt time.Time) (string, error) {
	return tm.Issue(models.TokenClaims{
		Type:         models.TokenTypeMFASetup,
		AccountID:    accountID,
		EnrollmentID: enrollmentID,
	}, expiresAt)
}

// ValidateToken verifies signature, expiry and type. It returns
// ErrTokenExpired for an otherwise valid but expired token and ErrTokenInvalid
// for everything else.
func (tm *TokenManager) ValidateToken(tokenString string, expected models.TokenType) (*models.TokenClaims, error) {
	key, ok := tm.keys[expected]
	if !ok {
		return nil, models.ErrTokenInvalid
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	if !token.Valid || claims.Type != expected || claims.AccountID == "" {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}
