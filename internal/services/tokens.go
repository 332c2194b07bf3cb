package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/BradenHooton/warden/internal/models"
)

// hashToken is the at-rest form of opaque and refresh tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// transient marks err as ErrTransientFailure unless it already is one.
func transient(op string, err error) error {
	if errors.Is(err, models.ErrTransientFailure) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrTransientFailure, err)
}
