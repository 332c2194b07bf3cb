package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
)

// Fingerprint derives a fixed-length digest of the device triple. Fields are
// length-prefixed so distinct triples never share an encoding.
func Fingerprint(userAgent, ipAddress, deviceID string) string {
	h := sha256.New()
	for _, part := range []string{userAgent, ipAddress, deviceID} {
		part = strings.TrimSpace(part)
		var n [4]byte
		l := len(part)
		n[0], n[1], n[2], n[3] = byte(l>>24), byte(l>>16), byte(l>>8), byte(l)
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsTrusted reports whether digest is in the account's trusted set.
func IsTrusted(account *models.Account, digest string) bool {
	return account != nil && account.HasTrustedDevice(digest)
}
