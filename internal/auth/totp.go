package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpDigits     = otp.DigitsSix
	backupCodeLen  = 8
	backupCharset  = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	qrCodeSize     = 256
	backupHashSalt = "warden-backup-code"
)

// TOTPManager handles TOTP secrets, backup codes and secret encryption.
type TOTPManager struct {
	encryptionKey []byte
	backupKey     []byte
	issuer        string
	skew          uint
}

// TOTPEnrollment is a freshly generated TOTP secret and its provisioning data.
type TOTPEnrollment struct {
	Secret          string
	EncryptedSecret string
	ProvisioningURI string
	QRCodeDataURL   string
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string, skew uint) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	mac := hmac.New(sha256.New, encryptionKey)
	mac.Write([]byte(backupHashSalt))

	return &TOTPManager{
		encryptionKey: encryptionKey,
		backupKey:     mac.Sum(nil),
		issuer:        issuer,
		skew:          skew,
	}, nil
}

// GenerateEnrollment creates a TOTP secret for accountName, encrypts it and
// renders the provisioning QR code.
func (tm *TOTPManager) GenerateEnrollment(accountName string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, err := tm.EncryptSecret(key.Secret())
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPEnrollment{
		Secret:          key.Secret(),
		EncryptedSecret: encrypted,
		ProvisioningURI: key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// EncryptSecret seals secret with AES-256-GCM. The result is
// base64(nonce || ciphertext).
func (tm *TOTPManager) EncryptSecret(secret string) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecret reverses EncryptSecret.
func (tm *TOTPManager) DecryptSecret(encrypted string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}

	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("encrypted secret too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plain), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ValidateTOTP checks code against secret within ±skew periods of at. On a
// match it returns the matched time step so callers can reject replays.
func (tm *TOTPManager) ValidateTOTP(secret, code string, at time.Time) (int64, bool, error) {
	if len(code) != int(totpDigits) {
		return 0, false, nil
	}

	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	}

	var matched int64
	found := false
	skew := int64(tm.skew)
	for offset := -skew; offset <= skew; offset++ {
		t := at.Add(time.Duration(offset*totpPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, t, opts)
		if err != nil {
			return 0, false, fmt.Errorf("failed to generate TOTP code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !found {
			matched = t.Unix() / totpPeriod
			found = true
		}
	}

	return matched, found, nil
}

// GenerateBackupCodes returns count codes formatted XXXX-XXXX.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		var b strings.Builder
		for j := 0; j < backupCodeLen; j++ {
			if j == backupCodeLen/2 {
				b.WriteByte('-')
			}
			n, err := cryptoRandIntn(len(backupCharset))
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			b.WriteByte(backupCharset[n])
		}
		codes[i] = b.String()
	}
	return codes, nil
}

// NormalizeCode strips separators and whitespace and upper-cases code.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// HashBackupCode returns a keyed digest of a normalized backup code.
func (tm *TOTPManager) HashBackupCode(code string) string {
	mac := hmac.New(sha256.New, tm.backupKey)
	mac.Write([]byte(NormalizeCode(code)))
	return hex.EncodeToString(mac.Sum(nil))
}
