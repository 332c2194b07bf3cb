package services

import (
	"context"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

type TrustedDeviceStore interface {
	AddTrustedDevice(ctx context.Context, id, digest string) error
}

type DeviceTrustService struct {
	store TrustedDeviceStore
}

func NewDeviceTrustService(store TrustedDeviceStore) *DeviceTrustService {
	return &DeviceTrustService{store: store}
}

// Check derives the device digest for meta and reports whether account already
// trusts it.
func (s *DeviceTrustService) Check(account *models.Account, meta RequestMeta) (string, bool) {
	digest := auth.Fingerprint(meta.UserAgent, meta.IPAddress, meta.DeviceID)
	return digest, auth.IsTrusted(account, digest)
}

// Trust adds digest to the account's trusted set. Repeating it is a no-op.
func (s *DeviceTrustService) Trust(ctx context.Context, account *models.Account, digest string) error {
	if account.HasTrustedDevice(digest) {
		return nil
	}
	if err := s.store.AddTrustedDevice(ctx, account.ID, digest); err != nil {
		return transient("trust device", err)
	}
	account.TrustedDevices = append(account.TrustedDevices, digest)
	return nil
}
