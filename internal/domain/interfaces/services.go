package interfaces

import (
	"context"

	domaintypes "strand/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects the local identity.
type IdentityService interface {
	GenerateIdentity(passphrase, deviceID string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// DeviceKeyDirectory publishes this device's key and looks up the devices
// of other users.
type DeviceKeyDirectory interface {
	Upload(ctx context.Context) error
	DeviceKeys(ctx context.Context, user domaintypes.Address) ([]domaintypes.DeviceKeyUpload, error)
}
