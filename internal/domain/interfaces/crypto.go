package interfaces

import (
	"context"

	domaintypes "strand/internal/domain/types"
)

// CryptoDevice is the device's key material: its X25519 device key and the
// group sessions it holds.
type CryptoDevice interface {
	DeviceKey() domaintypes.DeviceKey
	FallbackKey() string

	// Device-to-device delivery.
	DecryptWithDeviceKey(ciphertext []byte, senderKey domaintypes.DeviceKey) ([]byte, error)
	EncryptForDevice(plaintext []byte, recipient domaintypes.DeviceKey) ([]byte, error)

	// Inbound group sessions.
	HasInboundGroupSession(streamID domaintypes.StreamID, sessionID domaintypes.SessionID) (bool, error)
	ImportSessionKeys(streamID domaintypes.StreamID, sessions []domaintypes.GroupSession) error
	ExportInboundGroupSession(
		streamID domaintypes.StreamID,
		sessionID domaintypes.SessionID,
	) (*domaintypes.GroupSession, error)
	GetInboundGroupSessionIDs(streamID domaintypes.StreamID) ([]domaintypes.SessionID, error)

	// Group content.
	EncryptGroup(streamID domaintypes.StreamID, plaintext []byte) (domaintypes.EncryptedData, error)
	DecryptGroup(streamID domaintypes.StreamID, data domaintypes.EncryptedData) ([]byte, error)
}

// Entitlements answers on-chain permission questions.
type Entitlements interface {
	IsEntitled(
		ctx context.Context,
		spaceID domaintypes.StreamID,
		channelID domaintypes.StreamID,
		user domaintypes.Address,
		permission domaintypes.Permission,
	) (bool, error)
}

// KeyExchangeClient is what the key exchange scheduler uses to act on the
// network.
type KeyExchangeClient interface {
	UserAddress() domaintypes.Address
	UploadDeviceKeys(ctx context.Context) error
	DownloadInbox(ctx context.Context) error
	AckInbox(ctx context.Context, miniblockNum int64) error
	SendKeySolicitation(
		ctx context.Context,
		streamID domaintypes.StreamID,
		solicitation domaintypes.KeySolicitation,
	) error
	SendKeyFulfillment(
		ctx context.Context,
		streamID domaintypes.StreamID,
		fulfillment domaintypes.KeyFulfillment,
	) error
	ShareSessions(
		ctx context.Context,
		streamID domaintypes.StreamID,
		toUser domaintypes.Address,
		toDevice domaintypes.DeviceKey,
		sessions []domaintypes.GroupSession,
	) error
}
