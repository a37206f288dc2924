package types

// X25519Public is a Curve25519 public key. Device keys are X25519 keys.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// GroupSessionAlgorithm names the symmetric scheme used for group content.
const GroupSessionAlgorithm = "strand.xchacha20poly1305.v1"

// GroupSession is an exported inbound group session.
type GroupSession struct {
	StreamID   StreamID  `json:"stream_id"`
	SessionID  SessionID `json:"session_id"`
	SessionKey []byte    `json:"session_key"`
	Algorithm  string    `json:"algorithm"`
}

// SessionBundle is the plaintext sealed to a device in a GroupSessions event.
type SessionBundle struct {
	Sessions []GroupSession `json:"sessions"`
}

// EncryptedContentKind says where the plaintext of an encrypted item belongs
// once decrypted.
type EncryptedContentKind uint8

const (
	ContentMessage EncryptedContentKind = iota
	ContentUsername
	ContentDisplayName
	ContentChannelProperties
)

func (k EncryptedContentKind) String() string {
	switch k {
	case ContentUsername:
		return "username"
	case ContentDisplayName:
		return "displayName"
	case ContentChannelProperties:
		return "channelProperties"
	}
	return "message"
}

// EncryptedContent is a piece of group-encrypted content waiting to be
// decrypted.
type EncryptedContent struct {
	StreamID       StreamID             `json:"stream_id"`
	EventHash      Hash                 `json:"event_hash"`
	Kind           EncryptedContentKind `json:"kind"`
	CreatorAddress Address              `json:"creator_address"`
	Data           EncryptedData        `json:"data"`
}

// DecryptedContent is the plaintext of an EncryptedContent item.
type DecryptedContent struct {
	StreamID       StreamID             `json:"stream_id"`
	EventHash      Hash                 `json:"event_hash"`
	Kind           EncryptedContentKind `json:"kind"`
	CreatorAddress Address              `json:"creator_address"`
	Plaintext      []byte               `json:"plaintext"`
}
