package types

import "crypto/ecdsa"

// KeySource yields the secp256k1 private key used to sign events. It may be
// backed by memory, an encrypted keystore, or an external wallet.
type KeySource interface {
	PrivateKey() (*ecdsa.PrivateKey, error)
}

// SignerIdentity is who signs events built by this client.
//
// Two configurations are valid:
//   - KeySource is the user key and DelegateSig is empty.
//   - KeySource is a device key and DelegateSig is the user key's signature
//     over the device public key. Events then carry DelegateSig so verifiers
//     can chain back to CreatorAddress.
type SignerIdentity struct {
	KeySource      KeySource
	CreatorAddress Address
	DelegateSig    []byte
	DeviceID       string
}

// Identity is the persisted local identity: the user signing key, the
// delegated device signing key and the device's X25519 encryption key.
type Identity struct {
	UserKey     []byte        `json:"user_key"`
	DeviceKey   []byte        `json:"device_key"`
	DelegateSig []byte        `json:"delegate_sig"`
	DeviceID    string        `json:"device_id"`
	XPub        X25519Public  `json:"xpub"`
	XPriv       X25519Private `json:"xpriv"`
}
