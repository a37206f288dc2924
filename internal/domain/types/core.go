package types

import "github.com/ethereum/go-ethereum/common"

// Hash is a 32-byte event, miniblock or snapshot hash.
type Hash = common.Hash

// Address is the 20-byte account address derived from a secp256k1 public key.
type Address = common.Address

// HashLength is the byte length of every event hash on the wire.
const HashLength = common.HashLength

// BytesToHash converts b to a Hash, left-padding or truncating as needed.
func BytesToHash(b []byte) Hash { return common.BytesToHash(b) }

// BytesToAddress converts b to an Address.
func BytesToAddress(b []byte) Address { return common.BytesToAddress(b) }

// DeviceKey is the base64 encoding of a device's X25519 public key. Group
// sessions are delivered to devices addressed by this key.
type DeviceKey string

// String returns the string form of the device key.
func (k DeviceKey) String() string { return string(k) }

// SessionID identifies one group session within a stream.
type SessionID string

// String returns the string form of the session identifier.
func (id SessionID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
