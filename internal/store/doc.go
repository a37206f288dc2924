// Package store persists a device's state in a bbolt database.
//
// One file holds:
//   - the local identity, sealed with a passphrase (scrypt + ChaCha20-Poly1305)
//   - inbound group sessions, one nested bucket per stream
//   - the current outbound group session of each stream
//   - the cleartext cache of decrypted content, keyed by event hash
//
// Records are CBOR encoded. All methods are safe for concurrent use.
package store
