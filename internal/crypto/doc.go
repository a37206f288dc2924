// Package crypto exposes the primitives used by strand.
//
// Contents
//
//   - Domain-separated keccak-256 hashing of events and snapshots
//     (DomainHash, SnapshotHash)
//   - secp256k1 recoverable signatures and address derivation (Sign, Verify,
//     RecoverPublicKey, PublicKeyToAddress)
//   - Device delegation (MakeDelegateSig, MakeLegacyDelegateSig,
//     CheckDelegateSig)
//   - X25519 device keys and sealed boxes for device-to-device delivery
//     (GenerateX25519, SealForDevice, OpenFromDevice)
//   - Group session encryption (GroupSeal, GroupOpen)
//   - Device key ids and grouped fingerprints for display (KeyID,
//     Fingerprint)
//
// # Notes
//
// Signatures are 65 bytes, r ‖ s ‖ v. Hashes must be exactly 32 bytes;
// anything else fails with BAD_HASH_FORMAT.
package crypto
