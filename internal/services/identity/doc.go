// Package identity manages creation, encryption and loading of the local identity.
//
// An identity is a secp256k1 user key, a secp256k1 device key the user key
// has delegated signing to, and the device's X25519 encryption key. It is
// persisted sealed with a passphrase via the domain.IdentityStore.
package identity
