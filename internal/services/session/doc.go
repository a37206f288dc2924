// Package session implements the device's group session cryptography.
//
// A Device holds the X25519 device key used to open session bundles sealed
// to this device, and encrypts and decrypts stream content with group
// sessions kept in a domain.GroupSessionStore. Each stream has one outbound
// session this device encrypts with; it is also kept as an inbound session
// so the device can read its own content.
package session
