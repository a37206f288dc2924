package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"strand/internal/domain"
	"strand/internal/util/memzero"
)

var (
	// ErrSealedTooShort is returned for sealed boxes shorter than their header.
	ErrSealedTooShort = errors.New("crypto: sealed box too short")
	// ErrOpen is returned when authentication of a sealed box fails.
	ErrOpen = errors.New("crypto: cannot open sealed box")
)

const sealInfo = "strand-device-seal-v1"

// SealForDevice encrypts plaintext to a device's X25519 key.
//
// Layout: ephemeralPub(32) ‖ nonce(24) ‖ ciphertext. The AEAD key is
// HKDF-SHA256(DH(eph, recipient), salt = ephPub ‖ recipientPub).
func SealForDevice(recipient domain.X25519Public, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(ephPriv[:])

	key, err := sealKey(ephPriv, recipient, ephPub, recipient)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 32+aead.NonceSize(), 32+aead.NonceSize()+len(plaintext)+aead.Overhead())
	copy(out, ephPub[:])
	if _, err := rand.Read(out[32:]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[32:], plaintext, ephPub[:]), nil
}

// OpenFromDevice decrypts a box produced by SealForDevice.
func OpenFromDevice(priv domain.X25519Private, pub domain.X25519Public, sealed []byte) ([]byte, error) {
	if len(sealed) < 32+chacha20poly1305.NonceSizeX {
		return nil, ErrSealedTooShort
	}
	var ephPub domain.X25519Public
	copy(ephPub[:], sealed[:32])

	key, err := sealKey(priv, ephPub, ephPub, pub)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[32 : 32+aead.NonceSize()]
	pt, err := aead.Open(nil, nonce, sealed[32+aead.NonceSize():], ephPub[:])
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}

func sealKey(priv domain.X25519Private, peer, ephPub, recipient domain.X25519Public) ([]byte, error) {
	shared, err := DH(priv, peer)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(shared[:])

	salt := make([]byte, 0, 64)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, recipient[:]...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared[:], salt, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewGroupSessionKey returns a random group session key.
func NewGroupSessionKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GroupSeal encrypts plaintext with a group session key. ad binds the
// ciphertext to its stream and session.
func GroupSeal(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out, plaintext, ad), nil
}

// GroupOpen decrypts a ciphertext produced by GroupSeal.
func GroupOpen(key, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrSealedTooShort
	}
	pt, err := aead.Open(nil, ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():], ad)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
