package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"strand/internal/domain"
)

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], pb)
	return
}

// DH computes X25519 Diffie–Hellman.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

// DeviceKeyOf encodes an X25519 public key as a device key.
func DeviceKeyOf(pub domain.X25519Public) domain.DeviceKey {
	return domain.DeviceKey(base64.RawStdEncoding.EncodeToString(pub[:]))
}

// ParseDeviceKey decodes a device key back to its X25519 public key.
func ParseDeviceKey(k domain.DeviceKey) (domain.X25519Public, error) {
	var pub domain.X25519Public
	b, err := base64.RawStdEncoding.DecodeString(string(k))
	if err != nil {
		return pub, fmt.Errorf("crypto: bad device key: %w", err)
	}
	if len(b) != len(pub) {
		return pub, fmt.Errorf("crypto: device key has %d bytes", len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
