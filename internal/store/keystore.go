package store

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"strand/internal/util/memzero"
)

// The current supported version of the sealed blob format.
const keystoreFormatVersion = 1

// Returned when the passphrase is incorrect or the blob has been modified.
var errWrongPassphrase = errors.New("store: wrong passphrase or corrupted identity")

// sealedBlob holds the ciphertext and its KDF parameters.
type sealedBlob struct {
	V      int    `cbor:"1,keyasint"`
	Salt   []byte `cbor:"2,keyasint"`
	N      int    `cbor:"3,keyasint"`
	R      int    `cbor:"4,keyasint"`
	P      int    `cbor:"5,keyasint"`
	Cipher []byte `cbor:"6,keyasint"`
}

// Tunables for scrypt key derivation. Tests lower N.
var scryptN, scryptR, scryptP = 1 << 15, 8, 1

// seal derives a key from passphrase and encrypts raw.
func seal(passphrase string, raw []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// Zero nonce: every seal derives a fresh key from a fresh salt.
	var nonce [chacha20poly1305.NonceSize]byte
	return encMode.Marshal(sealedBlob{
		V:      keystoreFormatVersion,
		Salt:   salt[:],
		N:      scryptN,
		R:      scryptR,
		P:      scryptP,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	})
}

// open decrypts a blob produced by seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var bl sealedBlob
	if err := decMode.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("store: decode sealed blob: %w", err)
	}
	if bl.V > keystoreFormatVersion {
		return nil, fmt.Errorf("store: unsupported keystore version %d", bl.V)
	}
	key, err := scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil {
		return nil, errWrongPassphrase
	}
	return pt, nil
}
