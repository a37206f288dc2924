package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strand/internal/domain"
)

// SignatureLength is the length of a recoverable signature: r ‖ s ‖ v.
const SignatureLength = ethcrypto.SignatureLength

// GenerateKey returns a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) { return ethcrypto.GenerateKey() }

// MarshalPrivateKey returns the 32-byte scalar of k.
func MarshalPrivateKey(k *ecdsa.PrivateKey) []byte { return ethcrypto.FromECDSA(k) }

// UnmarshalPrivateKey parses a 32-byte secp256k1 scalar.
func UnmarshalPrivateKey(b []byte) (*ecdsa.PrivateKey, error) {
	k, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, domain.WrapError(domain.CodeBadPublicKey, err, "bad private key")
	}
	return k, nil
}

// PublicKeyBytes returns the 65-byte uncompressed public key of k.
func PublicKeyBytes(k *ecdsa.PrivateKey) []byte { return ethcrypto.FromECDSAPub(&k.PublicKey) }

// Sign produces a 65-byte recoverable signature over a 32-byte hash.
func Sign(hash []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if len(hash) != common.HashLength {
		return nil, domain.NewError(domain.CodeBadHashFormat, "hash has %d bytes", len(hash))
	}
	return ethcrypto.Sign(hash, priv)
}

// Verify reports whether sig over hash was produced by pub.
func Verify(hash, sig, pub []byte) bool {
	if len(hash) != common.HashLength || len(sig) != SignatureLength {
		return false
	}
	return ethcrypto.VerifySignature(pub, hash, sig[:SignatureLength-1])
}

// RecoverPublicKey returns the 65-byte uncompressed public key that signed
// hash. Both v ∈ {0,1} and the personal-message convention v ∈ {27,28}
// are accepted.
func RecoverPublicKey(hash, sig []byte) ([]byte, error) {
	if len(hash) != common.HashLength {
		return nil, domain.NewError(domain.CodeBadHashFormat, "hash has %d bytes", len(hash))
	}
	if len(sig) != SignatureLength {
		return nil, domain.NewError(domain.CodeBadEventSignature, "signature has %d bytes", len(sig))
	}
	pub, err := ethcrypto.Ecrecover(hash, normalizeV(sig))
	if err != nil {
		return nil, domain.WrapError(domain.CodeBadEventSignature, err, "cannot recover signer")
	}
	return pub, nil
}

// PublicKeyToAddress derives the address of a public key: the last 20 bytes
// of keccak256 over the uncompressed key without its 0x04 prefix.
func PublicKeyToAddress(pub []byte) (domain.Address, error) {
	var raw []byte
	switch {
	case len(pub) == 65 && pub[0] == 0x04:
		raw = pub[1:]
	case len(pub) == 64:
		raw = pub
	case len(pub) == 33:
		k, err := ethcrypto.DecompressPubkey(pub)
		if err != nil {
			return domain.Address{}, domain.WrapError(domain.CodeBadPublicKey, err, "bad compressed key")
		}
		raw = ethcrypto.FromECDSAPub(k)[1:]
	default:
		return domain.Address{}, domain.NewError(domain.CodeBadPublicKey, "public key has %d bytes", len(pub))
	}
	return common.BytesToAddress(ethcrypto.Keccak256(raw)[12:]), nil
}

// StaticKey is a KeySource over an in-memory private key.
type StaticKey struct {
	key *ecdsa.PrivateKey
}

// NewStaticKey wraps k as a KeySource.
func NewStaticKey(k *ecdsa.PrivateKey) StaticKey { return StaticKey{key: k} }

// PrivateKey implements domain.KeySource.
func (s StaticKey) PrivateKey() (*ecdsa.PrivateKey, error) {
	if s.key == nil {
		return nil, fmt.Errorf("crypto: empty key source")
	}
	return s.key, nil
}

// Address returns the address of the wrapped key.
func (s StaticKey) Address() domain.Address { return ethcrypto.PubkeyToAddress(s.key.PublicKey) }

func normalizeV(sig []byte) []byte {
	if sig[SignatureLength-1] < 27 {
		return sig
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	out[SignatureLength-1] -= 27
	return out
}

var _ domain.KeySource = StaticKey{}
