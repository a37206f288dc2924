package crypto

import (
	"github.com/ethereum/go-ethereum/accounts"

	"strand/internal/domain"
)

// MakeDelegateSig signs DomainHash(devicePub) with the user key, authorizing
// the device key to sign events on the user's behalf.
func MakeDelegateSig(userKey domain.KeySource, devicePub []byte) ([]byte, error) {
	priv, err := userKey.PrivateKey()
	if err != nil {
		return nil, err
	}
	h := DomainHash(devicePub)
	return Sign(h[:], priv)
}

// MakeLegacyDelegateSig signs the personal-message hash of the raw device
// key, as older wallets did. The recovery byte uses the 27/28 convention.
func MakeLegacyDelegateSig(userKey domain.KeySource, devicePub []byte) ([]byte, error) {
	priv, err := userKey.PrivateKey()
	if err != nil {
		return nil, err
	}
	sig, err := Sign(accounts.TextHash(devicePub), priv)
	if err != nil {
		return nil, err
	}
	sig[SignatureLength-1] += 27
	return sig, nil
}

// CheckDelegateSig verifies that creator authorized devicePub. The legacy
// personal-message form is tried first, then the domain-hash form.
func CheckDelegateSig(creator domain.Address, devicePub, sig []byte) error {
	if len(sig) != SignatureLength {
		return domain.NewError(domain.CodeBadDelegateSig, "delegate signature has %d bytes", len(sig))
	}
	if recoversTo(accounts.TextHash(devicePub), sig, creator) {
		return nil
	}
	h := DomainHash(devicePub)
	if recoversTo(h[:], sig, creator) {
		return nil
	}
	return domain.NewError(domain.CodeBadDelegateSig, "delegate signature does not match creator %s", creator.Hex())
}

func recoversTo(hash, sig []byte, want domain.Address) bool {
	pub, err := RecoverPublicKey(hash, sig)
	if err != nil {
		return false
	}
	addr, err := PublicKeyToAddress(pub)
	return err == nil && addr == want
}
