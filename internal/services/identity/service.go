package identity

import (
	"fmt"
	"unicode"

	"github.com/google/uuid"

	"strand/internal/crypto"
	"strand/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service manages identity key creation and access using a backing store.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity, saves it encrypted with the
// passphrase, and returns it with a short fingerprint of the device key.
// An empty deviceID is replaced by a random one.
func (s *Service) GenerateIdentity(
	passphrase string,
	deviceID string,
) (domain.Identity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	userKey, err := crypto.GenerateKey()
	if err != nil {
		return domain.Identity{}, "", err
	}
	deviceKey, err := crypto.GenerateKey()
	if err != nil {
		return domain.Identity{}, "", err
	}
	delegateSig, err := crypto.MakeDelegateSig(crypto.NewStaticKey(userKey), crypto.PublicKeyBytes(deviceKey))
	if err != nil {
		return domain.Identity{}, "", err
	}
	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{
		UserKey:     crypto.MarshalPrivateKey(userKey),
		DeviceKey:   crypto.MarshalPrivateKey(deviceKey),
		DelegateSig: delegateSig,
		DeviceID:    deviceID,
		XPub:        xPub,
		XPriv:       xPriv,
	}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	return id, Fingerprint(id), nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns a short fingerprint of the local device key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return Fingerprint(id), nil
}

// Fingerprint returns a short fingerprint of id's X25519 device key.
func Fingerprint(id domain.Identity) domain.Fingerprint {
	return domain.Fingerprint(crypto.Fingerprint(id.XPub.Slice()))
}

// UserAddress returns the address events of id are created by.
func UserAddress(id domain.Identity) (domain.Address, error) {
	k, err := crypto.UnmarshalPrivateKey(id.UserKey)
	if err != nil {
		return domain.Address{}, err
	}
	return crypto.NewStaticKey(k).Address(), nil
}

// Signer returns the identity that signs events with the device key on
// behalf of the user.
func Signer(id domain.Identity) (domain.SignerIdentity, error) {
	user, err := UserAddress(id)
	if err != nil {
		return domain.SignerIdentity{}, err
	}
	k, err := crypto.UnmarshalPrivateKey(id.DeviceKey)
	if err != nil {
		return domain.SignerIdentity{}, err
	}
	return domain.SignerIdentity{
		KeySource:      crypto.NewStaticKey(k),
		CreatorAddress: user,
		DelegateSig:    id.DelegateSig,
		DeviceID:       id.DeviceID,
	}, nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
