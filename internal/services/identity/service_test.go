package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"strand/internal/domain"
	"strand/internal/protocol/events"
)

const passphrase = "Correct-Horse-9"

type memStore struct {
	pass string
	id   *domain.Identity
}

func (m *memStore) SaveIdentity(pass string, id domain.Identity) error {
	m.pass, m.id = pass, &id
	return nil
}

func (m *memStore) LoadIdentity(pass string) (domain.Identity, error) {
	if m.id == nil || pass != m.pass {
		return domain.Identity{}, errors.New("no identity")
	}
	return *m.id, nil
}

func (m *memStore) HasIdentity() (bool, error) { return m.id != nil, nil }

func TestGenerateIdentity(t *testing.T) {
	st := &memStore{}
	svc := New(st)

	id, fp, err := svc.GenerateIdentity(passphrase, "")
	require.NoError(t, err)
	require.NotEmpty(t, id.DeviceID)
	require.Len(t, string(fp), 20)

	got, err := svc.FingerprintIdentity(passphrase)
	require.NoError(t, err)
	require.Equal(t, fp, got)

	loaded, err := svc.LoadIdentity(passphrase)
	require.NoError(t, err)
	require.Equal(t, id, loaded)
}

func TestWeakPassphrase(t *testing.T) {
	svc := New(&memStore{})
	for _, p := range []string{"short", "alllowercase1!", "NoDigitsHere!!", "NoSymbols12345"} {
		_, _, err := svc.GenerateIdentity(p, "dev")
		require.ErrorIs(t, err, ErrWeakPassphrase, p)
	}
}

// Events signed by the device key verify back to the user address.
func TestSignerDelegates(t *testing.T) {
	svc := New(&memStore{})
	id, _, err := svc.GenerateIdentity(passphrase, "laptop")
	require.NoError(t, err)

	signer, err := Signer(id)
	require.NoError(t, err)
	user, err := UserAddress(id)
	require.NoError(t, err)
	require.Equal(t, user, signer.CreatorAddress)
	require.Equal(t, "laptop", signer.DeviceID)

	streamID, err := domain.UserStreamID(domain.KindUser, user)
	require.NoError(t, err)
	env, err := events.BuildEvent(signer, domain.Payload{Inception: &domain.Inception{StreamID: streamID}}, nil)
	require.NoError(t, err)

	pe, err := events.VerifyEnvelope(env)
	require.NoError(t, err)
	require.Equal(t, user, pe.Creator())
}
