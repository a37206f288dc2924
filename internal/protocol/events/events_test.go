package events_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strand/internal/crypto"
	"strand/internal/domain"
	"strand/internal/protocol/events"
	"strand/internal/protocol/events/eventstest"
)

func messagePayload(text string) domain.Payload {
	return domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte(text),
		Algorithm:  domain.GroupSessionAlgorithm,
		SessionID:  "s1",
	}}}
}

func TestBuildVerify_RoundTrip(t *testing.T) {
	user := eventstest.NewSigner(t)
	prev := crypto.DomainHash([]byte("prev"))
	payload := messagePayload("hello")

	env, err := events.BuildEvent(user.Identity, payload, events.HashesToBytes([]domain.Hash{prev}))
	require.NoError(t, err)
	require.Equal(t, crypto.DomainHash(env.Event), env.Hash)

	pe, err := events.VerifyEnvelope(env)
	require.NoError(t, err)
	require.Equal(t, user.Address, pe.Creator())
	require.Equal(t, []domain.Hash{prev}, pe.PrevEventHashes)
	require.Equal(t, payload, pe.Event.Payload)
	require.Equal(t, domain.PayloadMessage, pe.Case())
	require.Len(t, pe.Event.Salt, domain.SaltLength)
}

func TestBuildVerify_Inception(t *testing.T) {
	user := eventstest.NewSigner(t)
	id, err := domain.RandomStreamID(domain.KindChannel)
	require.NoError(t, err)

	env, err := events.BuildEvent(user.Identity, domain.Payload{Inception: &domain.Inception{StreamID: id}}, nil)
	require.NoError(t, err)

	pe, err := events.VerifyEnvelope(env)
	require.NoError(t, err)
	require.Empty(t, pe.PrevEventHashes)
	require.Equal(t, id, pe.Event.Payload.Inception.StreamID)
}

func TestBuildEvent_Rejects(t *testing.T) {
	user := eventstest.NewSigner(t)
	prev := crypto.DomainHash([]byte("prev"))

	_, err := events.BuildEvent(user.Identity, domain.Payload{}, events.HashesToBytes([]domain.Hash{prev}))
	require.ErrorIs(t, err, domain.ErrBadPayload)

	two := messagePayload("x")
	two.Username = &domain.Username{}
	_, err = events.BuildEvent(user.Identity, two, events.HashesToBytes([]domain.Hash{prev}))
	require.ErrorIs(t, err, domain.ErrBadPayload)

	_, err = events.BuildEvent(user.Identity, messagePayload("x"), nil)
	require.ErrorIs(t, err, domain.ErrBadPrevEvents)

	_, err = events.BuildEvent(user.Identity, messagePayload("x"), [][]byte{prev[:31]})
	require.ErrorIs(t, err, domain.ErrBadPrevEvents)
}

func TestVerifyEnvelope_TamperedEvent(t *testing.T) {
	user := eventstest.NewSigner(t)
	env := user.Envelope(t, messagePayload("hello"), crypto.DomainHash([]byte("prev")))

	for _, i := range []int{0, len(env.Event) / 2, len(env.Event) - 1} {
		tampered := env
		tampered.Event = append([]byte(nil), env.Event...)
		tampered.Event[i] ^= 0x01

		_, err := events.VerifyEnvelope(tampered)
		require.ErrorIs(t, err, domain.ErrBadEventID, "bit flip at %d", i)
	}
}

func TestVerifyEnvelope_ForeignSignature(t *testing.T) {
	user := eventstest.NewSigner(t)
	stranger := eventstest.NewSigner(t)
	env := user.Envelope(t, messagePayload("hello"), crypto.DomainHash([]byte("prev")))

	sig, err := crypto.Sign(env.Hash[:], stranger.Key)
	require.NoError(t, err)
	env.Signature = sig

	_, err = events.VerifyEnvelope(env)
	require.ErrorIs(t, err, domain.ErrBadEventSignature)

	env.Signature = sig[:20]
	_, err = events.VerifyEnvelope(env)
	require.ErrorIs(t, err, domain.ErrBadEventSignature)
}

func TestVerifyEnvelope_DelegateChain(t *testing.T) {
	user := eventstest.NewSigner(t)
	device := eventstest.NewDevice(t, user)

	pe := device.Parsed(t, messagePayload("from device"), crypto.DomainHash([]byte("prev")))
	require.Equal(t, user.Address, pe.Creator())
	require.NotEmpty(t, pe.Event.DelegateSig)
	require.Equal(t, crypto.PublicKeyBytes(device.Key), pe.SignerPubKey)
}

func TestVerifyEnvelope_LegacyDelegate(t *testing.T) {
	user := eventstest.NewSigner(t)
	device := eventstest.NewDevice(t, user)
	legacy, err := crypto.MakeLegacyDelegateSig(crypto.NewStaticKey(user.Key), crypto.PublicKeyBytes(device.Key))
	require.NoError(t, err)
	device.Identity.DelegateSig = legacy

	pe := device.Parsed(t, messagePayload("legacy"), crypto.DomainHash([]byte("prev")))
	require.Equal(t, user.Address, pe.Creator())
}

func TestVerifyEnvelope_DelegateFromOtherUser(t *testing.T) {
	user := eventstest.NewSigner(t)
	other := eventstest.NewSigner(t)
	device := eventstest.NewDevice(t, other)
	// The device was delegated by other but claims to act for user.
	device.Identity.CreatorAddress = user.Address

	env, err := events.BuildEvent(
		device.Identity,
		messagePayload("spoof"),
		events.HashesToBytes([]domain.Hash{crypto.DomainHash([]byte("prev"))}),
	)
	require.NoError(t, err)

	_, err = events.VerifyEnvelope(env)
	require.ErrorIs(t, err, domain.ErrBadDelegateSig)
}

func TestVerifyEnvelope_MissingPrevEvents(t *testing.T) {
	user := eventstest.NewSigner(t)
	ev := &domain.Event{
		CreatorAddress: user.Address,
		Salt:           make([]byte, domain.SaltLength),
		Payload:        messagePayload("orphan"),
	}
	env, err := events.SignEvent(user.Identity.KeySource, ev)
	require.NoError(t, err)

	_, err = events.VerifyEnvelope(env)
	require.ErrorIs(t, err, domain.ErrBadPrevEvents)
}

func TestParseMiniblock(t *testing.T) {
	user := eventstest.NewSigner(t)
	chain := eventstest.NewChain(t, domain.KindChannel, user, domain.Inception{})
	chain.Add(user, messagePayload("one"))
	mb, hdr := chain.Seal(&domain.Snapshot{})

	pm, err := events.ParseMiniblock(mb)
	require.NoError(t, err)
	require.Equal(t, int64(0), pm.Num())
	require.Len(t, pm.Events, 2)
	require.Equal(t, hdr.Hash, pm.Header.Hash)

	mb.Events = mb.Events[:1]
	_, err = events.ParseMiniblock(mb)
	require.ErrorIs(t, err, domain.ErrStreamBadEvent)
}

func TestSessionBundle(t *testing.T) {
	b := domain.SessionBundle{Sessions: []domain.GroupSession{{
		StreamID:   "20aa",
		SessionID:  "s1",
		SessionKey: []byte{1, 2, 3},
		Algorithm:  domain.GroupSessionAlgorithm,
	}}}
	data, err := events.MarshalSessionBundle(b)
	require.NoError(t, err)
	got, err := events.UnmarshalSessionBundle(data)
	require.NoError(t, err)
	require.Equal(t, b, got)

	_, err = events.UnmarshalSessionBundle([]byte{0xff})
	require.True(t, domain.IsCode(err, domain.CodeBadPayload))
}
