package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strand/internal/domain"
	"strand/internal/protocol/events/eventstest"
)

func TestLoad(t *testing.T) {
	alice := eventstest.NewSigner(t)
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	c := eventstest.NewChain(t, domain.KindChannel, alice, domain.Inception{SpaceID: spaceID})
	c.Add(alice, joinPayload(alice))
	mb, _ := c.Seal(&domain.Snapshot{
		Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID},
		Members:   memberSnap(alice),
	})
	pending := c.Add(alice, message("hi"))
	cookie := domain.SyncCookie{StreamID: c.StreamID, MinipoolGen: 1}

	s, err := Load(c.StreamID, domain.StreamAndCookie{
		Miniblocks: []domain.Miniblock{mb},
		Minipool:   eventstest.Envelopes(pending),
		Cookie:     cookie,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, PhaseLive, s.Phase())
	require.True(t, s.Members().IsJoined(alice.Address))
	require.True(t, s.HasEvent(pending.Hash))
	require.Equal(t, cookie, s.SyncCookie())
}

func TestLoadRejectsTamperedMinipool(t *testing.T) {
	alice := eventstest.NewSigner(t)
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	c := eventstest.NewChain(t, domain.KindChannel, alice, domain.Inception{SpaceID: spaceID})
	mb, _ := c.Seal(&domain.Snapshot{Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID}})
	env := c.Add(alice, message("hi")).Envelope
	env.Signature = append([]byte(nil), env.Signature...)
	env.Signature[0] ^= 0xff

	_, err = Load(c.StreamID, domain.StreamAndCookie{
		Miniblocks: []domain.Miniblock{mb},
		Minipool:   []domain.Envelope{env},
	}, nil)
	require.Error(t, err)
}
