// Package eventstest builds signed streams for tests.
package eventstest

import (
	"crypto/ecdsa"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"strand/internal/crypto"
	"strand/internal/domain"
	"strand/internal/protocol/events"
)

// Signer is a test user or device able to sign events.
type Signer struct {
	Key      *ecdsa.PrivateKey
	Address  domain.Address
	Identity domain.SignerIdentity
}

// NewSigner returns a user that signs with its own key.
func NewSigner(t testing.TB) *Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(k.PublicKey)
	return &Signer{
		Key:     k,
		Address: addr,
		Identity: domain.SignerIdentity{
			KeySource:      crypto.NewStaticKey(k),
			CreatorAddress: addr,
		},
	}
}

// NewDevice returns a device of user that signs with a delegated key.
func NewDevice(t testing.TB, user *Signer) *Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.MakeDelegateSig(crypto.NewStaticKey(user.Key), crypto.PublicKeyBytes(k))
	require.NoError(t, err)
	return &Signer{
		Key:     k,
		Address: user.Address,
		Identity: domain.SignerIdentity{
			KeySource:      crypto.NewStaticKey(k),
			CreatorAddress: user.Address,
			DelegateSig:    sig,
			DeviceID:       "test-device",
		},
	}
}

// Envelope builds and signs payload on top of prev.
func (s *Signer) Envelope(t testing.TB, payload domain.Payload, prev ...domain.Hash) domain.Envelope {
	t.Helper()
	env, err := events.BuildEvent(s.Identity, payload, events.HashesToBytes(prev))
	require.NoError(t, err)
	return env
}

// Parsed builds payload and verifies it back.
func (s *Signer) Parsed(t testing.TB, payload domain.Payload, prev ...domain.Hash) *events.ParsedEvent {
	t.Helper()
	pe, err := events.VerifyEnvelope(s.Envelope(t, payload, prev...))
	require.NoError(t, err)
	return pe
}

// Chain is a linear stream under construction. Every event references the
// previous one, and Seal wraps the pending events into a miniblock.
type Chain struct {
	t          testing.TB
	StreamID   domain.StreamID
	Node       *Signer
	Miniblocks []domain.Miniblock

	last      domain.Hash
	lastBlock domain.Hash
	num       int64
	eventNum  int64
	snapNum   int64
	pending   []*events.ParsedEvent
}

// NewChain starts a stream of kind with an inception event by creator.
func NewChain(t testing.TB, kind domain.ContentKind, creator *Signer, inception domain.Inception) *Chain {
	t.Helper()
	id := inception.StreamID
	if id == "" {
		var err error
		if kind.UserScoped() {
			id, err = domain.UserStreamID(kind, creator.Address)
		} else {
			id, err = domain.RandomStreamID(kind)
		}
		require.NoError(t, err)
		inception.StreamID = id
	}
	c := &Chain{t: t, StreamID: id, Node: NewSigner(t)}
	pe := creator.Parsed(t, domain.Payload{Inception: &inception})
	c.pending = append(c.pending, pe)
	c.last = pe.Hash
	return c
}

// Add appends payload signed by s on top of the chain's last event.
func (c *Chain) Add(s *Signer, payload domain.Payload) *events.ParsedEvent {
	c.t.Helper()
	pe := s.Parsed(c.t, payload, c.last)
	c.pending = append(c.pending, pe)
	c.last = pe.Hash
	return pe
}

// Last returns the hash of the newest event, including headers.
func (c *Chain) Last() domain.Hash { return c.last }

// Pending returns the events not yet sealed into a miniblock.
func (c *Chain) Pending() []*events.ParsedEvent { return c.pending }

// Seal wraps the pending events into the next miniblock. snapshot may be nil.
// The header event becomes the new chain tip.
func (c *Chain) Seal(snapshot *domain.Snapshot) (domain.Miniblock, *events.ParsedEvent) {
	c.t.Helper()
	hashes := make([]domain.Hash, len(c.pending))
	envs := make([]domain.Envelope, len(c.pending))
	for i, pe := range c.pending {
		hashes[i] = pe.Hash
		envs[i] = pe.Envelope
	}
	header := &domain.MiniblockHeader{
		MiniblockNum:             c.num,
		PrevMiniblockHash:        c.lastBlock,
		PrevSnapshotMiniblockNum: c.snapNum,
		EventNumOffset:           c.eventNum,
		EventHashes:              hashes,
		Snapshot:                 snapshot,
	}
	hdr := c.Node.Parsed(c.t, domain.Payload{MiniblockHeader: header}, c.last)
	mb := domain.Miniblock{Events: envs, Header: hdr.Envelope}

	c.Miniblocks = append(c.Miniblocks, mb)
	c.pending = nil
	c.last = hdr.Hash
	c.lastBlock = hdr.Hash
	if snapshot != nil {
		c.snapNum = c.num
	}
	c.num++
	c.eventNum += int64(len(envs)) + 1
	return mb, hdr
}

// Envelopes returns the envelopes of parsed events.
func Envelopes(pes ...*events.ParsedEvent) []domain.Envelope {
	out := make([]domain.Envelope, len(pes))
	for i, pe := range pes {
		out[i] = pe.Envelope
	}
	return out
}
