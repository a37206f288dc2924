package events

import (
	"bytes"
	"fmt"

	"strand/internal/crypto"
	"strand/internal/domain"
)

// ParsedEvent is a verified envelope together with its decoded event.
type ParsedEvent struct {
	Event           *domain.Event
	Envelope        domain.Envelope
	Hash            domain.Hash
	SignerPubKey    []byte
	PrevEventHashes []domain.Hash
}

// Case returns the payload case of the event.
func (e *ParsedEvent) Case() domain.PayloadCase { return e.Event.Payload.Case() }

// Creator returns the creator address of the event.
func (e *ParsedEvent) Creator() domain.Address { return e.Event.CreatorAddress }

// ShortString is a compact description for log lines.
func (e *ParsedEvent) ShortString() string {
	if e == nil {
		return "nil"
	}
	return fmt.Sprintf("%s %s by %s", e.Case(), shortHash(e.Hash), e.Creator().Hex())
}

// VerifyEnvelope checks an envelope's hash, signature, signer and
// predecessors, and returns the decoded event.
func VerifyEnvelope(env domain.Envelope) (*ParsedEvent, error) {
	h := crypto.DomainHash(env.Event)
	if h != env.Hash {
		return nil, domain.NewError(domain.CodeBadEventID, "hash mismatch: computed %s, got %s", h.Hex(), env.Hash.Hex())
	}

	signerPub, err := crypto.RecoverPublicKey(h[:], env.Signature)
	if err != nil {
		return nil, err
	}

	ev, err := UnmarshalEvent(env.Event)
	if err != nil {
		return nil, domain.WrapError(domain.CodeBadEvent, err, "decode event")
	}

	if len(ev.DelegateSig) > 0 {
		if err := crypto.CheckDelegateSig(ev.CreatorAddress, signerPub, ev.DelegateSig); err != nil {
			return nil, err
		}
	} else {
		addr, err := crypto.PublicKeyToAddress(signerPub)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(addr.Bytes(), ev.CreatorAddress.Bytes()) {
			return nil, domain.NewError(
				domain.CodeBadEventSignature,
				"signer %s is not creator %s", addr.Hex(), ev.CreatorAddress.Hex(),
			)
		}
	}

	c := ev.Payload.Case()
	if c == domain.PayloadNone {
		return nil, domain.NewError(domain.CodeBadPayload, "payload must have exactly one case set")
	}
	if err := checkPrevHashes(c, ev.PrevEventHashes); err != nil {
		return nil, err
	}

	prev := make([]domain.Hash, len(ev.PrevEventHashes))
	for i, p := range ev.PrevEventHashes {
		prev[i] = domain.BytesToHash(p)
	}
	return &ParsedEvent{
		Event:           ev,
		Envelope:        env,
		Hash:            h,
		SignerPubKey:    signerPub,
		PrevEventHashes: prev,
	}, nil
}

// ParseEvents verifies a batch of envelopes, failing on the first bad one.
func ParseEvents(envs []domain.Envelope) ([]*ParsedEvent, error) {
	out := make([]*ParsedEvent, 0, len(envs))
	for i, env := range envs {
		pe, err := VerifyEnvelope(env)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, pe)
	}
	return out, nil
}

// ParsedMiniblock is a verified miniblock.
type ParsedMiniblock struct {
	Header *ParsedEvent
	Events []*ParsedEvent
}

// HeaderPayload returns the miniblock header carried by the header event.
func (m *ParsedMiniblock) HeaderPayload() *domain.MiniblockHeader {
	return m.Header.Event.Payload.MiniblockHeader
}

// Num returns the miniblock number.
func (m *ParsedMiniblock) Num() int64 { return m.HeaderPayload().MiniblockNum }

// ParseMiniblock verifies every envelope of mb and checks that the header
// lists exactly the hashes of its events, in order.
func ParseMiniblock(mb domain.Miniblock) (*ParsedMiniblock, error) {
	header, err := VerifyEnvelope(mb.Header)
	if err != nil {
		return nil, fmt.Errorf("miniblock header: %w", err)
	}
	hp := header.Event.Payload.MiniblockHeader
	if hp == nil {
		return nil, domain.NewError(domain.CodeStreamBadEvent, "miniblock header event has %s payload", header.Case())
	}
	evs, err := ParseEvents(mb.Events)
	if err != nil {
		return nil, err
	}
	if len(hp.EventHashes) != len(evs) {
		return nil, domain.NewError(
			domain.CodeStreamBadEvent,
			"miniblock %d lists %d hashes for %d events", hp.MiniblockNum, len(hp.EventHashes), len(evs),
		)
	}
	for i, ev := range evs {
		if hp.EventHashes[i] != ev.Hash {
			return nil, domain.NewError(domain.CodeStreamBadEvent, "miniblock %d event %d hash mismatch", hp.MiniblockNum, i)
		}
	}
	return &ParsedMiniblock{Header: header, Events: evs}, nil
}

func shortHash(h domain.Hash) string {
	s := h.Hex()
	return s[:8] + ".." + s[len(s)-4:]
}
