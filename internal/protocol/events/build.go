package events

import (
	"crypto/rand"
	"time"

	"strand/internal/crypto"
	"strand/internal/domain"
)

// BuildEvent serializes, hashes and signs payload as the given identity.
//
// Every non-inception event must reference at least one predecessor, and
// every predecessor must be a 32-byte hash.
func BuildEvent(
	identity domain.SignerIdentity,
	payload domain.Payload,
	prevHashes [][]byte,
) (domain.Envelope, error) {
	c := payload.Case()
	if c == domain.PayloadNone {
		return domain.Envelope{}, domain.NewError(domain.CodeBadPayload, "payload must have exactly one case set")
	}
	if err := checkPrevHashes(c, prevHashes); err != nil {
		return domain.Envelope{}, err
	}
	if identity.KeySource == nil {
		return domain.Envelope{}, domain.NewError(domain.CodeBadEvent, "signer has no key source")
	}

	salt := make([]byte, domain.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return domain.Envelope{}, err
	}
	ev := domain.Event{
		CreatorAddress:   identity.CreatorAddress,
		Salt:             salt,
		PrevEventHashes:  prevHashes,
		Payload:          payload,
		DelegateSig:      identity.DelegateSig,
		CreatedAtEpochMs: time.Now().UnixMilli(),
	}
	return SignEvent(identity.KeySource, &ev)
}

// SignEvent serializes, hashes and signs an already populated event.
func SignEvent(keySource domain.KeySource, ev *domain.Event) (domain.Envelope, error) {
	b, err := MarshalEvent(ev)
	if err != nil {
		return domain.Envelope{}, domain.WrapError(domain.CodeBadEvent, err, "serialize event")
	}
	priv, err := keySource.PrivateKey()
	if err != nil {
		return domain.Envelope{}, err
	}
	h := crypto.DomainHash(b)
	sig, err := crypto.Sign(h[:], priv)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{Event: b, Hash: h, Signature: sig}, nil
}

// HashesToBytes converts tip hashes into the prevEventHashes wire form.
func HashesToBytes(hashes []domain.Hash) [][]byte {
	out := make([][]byte, len(hashes))
	for i := range hashes {
		h := hashes[i]
		out[i] = h.Bytes()
	}
	return out
}

func checkPrevHashes(c domain.PayloadCase, prev [][]byte) error {
	if c == domain.PayloadInception {
		return nil
	}
	if len(prev) == 0 {
		return domain.NewError(domain.CodeBadPrevEvents, "%s event must reference a previous event", c)
	}
	for i, h := range prev {
		if len(h) != domain.HashLength {
			return domain.NewError(domain.CodeBadPrevEvents, "prev event hash %d has %d bytes", i, len(h))
		}
	}
	return nil
}
