package events

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"strand/internal/crypto"
	"strand/internal/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: the bytes are hashed and signed, so the
	// same event must always serialize the same way.
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("events: cbor enc mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 32,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("events: cbor dec mode: %v", err))
	}
}

// MarshalEvent serializes ev for hashing and signing.
func MarshalEvent(ev *domain.Event) ([]byte, error) {
	return encMode.Marshal(ev)
}

// UnmarshalEvent decodes a serialized event.
func UnmarshalEvent(b []byte) (*domain.Event, error) {
	var ev domain.Event
	if err := decMode.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// SnapshotHash returns the framed hash of a serialized snapshot.
func SnapshotHash(s *domain.Snapshot) (domain.Hash, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return domain.Hash{}, err
	}
	return crypto.SnapshotHash(b), nil
}

// MarshalSessionBundle serializes group sessions for sealing to a device.
func MarshalSessionBundle(b domain.SessionBundle) ([]byte, error) {
	return encMode.Marshal(b)
}

// UnmarshalSessionBundle decodes a bundle opened with the device key.
func UnmarshalSessionBundle(data []byte) (domain.SessionBundle, error) {
	var b domain.SessionBundle
	if err := decMode.Unmarshal(data, &b); err != nil {
		return domain.SessionBundle{}, domain.WrapError(domain.CodeBadPayload, err, "decode session bundle")
	}
	return b, nil
}
