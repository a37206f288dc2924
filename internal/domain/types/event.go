package types

// Envelope is the signed, hashed wire wrapper around one serialized event.
type Envelope struct {
	Event     []byte `json:"event"`
	Hash      Hash   `json:"hash"`
	Signature []byte `json:"signature"`
}

// Event is the decoded content of an envelope.
//
// PrevEventHashes is kept as raw byte slices so that malformed hashes
// received from the wire can be reported rather than silently padded.
type Event struct {
	CreatorAddress   Address  `cbor:"1,keyasint" json:"creator_address"`
	Salt             []byte   `cbor:"2,keyasint" json:"salt"`
	PrevEventHashes  [][]byte `cbor:"3,keyasint,omitempty" json:"prev_event_hashes,omitempty"`
	Payload          Payload  `cbor:"4,keyasint" json:"payload"`
	DelegateSig      []byte   `cbor:"5,keyasint,omitempty" json:"delegate_sig,omitempty"`
	CreatedAtEpochMs int64    `cbor:"6,keyasint" json:"created_at_epoch_ms"`
}

// SaltLength is the number of random bytes mixed into every event.
const SaltLength = 16

// Miniblock is a confirmed, ordered batch of events. Header is the envelope
// of the MiniblockHeader event that summarizes Events.
type Miniblock struct {
	Events []Envelope `json:"events"`
	Header Envelope   `json:"header"`
}

// MiniblockInfo tracks the range of miniblocks applied to a stream.
type MiniblockInfo struct {
	Min             int64 `json:"min"`
	Max             int64 `json:"max"`
	TerminusReached bool  `json:"terminus_reached"`
}
