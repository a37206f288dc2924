package types

// SyncCookie is a stream's sync position.
type SyncCookie struct {
	StreamID          StreamID `json:"stream_id"`
	MinipoolGen       int64    `json:"minipool_gen"`
	PrevMiniblockHash Hash     `json:"prev_miniblock_hash"`
}

// SyncOp is the kind of a sync response.
type SyncOp uint8

const (
	SyncOpUnspecified SyncOp = iota
	SyncOpNew
	SyncOpUpdate
	SyncOpClose
)

func (op SyncOp) String() string {
	switch op {
	case SyncOpNew:
		return "new"
	case SyncOpUpdate:
		return "update"
	case SyncOpClose:
		return "close"
	}
	return "unspecified"
}

// SyncResponse is one message of a sync subscription.
type SyncResponse struct {
	SyncID     string     `json:"sync_id"`
	Op         SyncOp     `json:"op"`
	StreamID   StreamID   `json:"stream_id,omitempty"`
	Events     []Envelope `json:"events,omitempty"`
	NextCookie SyncCookie `json:"next_cookie"`
}

// StreamAndCookie is a stream as returned by GetStream and CreateStream.
type StreamAndCookie struct {
	Miniblocks []Miniblock `json:"miniblocks"`
	Minipool   []Envelope  `json:"minipool"`
	Cookie     SyncCookie  `json:"cookie"`
}

// LastMiniblock identifies a stream's newest miniblock.
type LastMiniblock struct {
	Hash         Hash  `json:"hash"`
	MiniblockNum int64 `json:"miniblock_num"`
}
