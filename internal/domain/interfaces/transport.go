package interfaces

import (
	"context"

	domaintypes "strand/internal/domain/types"
)

// Transport is the stream RPC surface of a node, all with context.
type Transport interface {
	CreateStream(
		ctx context.Context,
		streamID domaintypes.StreamID,
		events []domaintypes.Envelope,
	) (domaintypes.StreamAndCookie, error)
	GetStream(ctx context.Context, streamID domaintypes.StreamID) (domaintypes.StreamAndCookie, error)
	AddEvent(ctx context.Context, streamID domaintypes.StreamID, envelope domaintypes.Envelope) error

	// GetMiniblocks returns miniblocks in [fromInclusive, toExclusive) and
	// whether the genesis miniblock was reached.
	GetMiniblocks(
		ctx context.Context,
		streamID domaintypes.StreamID,
		fromInclusive, toExclusive int64,
	) ([]domaintypes.Miniblock, bool, error)
	GetLastMiniblockHash(
		ctx context.Context,
		streamID domaintypes.StreamID,
	) (domaintypes.LastMiniblock, error)

	// SyncStreams opens one multiplexed subscription over cookies.
	SyncStreams(ctx context.Context, cookies []domaintypes.SyncCookie) (SyncSubscription, error)
}

// SyncSubscription is a server-streaming sync response. Recv returns io.EOF
// when the server ends the round cleanly.
type SyncSubscription interface {
	Recv() (domaintypes.SyncResponse, error)
	Close() error
}
