package stream

import (
	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/protocol/events"
)

// Load verifies a stream as returned by a node and initializes a State
// from it. The State resumes syncing from the returned cookie.
func Load(streamID domain.StreamID, sc domain.StreamAndCookie, log *logging.Logger) (*State, error) {
	miniblocks := make([]*events.ParsedMiniblock, 0, len(sc.Miniblocks))
	for _, mb := range sc.Miniblocks {
		pmb, err := events.ParseMiniblock(mb)
		if err != nil {
			return nil, err
		}
		miniblocks = append(miniblocks, pmb)
	}
	minipool, err := events.ParseEvents(sc.Minipool)
	if err != nil {
		return nil, err
	}
	s, err := New(streamID, log)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(miniblocks, minipool); err != nil {
		return nil, err
	}
	s.SetSyncCookie(sc.Cookie)
	return s, nil
}
