package app

import (
	"context"

	"strand/internal/domain"
	"strand/internal/stream"
)

// SpaceMembers entitles the members of a channel's space. It stands in for
// the on-chain entitlement check when none is configured. A space that is
// not tracked entitles no one.
type SpaceMembers struct {
	Router *stream.Router
}

var _ domain.Entitlements = SpaceMembers{}

func (e SpaceMembers) IsEntitled(
	_ context.Context,
	spaceID domain.StreamID,
	_ domain.StreamID,
	user domain.Address,
	_ domain.Permission,
) (bool, error) {
	st, ok := e.Router.Stream(spaceID)
	if !ok {
		return false, nil
	}
	return st.Members().IsParticipant(user), nil
}
