package types

// MembershipOp is a membership change carried in an event.
type MembershipOp uint8

const (
	OpUnspecified MembershipOp = iota
	OpInvite
	OpJoin
	OpLeave
)

func (op MembershipOp) String() string {
	switch op {
	case OpInvite:
		return "invite"
	case OpJoin:
		return "join"
	case OpLeave:
		return "leave"
	}
	return "unspecified"
}

// MembershipState is a user's membership of one stream. Pending states are
// accepted into the timeline but not yet confirmed by a miniblock header.
type MembershipState uint8

const (
	MembershipNone MembershipState = iota
	MembershipPendingInvited
	MembershipInvited
	MembershipPendingJoined
	MembershipJoined
	MembershipPendingLeft
	MembershipLeft
)

func (s MembershipState) String() string {
	switch s {
	case MembershipPendingInvited:
		return "pending-invited"
	case MembershipInvited:
		return "invited"
	case MembershipPendingJoined:
		return "pending-joined"
	case MembershipJoined:
		return "joined"
	case MembershipPendingLeft:
		return "pending-left"
	case MembershipLeft:
		return "left"
	}
	return "none"
}

// Pending reports whether the state awaits confirmation.
func (s MembershipState) Pending() bool {
	switch s {
	case MembershipPendingInvited, MembershipPendingJoined, MembershipPendingLeft:
		return true
	}
	return false
}

// Permission is a right checked against the entitlement delegate.
type Permission string

const (
	PermissionRead  Permission = "Read"
	PermissionWrite Permission = "Write"
)
