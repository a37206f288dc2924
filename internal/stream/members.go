package stream

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"

	"strand/internal/domain"
)

// Member is one user's membership of a stream.
type Member struct {
	Address domain.Address
	// State includes pending transitions. Confirmed is the last state a
	// miniblock header confirmed.
	State        domain.MembershipState
	Confirmed    domain.MembershipState
	MiniblockNum int64
	EventNum     int64

	pendingHash domain.Hash
}

// Participant reports whether the member has joined, counting a pending join.
func (m Member) Participant() bool {
	return m.Confirmed == domain.MembershipJoined && m.State != domain.MembershipPendingLeft ||
		m.State == domain.MembershipPendingJoined
}

// Members tracks the membership, key solicitations and member metadata of
// a stream. Its methods are safe for concurrent use with the owning State.
type Members struct {
	mu *sync.RWMutex

	members       map[domain.Address]*Member
	pending       map[domain.Hash]domain.Membership
	solicitations map[domain.Address]map[domain.DeviceKey]Solicitation
	metadata      *UserMetadata
}

func newMembers(mu *sync.RWMutex) *Members {
	return &Members{
		mu:            mu,
		members:       make(map[domain.Address]*Member),
		pending:       make(map[domain.Hash]domain.Membership),
		solicitations: make(map[domain.Address]map[domain.DeviceKey]Solicitation),
		metadata:      newUserMetadata(mu),
	}
}

// Metadata returns the usernames and display names of members.
func (m *Members) Metadata() *UserMetadata { return m.metadata }

// Get returns a copy of the member record for user.
func (m *Members) Get(user domain.Address) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[user]
	if !ok {
		return Member{Address: user}, false
	}
	return *mem, true
}

// Membership returns the membership state of user, including pending
// transitions.
func (m *Members) Membership(user domain.Address) domain.MembershipState {
	mem, _ := m.Get(user)
	return mem.State
}

// IsJoined reports whether user's join has been confirmed and not since left.
func (m *Members) IsJoined(user domain.Address) bool {
	mem, _ := m.Get(user)
	return mem.Confirmed == domain.MembershipJoined
}

// IsParticipant reports whether user is joined, counting pending joins.
func (m *Members) IsParticipant(user domain.Address) bool {
	mem, ok := m.Get(user)
	return ok && mem.Participant()
}

// Joined returns the users whose join is confirmed.
func (m *Members) Joined() []domain.Address {
	return m.filter(func(mem *Member) bool { return mem.Confirmed == domain.MembershipJoined })
}

// Invited returns the users whose invite is confirmed.
func (m *Members) Invited() []domain.Address {
	return m.filter(func(mem *Member) bool { return mem.Confirmed == domain.MembershipInvited })
}

// Left returns the users whose leave is confirmed.
func (m *Members) Left() []domain.Address {
	return m.filter(func(mem *Member) bool { return mem.Confirmed == domain.MembershipLeft })
}

// Participants returns joined users and users with a pending join.
func (m *Members) Participants() []domain.Address {
	return m.filter(func(mem *Member) bool { return mem.Participant() })
}

func (m *Members) filter(keep func(*Member) bool) []domain.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Address
	for addr, mem := range m.members {
		if keep(mem) {
			out = append(out, addr)
		}
	}
	sortAddresses(out)
	return out
}

// Solicitations returns every outstanding solicitation, ordered by user and
// device key.
func (m *Members) Solicitations() []Solicitation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Solicitation
	for _, byDevice := range m.solicitations {
		for _, sol := range byDevice {
			out = append(out, sol)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].UserAddress[:], out[j].UserAddress[:]); c != 0 {
			return c < 0
		}
		return out[i].DeviceKey < out[j].DeviceKey
	})
	return out
}

// Solicitation returns the outstanding solicitation of one device.
func (m *Members) Solicitation(user domain.Address, device domain.DeviceKey) (Solicitation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sol, ok := m.solicitations[user][device]
	return sol, ok
}

func (m *Members) member(user domain.Address) *Member {
	mem, ok := m.members[user]
	if !ok {
		mem = &Member{Address: user, MiniblockNum: -1, EventNum: -1}
		m.members[user] = mem
	}
	return mem
}

func (m *Members) applySnapshot(snap domain.MembersSnapshot, e *emitter) {
	for _, ms := range snap.Members {
		mem := m.member(ms.UserAddress)
		mem.Confirmed = confirmedState(ms.Op)
		mem.State = mem.Confirmed
		mem.MiniblockNum = ms.MiniblockNum
		mem.EventNum = ms.EventNum
		for _, ks := range ms.Solicitations {
			ks.SessionIDs = sortedSessionIDs(ks.SessionIDs)
			m.putSolicitation(Solicitation{UserAddress: ms.UserAddress, KeySolicitation: ks})
		}
		if ms.Username != nil {
			m.metadata.putConfirmed(m.metadata.usernames, ms.UserAddress, *ms.Username, domain.ContentUsername, e)
		}
		if ms.DisplayName != nil {
			m.metadata.putConfirmed(m.metadata.displayNames, ms.UserAddress, *ms.DisplayName, domain.ContentDisplayName, e)
		}
	}
}

func (m *Members) appendEvent(te *TimelineEvent, e *emitter) error {
	p := te.Event.Payload
	switch te.Case() {
	case domain.PayloadMembership:
		m.applyPending(te.Hash, *p.Membership)
	case domain.PayloadKeySolicitation:
		if !m.isParticipant(te.Creator()) {
			return fmt.Errorf("key solicitation from non-member %s", te.Creator().Hex())
		}
		sol := Solicitation{UserAddress: te.Creator(), EventHash: te.Hash, KeySolicitation: *p.KeySolicitation}
		sol.SessionIDs = sortedSessionIDs(sol.SessionIDs)
		m.putSolicitation(sol)
		e.emit(Event{Kind: EventNewKeySolicitation, User: sol.UserAddress, Solicitation: &sol})
	case domain.PayloadKeyFulfillment:
		f := p.KeyFulfillment
		if !m.isParticipant(f.UserAddress) {
			return fmt.Errorf("key fulfillment for non-member %s", f.UserAddress.Hex())
		}
		m.applyFulfillment(*f, e)
	case domain.PayloadUsername:
		if !m.isParticipant(te.Creator()) {
			return fmt.Errorf("username from non-member %s", te.Creator().Hex())
		}
		m.metadata.putPending(m.metadata.usernames, te, p.Username.Data, domain.ContentUsername, e)
	case domain.PayloadDisplayName:
		if !m.isParticipant(te.Creator()) {
			return fmt.Errorf("display name from non-member %s", te.Creator().Hex())
		}
		m.metadata.putPending(m.metadata.displayNames, te, p.DisplayName.Data, domain.ContentDisplayName, e)
	}
	return nil
}

func (m *Members) onConfirmed(te *TimelineEvent, e *emitter) {
	switch te.Case() {
	case domain.PayloadMembership:
		mb, ok := m.pending[te.Hash]
		if !ok {
			return
		}
		delete(m.pending, te.Hash)
		m.applyConfirmed(te, mb, e)
	case domain.PayloadUsername, domain.PayloadDisplayName:
		m.metadata.confirm(te.Hash, te.EventNum)
	}
}

func (m *Members) isParticipant(user domain.Address) bool {
	mem, ok := m.members[user]
	return ok && mem.Participant()
}

func (m *Members) applyPending(hash domain.Hash, mb domain.Membership) {
	state := pendingState(mb.Op)
	if state == domain.MembershipNone {
		return
	}
	m.pending[hash] = mb
	mem := m.member(mb.UserAddress)
	mem.State = state
	mem.pendingHash = hash
}

func (m *Members) applyConfirmed(te *TimelineEvent, mb domain.Membership, e *emitter) {
	mem := m.member(mb.UserAddress)
	prev := mem.Confirmed
	next := confirmedState(mb.Op)
	mem.Confirmed = next
	// A later pending transition keeps the member pending.
	if mem.pendingHash == te.Hash || !mem.State.Pending() {
		mem.State = next
		mem.pendingHash = domain.Hash{}
	}
	if mb.Op == domain.OpJoin {
		mem.MiniblockNum = te.MiniblockNum
		mem.EventNum = te.EventNum
	}

	switch {
	case next == domain.MembershipInvited && prev != domain.MembershipInvited:
		e.emit(Event{Kind: EventUserInvitedToStream, User: mb.UserAddress})
	case next == domain.MembershipJoined && prev != domain.MembershipJoined:
		e.emit(Event{Kind: EventUserJoinedStream, User: mb.UserAddress})
	case next == domain.MembershipLeft && (prev == domain.MembershipJoined || prev == domain.MembershipInvited):
		delete(m.solicitations, mb.UserAddress)
		e.emit(Event{Kind: EventUserLeftStream, User: mb.UserAddress})
	}
}

func (m *Members) putSolicitation(sol Solicitation) {
	byDevice := m.solicitations[sol.UserAddress]
	if sol.Empty() {
		delete(byDevice, sol.DeviceKey)
		if len(byDevice) == 0 {
			delete(m.solicitations, sol.UserAddress)
		}
		return
	}
	if byDevice == nil {
		byDevice = make(map[domain.DeviceKey]Solicitation)
		m.solicitations[sol.UserAddress] = byDevice
	}
	byDevice[sol.DeviceKey] = sol
}

func (m *Members) applyFulfillment(f domain.KeyFulfillment, e *emitter) {
	sol, ok := m.solicitations[f.UserAddress][f.DeviceKey]
	if !ok {
		return
	}
	sol.SessionIDs = subtractSorted(sol.SessionIDs, sortedSessionIDs(f.SessionIDs))
	sol.IsNewDevice = false
	m.putSolicitation(sol)
	e.emit(Event{Kind: EventUpdatedKeySolicitation, User: f.UserAddress, Solicitation: &sol})
}

func pendingState(op domain.MembershipOp) domain.MembershipState {
	switch op {
	case domain.OpInvite:
		return domain.MembershipPendingInvited
	case domain.OpJoin:
		return domain.MembershipPendingJoined
	case domain.OpLeave:
		return domain.MembershipPendingLeft
	}
	return domain.MembershipNone
}

func confirmedState(op domain.MembershipOp) domain.MembershipState {
	switch op {
	case domain.OpInvite:
		return domain.MembershipInvited
	case domain.OpJoin:
		return domain.MembershipJoined
	case domain.OpLeave:
		return domain.MembershipLeft
	}
	return domain.MembershipNone
}

func sortedSessionIDs(ids []domain.SessionID) []domain.SessionID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// subtractSorted returns the ids of a not present in b. Both must be sorted.
func subtractSorted(a, b []domain.SessionID) []domain.SessionID {
	out := make([]domain.SessionID, 0, len(a))
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func sortAddresses(addrs []domain.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}
