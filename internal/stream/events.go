package stream

import (
	"strand/internal/domain"
)

// EventKind identifies what an Event reports.
type EventKind uint8

const (
	EventStreamInitialized EventKind = iota + 1
	EventStreamUpdated
	EventStreamEventsPrepended
	EventUserInvitedToStream
	EventUserJoinedStream
	EventUserLeftStream
	EventNewEncryptedContent
	EventNewKeySolicitation
	EventUpdatedKeySolicitation
	EventNewGroupSessions
	EventStreamUpToDate
	EventDecryptedContent
)

var eventKindNames = map[EventKind]string{
	EventStreamInitialized:      "streamInitialized",
	EventStreamUpdated:          "streamUpdated",
	EventStreamEventsPrepended:  "streamEventsPrepended",
	EventUserInvitedToStream:    "userInvitedToStream",
	EventUserJoinedStream:       "userJoinedStream",
	EventUserLeftStream:         "userLeftStream",
	EventNewEncryptedContent:    "newEncryptedContent",
	EventNewKeySolicitation:     "newKeySolicitation",
	EventUpdatedKeySolicitation: "updatedKeySolicitation",
	EventNewGroupSessions:       "newGroupSessions",
	EventStreamUpToDate:         "streamUpToDate",
	EventDecryptedContent:       "decryptedContent",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Solicitation is an outstanding key solicitation from one member device.
type Solicitation struct {
	UserAddress domain.Address
	EventHash   domain.Hash
	domain.KeySolicitation
}

// Empty reports whether the solicitation asks for nothing.
func (s Solicitation) Empty() bool {
	return len(s.SessionIDs) == 0 && !s.IsNewDevice
}

// GroupSessionsDelivery is a GroupSessions event seen on an inbox stream.
type GroupSessionsDelivery struct {
	EventHash     domain.Hash
	Sender        domain.Address
	GroupSessions domain.GroupSessions
}

// Event reports a change to a stream. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind     EventKind
	StreamID domain.StreamID

	// Appended and Confirmed are set on EventStreamUpdated. Prepended is set
	// on EventStreamEventsPrepended. They are copies taken when the change
	// was made.
	Appended  []TimelineEvent
	Confirmed []TimelineEvent
	Prepended []TimelineEvent

	// User is set on membership events.
	User domain.Address

	Content      *domain.EncryptedContent
	Decrypted    *domain.DecryptedContent
	Solicitation *Solicitation
	Sessions     *GroupSessionsDelivery
}

// emitter collects the events produced while a State is locked. They are
// delivered after the lock is released. A quiet emitter drops membership
// events, which are not reported while a stream initializes.
type emitter struct {
	streamID domain.StreamID
	quiet    bool
	events   []Event
}

func (e *emitter) emit(ev Event) {
	if e.quiet {
		switch ev.Kind {
		case EventUserInvitedToStream, EventUserJoinedStream, EventUserLeftStream:
			return
		}
	}
	ev.StreamID = e.streamID
	e.events = append(e.events, ev)
}
