package stream

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"strand/internal/domain"
)

// ContentView is the kind-specific state of a stream. The set of views is
// closed: every implementation lives in this package and newContentView
// maps each kind to exactly one of them.
//
// Membership payloads are handled by Members for every kind. Inception and
// miniblock header payloads never reach a view.
type ContentView interface {
	Kind() domain.ContentKind

	applySnapshot(snap *domain.Snapshot, e *emitter) error
	appendEvent(te *TimelineEvent, e *emitter) error
	prependEvent(te *TimelineEvent, e *emitter) error
}

func newContentView(kind domain.ContentKind, mu *sync.RWMutex) (ContentView, error) {
	base := viewBase{mu: mu, kind: kind}
	switch kind {
	case domain.KindSpace:
		return &SpaceView{viewBase: base, channels: make(map[domain.StreamID]*SpaceChannel)}, nil
	case domain.KindChannel:
		return &ChannelView{viewBase: base}, nil
	case domain.KindDM:
		return &DMView{viewBase: base}, nil
	case domain.KindGDM:
		return &GDMView{viewBase: base}, nil
	case domain.KindUser:
		return &UserView{viewBase: base, memberships: make(map[domain.StreamID]domain.UserMembership)}, nil
	case domain.KindDeviceKeys:
		return &DeviceKeysView{viewBase: base, index: make(map[domain.DeviceKey]int)}, nil
	case domain.KindMedia:
		return &MediaView{viewBase: base, chunks: make(map[int][]byte)}, nil
	case domain.KindSettings:
		return &SettingsView{viewBase: base, fullyRead: make(map[domain.StreamID]string)}, nil
	case domain.KindInbox:
		return &InboxView{
			viewBase:   base,
			deliveries: make(map[domain.SessionID]*TimelineEvent),
			acks:       make(map[domain.DeviceKey]int64),
		}, nil
	}
	return nil, domain.NewError(domain.CodeBadStreamID, "no content view for kind %s", kind)
}

type viewBase struct {
	mu   *sync.RWMutex
	kind domain.ContentKind
}

func (v *viewBase) Kind() domain.ContentKind { return v.kind }

func (v *viewBase) unexpected(te *TimelineEvent) error {
	return fmt.Errorf("unexpected %s payload on %s stream", te.Case(), v.kind)
}

func encryptedContent(e *emitter, te *TimelineEvent, kind domain.EncryptedContentKind, data domain.EncryptedData) {
	e.emit(Event{
		Kind: EventNewEncryptedContent,
		Content: &domain.EncryptedContent{
			StreamID:       e.streamID,
			EventHash:      te.Hash,
			Kind:           kind,
			CreatorAddress: te.Creator(),
			Data:           data,
		},
	})
}

// messageLog is the ordered message history shared by channel, DM and GDM
// views.
type messageLog struct {
	messages []*TimelineEvent
}

func (l *messageLog) append(te *TimelineEvent, e *emitter) {
	l.messages = append(l.messages, te)
	encryptedContent(e, te, domain.ContentMessage, te.Event.Payload.Message.Data)
}

func (l *messageLog) prepend(te *TimelineEvent, e *emitter) {
	l.messages = append([]*TimelineEvent{te}, l.messages...)
	encryptedContent(e, te, domain.ContentMessage, te.Event.Payload.Message.Data)
}

// SpaceChannel is a channel registered on a space.
type SpaceChannel struct {
	ChannelID  domain.StreamID
	Properties *domain.EncryptedData
	Plaintext  []byte
	EventHash  domain.Hash
}

// SpaceView holds the channels of a space.
type SpaceView struct {
	viewBase
	channels map[domain.StreamID]*SpaceChannel
}

// Channels returns the registered channels ordered by id.
func (v *SpaceView) Channels() []SpaceChannel {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]SpaceChannel, 0, len(v.channels))
	for _, ch := range v.channels {
		out = append(out, *ch)
	}
	sortByID(out, func(c SpaceChannel) domain.StreamID { return c.ChannelID })
	return out
}

// Channel returns one registered channel.
func (v *SpaceView) Channel(id domain.StreamID) (SpaceChannel, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ch, ok := v.channels[id]
	if !ok {
		return SpaceChannel{}, false
	}
	return *ch, true
}

func (v *SpaceView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	if snap.Space == nil {
		return nil
	}
	for _, ch := range snap.Space.Channels {
		if ch.Op == domain.ChannelOpDeleted {
			continue
		}
		v.channels[ch.ChannelID] = &SpaceChannel{ChannelID: ch.ChannelID, Properties: ch.Properties}
	}
	return nil
}

func (v *SpaceView) appendEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadChannel {
		return v.unexpected(te)
	}
	upd := te.Event.Payload.Channel
	switch upd.Op {
	case domain.ChannelOpCreated:
		v.channels[upd.ChannelID] = &SpaceChannel{ChannelID: upd.ChannelID, Properties: upd.Properties, EventHash: te.Hash}
	case domain.ChannelOpUpdated:
		ch, ok := v.channels[upd.ChannelID]
		if !ok {
			return fmt.Errorf("update of unknown channel %s", upd.ChannelID.Short())
		}
		ch.Properties = upd.Properties
		ch.Plaintext = nil
		ch.EventHash = te.Hash
	case domain.ChannelOpDeleted:
		delete(v.channels, upd.ChannelID)
		return nil
	default:
		return fmt.Errorf("channel update with op %d", upd.Op)
	}
	if upd.Properties != nil {
		encryptedContent(e, te, domain.ContentChannelProperties, *upd.Properties)
	}
	return nil
}

func (v *SpaceView) prependEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadChannel {
		return v.unexpected(te)
	}
	return nil
}

func (v *SpaceView) onDecrypted(hash domain.Hash, plaintext []byte) {
	for _, ch := range v.channels {
		if ch.EventHash == hash {
			ch.Plaintext = plaintext
		}
	}
}

// ChannelView holds a channel's messages.
type ChannelView struct {
	viewBase
	messageLog
	spaceID domain.StreamID
}

// SpaceID returns the space the channel belongs to.
func (v *ChannelView) SpaceID() domain.StreamID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.spaceID
}

// Messages returns the channel's message events in timeline order.
func (v *ChannelView) Messages() []TimelineEvent {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyTimeline(v.messages)
}

func (v *ChannelView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	v.spaceID = snap.Inception.SpaceID
	return nil
}

func (v *ChannelView) appendEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadMessage {
		return v.unexpected(te)
	}
	v.append(te, e)
	return nil
}

func (v *ChannelView) prependEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadMessage {
		return v.unexpected(te)
	}
	v.prepend(te, e)
	return nil
}

// DMView holds a direct message stream between two parties.
type DMView struct {
	viewBase
	messageLog
	firstParty  domain.Address
	secondParty domain.Address
}

// Parties returns the two participants of the DM.
func (v *DMView) Parties() (first, second domain.Address) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.firstParty, v.secondParty
}

// Messages returns the DM's message events in timeline order.
func (v *DMView) Messages() []TimelineEvent {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyTimeline(v.messages)
}

func (v *DMView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	v.firstParty = snap.Inception.FirstParty
	v.secondParty = snap.Inception.SecondParty
	return nil
}

func (v *DMView) appendEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadMessage {
		return v.unexpected(te)
	}
	v.append(te, e)
	return nil
}

func (v *DMView) prependEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadMessage {
		return v.unexpected(te)
	}
	v.prepend(te, e)
	return nil
}

// GDMView holds a group direct message stream.
type GDMView struct {
	viewBase
	messageLog
}

// Messages returns the GDM's message events in timeline order.
func (v *GDMView) Messages() []TimelineEvent {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyTimeline(v.messages)
}

func (v *GDMView) applySnapshot(*domain.Snapshot, *emitter) error { return nil }

func (v *GDMView) appendEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadMessage {
		return v.unexpected(te)
	}
	v.append(te, e)
	return nil
}

func (v *GDMView) prependEvent(te *TimelineEvent, e *emitter) error {
	if te.Case() != domain.PayloadMessage {
		return v.unexpected(te)
	}
	v.prepend(te, e)
	return nil
}

// UserView holds the streams a user has joined, been invited to or left.
type UserView struct {
	viewBase
	memberships map[domain.StreamID]domain.UserMembership
}

// Memberships returns every recorded membership ordered by stream id.
func (v *UserView) Memberships() []domain.UserMembership {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.UserMembership, 0, len(v.memberships))
	for _, m := range v.memberships {
		out = append(out, m)
	}
	sortByID(out, func(m domain.UserMembership) domain.StreamID { return m.StreamID })
	return out
}

// Membership returns the user's last membership op on streamID.
func (v *UserView) Membership(streamID domain.StreamID) domain.MembershipOp {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.memberships[streamID].Op
}

// JoinedStreams returns the streams the user is joined to.
func (v *UserView) JoinedStreams() []domain.StreamID {
	var out []domain.StreamID
	for _, m := range v.Memberships() {
		if m.Op == domain.OpJoin {
			out = append(out, m.StreamID)
		}
	}
	return out
}

func (v *UserView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	if snap.User == nil {
		return nil
	}
	for _, m := range snap.User.Memberships {
		v.memberships[m.StreamID] = m
	}
	return nil
}

func (v *UserView) appendEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadUserMembership {
		return v.unexpected(te)
	}
	um := *te.Event.Payload.UserMembership
	if err := um.StreamID.Validate(); err != nil {
		return err
	}
	v.memberships[um.StreamID] = um
	return nil
}

func (v *UserView) prependEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadUserMembership {
		return v.unexpected(te)
	}
	return nil
}

// DeviceKeysView holds the device keys a user has published. The earliest
// upload of each key wins.
type DeviceKeysView struct {
	viewBase
	keys  []domain.DeviceKeyUpload
	index map[domain.DeviceKey]int
}

// DeviceKeys returns the published keys, oldest first.
func (v *DeviceKeysView) DeviceKeys() []domain.DeviceKeyUpload {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]domain.DeviceKeyUpload(nil), v.keys...)
}

// Has reports whether key has been published.
func (v *DeviceKeysView) Has(key domain.DeviceKey) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.index[key]
	return ok
}

func (v *DeviceKeysView) add(k domain.DeviceKeyUpload) {
	if _, ok := v.index[k.DeviceKey]; ok {
		return
	}
	v.index[k.DeviceKey] = len(v.keys)
	v.keys = append(v.keys, k)
}

func (v *DeviceKeysView) reindex() {
	for i, k := range v.keys {
		v.index[k.DeviceKey] = i
	}
}

func (v *DeviceKeysView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	if snap.DeviceKeys == nil {
		return nil
	}
	for _, k := range snap.DeviceKeys.Keys {
		v.add(k)
	}
	return nil
}

func (v *DeviceKeysView) appendEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadDeviceKey {
		return v.unexpected(te)
	}
	v.add(*te.Event.Payload.DeviceKey)
	return nil
}

// prependEvent sees older uploads, which replace newer uploads of the same
// key.
func (v *DeviceKeysView) prependEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadDeviceKey {
		return v.unexpected(te)
	}
	k := *te.Event.Payload.DeviceKey
	if i, ok := v.index[k.DeviceKey]; ok {
		v.keys = append(v.keys[:i], v.keys[i+1:]...)
	}
	v.keys = append([]domain.DeviceKeyUpload{k}, v.keys...)
	v.reindex()
	return nil
}

// MediaView holds the chunks of a media stream.
type MediaView struct {
	viewBase
	chunkCount int
	chunks     map[int][]byte
}

// Complete reports whether every chunk has arrived.
func (v *MediaView) Complete() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chunkCount > 0 && len(v.chunks) == v.chunkCount
}

// Data returns the chunks concatenated in order. It fails if a chunk is
// missing.
func (v *MediaView) Data() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []byte
	for i := 0; i < v.chunkCount; i++ {
		c, ok := v.chunks[i]
		if !ok {
			return nil, fmt.Errorf("media chunk %d of %d missing", i, v.chunkCount)
		}
		out = append(out, c...)
	}
	return out, nil
}

func (v *MediaView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	v.chunkCount = snap.Inception.ChunkCount
	return nil
}

func (v *MediaView) put(te *TimelineEvent) error {
	if te.Case() != domain.PayloadMediaChunk {
		return v.unexpected(te)
	}
	c := te.Event.Payload.MediaChunk
	if c.ChunkIndex < 0 || c.ChunkIndex >= v.chunkCount {
		return fmt.Errorf("media chunk %d out of range [0,%d)", c.ChunkIndex, v.chunkCount)
	}
	v.chunks[c.ChunkIndex] = c.Data
	return nil
}

func (v *MediaView) appendEvent(te *TimelineEvent, _ *emitter) error  { return v.put(te) }
func (v *MediaView) prependEvent(te *TimelineEvent, _ *emitter) error { return v.put(te) }

// SettingsView holds a user's fully-read markers.
type SettingsView struct {
	viewBase
	fullyRead map[domain.StreamID]string
}

// FullyRead returns the fully-read marker content for a channel.
func (v *SettingsView) FullyRead(channelID domain.StreamID) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.fullyRead[channelID]
	return s, ok
}

func (v *SettingsView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	if snap.Settings == nil {
		return nil
	}
	for _, fr := range snap.Settings.FullyRead {
		v.fullyRead[fr.ChannelID] = fr.Content
	}
	return nil
}

func (v *SettingsView) appendEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadFullyRead {
		return v.unexpected(te)
	}
	fr := te.Event.Payload.FullyRead
	v.fullyRead[fr.ChannelID] = fr.Content
	return nil
}

func (v *SettingsView) prependEvent(te *TimelineEvent, _ *emitter) error {
	if te.Case() != domain.PayloadFullyRead {
		return v.unexpected(te)
	}
	return nil
}

// InboxView holds group session deliveries addressed to a user's devices and
// how far each device has acknowledged them.
type InboxView struct {
	viewBase
	deliveries map[domain.SessionID]*TimelineEvent
	acks       map[domain.DeviceKey]int64
}

// HasPendingSession reports whether a delivery carrying sessionID for
// streamID is in the inbox but not yet confirmed by a miniblock.
func (v *InboxView) HasPendingSession(streamID domain.StreamID, sessionID domain.SessionID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	te, ok := v.deliveries[sessionID]
	return ok && !te.Confirmed && te.Event.Payload.GroupSessions.StreamID == streamID
}

// LastAck returns the last miniblock acknowledged by device, or -1.
func (v *InboxView) LastAck(device domain.DeviceKey) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if n, ok := v.acks[device]; ok {
		return n
	}
	return -1
}

func (v *InboxView) applySnapshot(snap *domain.Snapshot, _ *emitter) error {
	if snap.Inbox == nil {
		return nil
	}
	for _, a := range snap.Inbox.Acks {
		v.ack(a)
	}
	return nil
}

func (v *InboxView) ack(a domain.InboxAck) {
	if n, ok := v.acks[a.DeviceKey]; !ok || a.MiniblockNum > n {
		v.acks[a.DeviceKey] = a.MiniblockNum
	}
}

func (v *InboxView) deliver(te *TimelineEvent, e *emitter, replace bool) {
	gs := te.Event.Payload.GroupSessions
	for _, id := range gs.SessionIDs {
		if _, ok := v.deliveries[id]; ok && !replace {
			continue
		}
		v.deliveries[id] = te
	}
	e.emit(Event{
		Kind:     EventNewGroupSessions,
		User:     te.Creator(),
		Sessions: &GroupSessionsDelivery{EventHash: te.Hash, Sender: te.Creator(), GroupSessions: *gs},
	})
}

func (v *InboxView) appendEvent(te *TimelineEvent, e *emitter) error {
	switch te.Case() {
	case domain.PayloadGroupSessions:
		v.deliver(te, e, true)
	case domain.PayloadInboxAck:
		v.ack(*te.Event.Payload.InboxAck)
	default:
		return v.unexpected(te)
	}
	return nil
}

func (v *InboxView) prependEvent(te *TimelineEvent, e *emitter) error {
	switch te.Case() {
	case domain.PayloadGroupSessions:
		v.deliver(te, e, false)
	case domain.PayloadInboxAck:
		v.ack(*te.Event.Payload.InboxAck)
	default:
		return v.unexpected(te)
	}
	return nil
}

func sortByID[T any](items []T, id func(T) domain.StreamID) {
	slices.SortFunc(items, func(a, b T) int { return strings.Compare(string(id(a)), string(id(b))) })
}
