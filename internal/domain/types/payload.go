package types

// PayloadCase names the variant set in a Payload.
type PayloadCase uint8

const (
	PayloadNone PayloadCase = iota
	PayloadInception
	PayloadMembership
	PayloadMessage
	PayloadUsername
	PayloadDisplayName
	PayloadKeySolicitation
	PayloadKeyFulfillment
	PayloadDeviceKey
	PayloadGroupSessions
	PayloadInboxAck
	PayloadChannel
	PayloadUserMembership
	PayloadFullyRead
	PayloadMediaChunk
	PayloadMiniblockHeader
)

var payloadCaseNames = [...]string{
	PayloadNone:            "none",
	PayloadInception:       "inception",
	PayloadMembership:      "membership",
	PayloadMessage:         "message",
	PayloadUsername:        "username",
	PayloadDisplayName:     "displayName",
	PayloadKeySolicitation: "keySolicitation",
	PayloadKeyFulfillment:  "keyFulfillment",
	PayloadDeviceKey:       "deviceKey",
	PayloadGroupSessions:   "groupSessions",
	PayloadInboxAck:        "inboxAck",
	PayloadChannel:         "channel",
	PayloadUserMembership:  "userMembership",
	PayloadFullyRead:       "fullyRead",
	PayloadMediaChunk:      "mediaChunk",
	PayloadMiniblockHeader: "miniblockHeader",
}

func (c PayloadCase) String() string {
	if int(c) < len(payloadCaseNames) {
		return payloadCaseNames[c]
	}
	return "invalid"
}

// Payload is a closed set of variants. Exactly one field must be set.
type Payload struct {
	Inception       *Inception       `cbor:"1,keyasint,omitempty" json:"inception,omitempty"`
	Membership      *Membership      `cbor:"2,keyasint,omitempty" json:"membership,omitempty"`
	Message         *Message         `cbor:"3,keyasint,omitempty" json:"message,omitempty"`
	Username        *Username        `cbor:"4,keyasint,omitempty" json:"username,omitempty"`
	DisplayName     *DisplayName     `cbor:"5,keyasint,omitempty" json:"display_name,omitempty"`
	KeySolicitation *KeySolicitation `cbor:"6,keyasint,omitempty" json:"key_solicitation,omitempty"`
	KeyFulfillment  *KeyFulfillment  `cbor:"7,keyasint,omitempty" json:"key_fulfillment,omitempty"`
	DeviceKey       *DeviceKeyUpload `cbor:"8,keyasint,omitempty" json:"device_key,omitempty"`
	GroupSessions   *GroupSessions   `cbor:"9,keyasint,omitempty" json:"group_sessions,omitempty"`
	InboxAck        *InboxAck        `cbor:"10,keyasint,omitempty" json:"inbox_ack,omitempty"`
	Channel         *ChannelUpdate   `cbor:"11,keyasint,omitempty" json:"channel,omitempty"`
	UserMembership  *UserMembership  `cbor:"12,keyasint,omitempty" json:"user_membership,omitempty"`
	FullyRead       *FullyRead       `cbor:"13,keyasint,omitempty" json:"fully_read,omitempty"`
	MediaChunk      *MediaChunk      `cbor:"14,keyasint,omitempty" json:"media_chunk,omitempty"`
	MiniblockHeader *MiniblockHeader `cbor:"15,keyasint,omitempty" json:"miniblock_header,omitempty"`
}

// Case returns the variant set in p. It returns PayloadNone when no variant
// or more than one variant is set.
func (p *Payload) Case() PayloadCase {
	if p == nil {
		return PayloadNone
	}
	set := PayloadNone
	n := 0
	mark := func(ok bool, c PayloadCase) {
		if ok {
			set = c
			n++
		}
	}
	mark(p.Inception != nil, PayloadInception)
	mark(p.Membership != nil, PayloadMembership)
	mark(p.Message != nil, PayloadMessage)
	mark(p.Username != nil, PayloadUsername)
	mark(p.DisplayName != nil, PayloadDisplayName)
	mark(p.KeySolicitation != nil, PayloadKeySolicitation)
	mark(p.KeyFulfillment != nil, PayloadKeyFulfillment)
	mark(p.DeviceKey != nil, PayloadDeviceKey)
	mark(p.GroupSessions != nil, PayloadGroupSessions)
	mark(p.InboxAck != nil, PayloadInboxAck)
	mark(p.Channel != nil, PayloadChannel)
	mark(p.UserMembership != nil, PayloadUserMembership)
	mark(p.FullyRead != nil, PayloadFullyRead)
	mark(p.MediaChunk != nil, PayloadMediaChunk)
	mark(p.MiniblockHeader != nil, PayloadMiniblockHeader)
	if n != 1 {
		return PayloadNone
	}
	return set
}

// Inception opens a stream. Only the fields relevant to the stream's kind
// are set.
type Inception struct {
	StreamID    StreamID `json:"stream_id"`
	SpaceID     StreamID `json:"space_id,omitempty"`
	FirstParty  Address  `json:"first_party,omitempty"`
	SecondParty Address  `json:"second_party,omitempty"`
	ChunkCount  int      `json:"chunk_count,omitempty"`
	ChannelID   StreamID `json:"channel_id,omitempty"`
}

// Membership changes a user's membership of a stream.
type Membership struct {
	Op               MembershipOp `json:"op"`
	UserAddress      Address      `json:"user_address"`
	InitiatorAddress Address      `json:"initiator_address"`
	StreamParentID   StreamID     `json:"stream_parent_id,omitempty"`
}

// EncryptedData is group-encrypted content.
type EncryptedData struct {
	Ciphertext []byte    `json:"ciphertext"`
	Algorithm  string    `json:"algorithm"`
	SenderKey  DeviceKey `json:"sender_key"`
	SessionID  SessionID `json:"session_id"`
}

// Message carries an encrypted timeline message.
type Message struct {
	Data EncryptedData `json:"data"`
}

// Username claims an encrypted username for the creator in this stream.
type Username struct {
	Data EncryptedData `json:"data"`
}

// DisplayName sets an encrypted display name for the creator in this stream.
type DisplayName struct {
	Data EncryptedData `json:"data"`
}

// KeySolicitation asks stream members for missing group sessions.
type KeySolicitation struct {
	DeviceKey   DeviceKey   `json:"device_key"`
	FallbackKey string      `json:"fallback_key"`
	IsNewDevice bool        `json:"is_new_device"`
	SessionIDs  []SessionID `json:"session_ids"`
}

// KeyFulfillment records that a member answered a solicitation.
type KeyFulfillment struct {
	UserAddress Address     `json:"user_address"`
	DeviceKey   DeviceKey   `json:"device_key"`
	SessionIDs  []SessionID `json:"session_ids"`
}

// DeviceKeyUpload publishes a device key on the owner's device-key stream.
type DeviceKeyUpload struct {
	DeviceKey   DeviceKey `json:"device_key"`
	FallbackKey string    `json:"fallback_key"`
	DeviceID    string    `json:"device_id,omitempty"`
}

// GroupSessions delivers group sessions for StreamID to one or more devices.
// Ciphertexts maps recipient device key to the sealed session bundle.
type GroupSessions struct {
	StreamID    StreamID             `json:"stream_id"`
	SenderKey   DeviceKey            `json:"sender_key"`
	SessionIDs  []SessionID          `json:"session_ids"`
	Ciphertexts map[DeviceKey][]byte `json:"ciphertexts"`
	Algorithm   string               `json:"algorithm"`
}

// InboxAck records how far a device has processed its inbox stream.
type InboxAck struct {
	DeviceKey    DeviceKey `json:"device_key"`
	MiniblockNum int64     `json:"miniblock_num"`
}

// ChannelOp is the operation carried by a ChannelUpdate.
type ChannelOp uint8

const (
	ChannelOpUnspecified ChannelOp = iota
	ChannelOpCreated
	ChannelOpUpdated
	ChannelOpDeleted
)

// ChannelUpdate registers or modifies a channel on a space stream.
type ChannelUpdate struct {
	Op         ChannelOp      `json:"op"`
	ChannelID  StreamID       `json:"channel_id"`
	Properties *EncryptedData `json:"properties,omitempty"`
}

// UserMembership mirrors a membership change onto the user's own stream.
type UserMembership struct {
	StreamID StreamID     `json:"stream_id"`
	Op       MembershipOp `json:"op"`
	Inviter  Address      `json:"inviter,omitempty"`
}

// FullyRead stores the fully-read marker for a channel on the settings stream.
type FullyRead struct {
	ChannelID StreamID `json:"channel_id"`
	Content   string   `json:"content"`
}

// MediaChunk is one chunk of a media stream.
type MediaChunk struct {
	Data       []byte `json:"data"`
	ChunkIndex int    `json:"chunk_index"`
}

// MiniblockHeader summarizes a miniblock. Snapshot is set on snapshot
// boundaries. Events of the block are numbered from EventNumOffset and the
// header event itself takes the number after the last event.
type MiniblockHeader struct {
	MiniblockNum             int64     `json:"miniblock_num"`
	PrevMiniblockHash        Hash      `json:"prev_miniblock_hash"`
	PrevSnapshotMiniblockNum int64     `json:"prev_snapshot_miniblock_num"`
	EventNumOffset           int64     `json:"event_num_offset"`
	EventHashes              []Hash    `json:"event_hashes"`
	Snapshot                 *Snapshot `json:"snapshot,omitempty"`
}
