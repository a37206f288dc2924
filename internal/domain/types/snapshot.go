package types

// Snapshot is the compacted state of a stream at a miniblock boundary.
// Only the section matching the stream's kind is populated.
type Snapshot struct {
	Inception  Inception           `json:"inception"`
	Members    MembersSnapshot     `json:"members"`
	Space      *SpaceSnapshot      `json:"space,omitempty"`
	User       *UserSnapshot       `json:"user,omitempty"`
	DeviceKeys *DeviceKeysSnapshot `json:"device_keys,omitempty"`
	Settings   *SettingsSnapshot   `json:"settings,omitempty"`
	Inbox      *InboxSnapshot      `json:"inbox,omitempty"`
}

// MembersSnapshot lists every member with a non-empty membership.
type MembersSnapshot struct {
	Members []MemberSnapshot `json:"members"`
}

// MemberSnapshot is one member's compacted state.
type MemberSnapshot struct {
	UserAddress   Address           `json:"user_address"`
	Op            MembershipOp      `json:"op"`
	MiniblockNum  int64             `json:"miniblock_num"`
	EventNum      int64             `json:"event_num"`
	Solicitations []KeySolicitation `json:"solicitations,omitempty"`
	Username      *WrappedEncrypted `json:"username,omitempty"`
	DisplayName   *WrappedEncrypted `json:"display_name,omitempty"`
}

// WrappedEncrypted is an encrypted value together with the event that set it.
type WrappedEncrypted struct {
	EventHash Hash          `json:"event_hash"`
	EventNum  int64         `json:"event_num"`
	Data      EncryptedData `json:"data"`
}

// SpaceSnapshot holds the channels registered on a space.
type SpaceSnapshot struct {
	Channels []ChannelUpdate `json:"channels"`
}

// UserSnapshot holds the streams a user belongs to.
type UserSnapshot struct {
	Memberships []UserMembership `json:"memberships"`
}

// DeviceKeysSnapshot holds the device keys a user has published.
type DeviceKeysSnapshot struct {
	Keys []DeviceKeyUpload `json:"keys"`
}

// SettingsSnapshot holds fully-read markers per channel.
type SettingsSnapshot struct {
	FullyRead []FullyRead `json:"fully_read"`
}

// InboxSnapshot holds the last ack per device.
type InboxSnapshot struct {
	Acks []InboxAck `json:"acks"`
}
