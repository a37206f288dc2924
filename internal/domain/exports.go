package domain

import (
	interfaces "strand/internal/domain/interfaces"
	types "strand/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Hash                 = types.Hash
	Address              = types.Address
	DeviceKey            = types.DeviceKey
	SessionID            = types.SessionID
	Fingerprint          = types.Fingerprint
	ContentKind          = types.ContentKind
	StreamID             = types.StreamID
	Code                 = types.Code
	Error                = types.Error
	Envelope             = types.Envelope
	Event                = types.Event
	Miniblock            = types.Miniblock
	MiniblockInfo        = types.MiniblockInfo
	PayloadCase          = types.PayloadCase
	Payload              = types.Payload
	Inception            = types.Inception
	Membership           = types.Membership
	EncryptedData        = types.EncryptedData
	Message              = types.Message
	Username             = types.Username
	DisplayName          = types.DisplayName
	KeySolicitation      = types.KeySolicitation
	KeyFulfillment       = types.KeyFulfillment
	DeviceKeyUpload      = types.DeviceKeyUpload
	GroupSessions        = types.GroupSessions
	InboxAck             = types.InboxAck
	ChannelOp            = types.ChannelOp
	ChannelUpdate        = types.ChannelUpdate
	UserMembership       = types.UserMembership
	FullyRead            = types.FullyRead
	MediaChunk           = types.MediaChunk
	MiniblockHeader      = types.MiniblockHeader
	Snapshot             = types.Snapshot
	MembersSnapshot      = types.MembersSnapshot
	MemberSnapshot       = types.MemberSnapshot
	WrappedEncrypted     = types.WrappedEncrypted
	SpaceSnapshot        = types.SpaceSnapshot
	UserSnapshot         = types.UserSnapshot
	DeviceKeysSnapshot   = types.DeviceKeysSnapshot
	SettingsSnapshot     = types.SettingsSnapshot
	InboxSnapshot        = types.InboxSnapshot
	MembershipOp         = types.MembershipOp
	MembershipState      = types.MembershipState
	Permission           = types.Permission
	X25519Public         = types.X25519Public
	X25519Private        = types.X25519Private
	GroupSession         = types.GroupSession
	SessionBundle        = types.SessionBundle
	EncryptedContentKind = types.EncryptedContentKind
	EncryptedContent     = types.EncryptedContent
	DecryptedContent     = types.DecryptedContent
	KeySource            = types.KeySource
	SignerIdentity       = types.SignerIdentity
	Identity             = types.Identity
	SyncCookie           = types.SyncCookie
	SyncOp               = types.SyncOp
	SyncResponse         = types.SyncResponse
	StreamAndCookie      = types.StreamAndCookie
	LastMiniblock        = types.LastMiniblock
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Transport          = interfaces.Transport
	SyncSubscription   = interfaces.SyncSubscription
	CryptoDevice       = interfaces.CryptoDevice
	Entitlements       = interfaces.Entitlements
	KeyExchangeClient  = interfaces.KeyExchangeClient
	IdentityStore      = interfaces.IdentityStore
	CleartextStore     = interfaces.CleartextStore
	GroupSessionStore  = interfaces.GroupSessionStore
	IdentityService    = interfaces.IdentityService
	DeviceKeyDirectory = interfaces.DeviceKeyDirectory
)

// Constants re-exported from the types subpackage.
const (
	HashLength            = types.HashLength
	SaltLength            = types.SaltLength
	GroupSessionAlgorithm = types.GroupSessionAlgorithm

	KindUnknown    = types.KindUnknown
	KindSpace      = types.KindSpace
	KindChannel    = types.KindChannel
	KindDM         = types.KindDM
	KindGDM        = types.KindGDM
	KindMedia      = types.KindMedia
	KindUser       = types.KindUser
	KindDeviceKeys = types.KindDeviceKeys
	KindSettings   = types.KindSettings
	KindInbox      = types.KindInbox

	CodeUnspecified       = types.CodeUnspecified
	CodeBadStreamID       = types.CodeBadStreamID
	CodeBadEventID        = types.CodeBadEventID
	CodeBadEventSignature = types.CodeBadEventSignature
	CodeBadHashFormat     = types.CodeBadHashFormat
	CodeBadPrevEvents     = types.CodeBadPrevEvents
	CodeBadEvent          = types.CodeBadEvent
	CodeStreamEmpty       = types.CodeStreamEmpty
	CodeStreamBadEvent    = types.CodeStreamBadEvent
	CodeBadDelegateSig    = types.CodeBadDelegateSig
	CodeBadPublicKey      = types.CodeBadPublicKey
	CodeBadPayload        = types.CodeBadPayload

	PayloadNone            = types.PayloadNone
	PayloadInception       = types.PayloadInception
	PayloadMembership      = types.PayloadMembership
	PayloadMessage         = types.PayloadMessage
	PayloadUsername        = types.PayloadUsername
	PayloadDisplayName     = types.PayloadDisplayName
	PayloadKeySolicitation = types.PayloadKeySolicitation
	PayloadKeyFulfillment  = types.PayloadKeyFulfillment
	PayloadDeviceKey       = types.PayloadDeviceKey
	PayloadGroupSessions   = types.PayloadGroupSessions
	PayloadInboxAck        = types.PayloadInboxAck
	PayloadChannel         = types.PayloadChannel
	PayloadUserMembership  = types.PayloadUserMembership
	PayloadFullyRead       = types.PayloadFullyRead
	PayloadMediaChunk      = types.PayloadMediaChunk
	PayloadMiniblockHeader = types.PayloadMiniblockHeader

	OpUnspecified = types.OpUnspecified
	OpInvite      = types.OpInvite
	OpJoin        = types.OpJoin
	OpLeave       = types.OpLeave

	MembershipNone           = types.MembershipNone
	MembershipPendingInvited = types.MembershipPendingInvited
	MembershipInvited        = types.MembershipInvited
	MembershipPendingJoined  = types.MembershipPendingJoined
	MembershipJoined         = types.MembershipJoined
	MembershipPendingLeft    = types.MembershipPendingLeft
	MembershipLeft           = types.MembershipLeft

	ChannelOpUnspecified = types.ChannelOpUnspecified
	ChannelOpCreated     = types.ChannelOpCreated
	ChannelOpUpdated     = types.ChannelOpUpdated
	ChannelOpDeleted     = types.ChannelOpDeleted

	PermissionRead  = types.PermissionRead
	PermissionWrite = types.PermissionWrite

	ContentMessage           = types.ContentMessage
	ContentUsername          = types.ContentUsername
	ContentDisplayName       = types.ContentDisplayName
	ContentChannelProperties = types.ContentChannelProperties

	SyncOpUnspecified = types.SyncOpUnspecified
	SyncOpNew         = types.SyncOpNew
	SyncOpUpdate      = types.SyncOpUpdate
	SyncOpClose       = types.SyncOpClose
)

// Error sentinels and helpers re-exported from the types subpackage.
var (
	ErrBadStreamID       = types.ErrBadStreamID
	ErrBadEventID        = types.ErrBadEventID
	ErrBadEventSignature = types.ErrBadEventSignature
	ErrBadHashFormat     = types.ErrBadHashFormat
	ErrBadPrevEvents     = types.ErrBadPrevEvents
	ErrBadEvent          = types.ErrBadEvent
	ErrStreamEmpty       = types.ErrStreamEmpty
	ErrStreamBadEvent    = types.ErrStreamBadEvent
	ErrBadDelegateSig    = types.ErrBadDelegateSig
	ErrBadPublicKey      = types.ErrBadPublicKey
	ErrBadPayload        = types.ErrBadPayload
	ErrSessionNotFound   = types.ErrSessionNotFound

	NewError       = types.NewError
	WrapError      = types.WrapError
	CodeOf         = types.CodeOf
	IsCode         = types.IsCode
	BytesToHash    = types.BytesToHash
	BytesToAddress = types.BytesToAddress
	ParseStreamID  = types.ParseStreamID
	MakeStreamID   = types.MakeStreamID
	UserStreamID   = types.UserStreamID
	RandomStreamID = types.RandomStreamID
)
