package types

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// ContentKind is the kind of content a stream carries. It is encoded in the
// first byte of every stream id.
type ContentKind uint8

const (
	KindUnknown ContentKind = iota
	KindSpace
	KindChannel
	KindDM
	KindGDM
	KindMedia
	KindUser
	KindDeviceKeys
	KindSettings
	KindInbox
)

const (
	// userScopedIDLength is the hex length of ids derived from an address.
	userScopedIDLength = 2 + 40
	// randomIDLength is the hex length of ids minted for shared streams.
	randomIDLength = 2 + 62
)

var kindPrefixes = map[ContentKind]string{
	KindSpace:      "10",
	KindChannel:    "20",
	KindGDM:        "77",
	KindDM:         "88",
	KindMedia:      "ff",
	KindUser:       "a8",
	KindDeviceKeys: "ad",
	KindSettings:   "a5",
	KindInbox:      "a1",
}

var kindNames = map[ContentKind]string{
	KindUnknown:    "unknown",
	KindSpace:      "space",
	KindChannel:    "channel",
	KindDM:         "dm",
	KindGDM:        "gdm",
	KindMedia:      "media",
	KindUser:       "user",
	KindDeviceKeys: "device_keys",
	KindSettings:   "settings",
	KindInbox:      "inbox",
}

// String returns the lowercase name of the kind.
func (k ContentKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Prefix returns the two hex characters that introduce ids of this kind.
func (k ContentKind) Prefix() string { return kindPrefixes[k] }

// UserScoped reports whether ids of this kind are derived from a user address.
func (k ContentKind) UserScoped() bool {
	switch k {
	case KindUser, KindDeviceKeys, KindSettings, KindInbox:
		return true
	}
	return false
}

// IDLength returns the total hex length of a stream id of this kind,
// including its prefix.
func (k ContentKind) IDLength() int {
	if k.UserScoped() {
		return userScopedIDLength
	}
	return randomIDLength
}

// StreamID is a typed, fixed-length lowercase hex stream identifier.
type StreamID string

// String returns the string form of the stream id.
func (id StreamID) String() string { return string(id) }

// Kind returns the content kind encoded in the prefix, or KindUnknown.
func (id StreamID) Kind() ContentKind {
	if len(id) < 2 {
		return KindUnknown
	}
	p := string(id[:2])
	for k, prefix := range kindPrefixes {
		if prefix == p {
			return k
		}
	}
	return KindUnknown
}

// Validate checks the prefix-to-length mapping and the hex charset.
func (id StreamID) Validate() error {
	k := id.Kind()
	if k == KindUnknown {
		return NewError(CodeBadStreamID, "unknown stream id prefix %q", prefixOf(id))
	}
	if len(id) != k.IDLength() {
		return NewError(CodeBadStreamID, "stream id %q has length %d, want %d", string(id), len(id), k.IDLength())
	}
	for _, c := range string(id) {
		if !isLowerHex(c) {
			return NewError(CodeBadStreamID, "stream id %q is not lowercase hex", string(id))
		}
	}
	return nil
}

// Valid is Validate without the reason.
func (id StreamID) Valid() bool { return id.Validate() == nil }

// Short returns an abbreviated id for log lines.
func (id StreamID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:6]) + ".." + string(id[len(id)-4:])
}

// ParseStreamID validates s and returns it as a StreamID.
func ParseStreamID(s string) (StreamID, error) {
	id := StreamID(strings.TrimPrefix(s, "0x"))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// MakeStreamID joins a kind prefix and a hex body into a validated id.
func MakeStreamID(kind ContentKind, body string) (StreamID, error) {
	return ParseStreamID(kind.Prefix() + strings.ToLower(body))
}

// UserStreamID returns the id of a user-scoped stream owned by addr.
func UserStreamID(kind ContentKind, addr Address) (StreamID, error) {
	if !kind.UserScoped() {
		return "", NewError(CodeBadStreamID, "%s streams are not user scoped", kind)
	}
	return MakeStreamID(kind, hex.EncodeToString(addr.Bytes()))
}

// RandomStreamID mints a fresh id for a shared (non user scoped) stream.
func RandomStreamID(kind ContentKind) (StreamID, error) {
	if kind == KindUnknown || kind.UserScoped() {
		return "", NewError(CodeBadStreamID, "cannot mint random id for %s streams", kind)
	}
	var b [31]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return MakeStreamID(kind, hex.EncodeToString(b[:]))
}

func prefixOf(id StreamID) string {
	if len(id) < 2 {
		return string(id)
	}
	return string(id[:2])
}

func isLowerHex(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}
