package interfaces

import domaintypes "strand/internal/domain/types"

// IdentityStore persists the local identity, sealed with a passphrase.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	HasIdentity() (bool, error)
}

// CleartextStore caches decrypted content by event hash.
type CleartextStore interface {
	SaveCleartext(eventHash domaintypes.Hash, plaintext []byte) error
	GetCleartexts(eventHashes []domaintypes.Hash) (map[domaintypes.Hash][]byte, error)
}

// GroupSessionStore persists the group sessions a device holds.
type GroupSessionStore interface {
	PutInboundSessions(streamID domaintypes.StreamID, sessions []domaintypes.GroupSession) error
	InboundSession(streamID domaintypes.StreamID, sessionID domaintypes.SessionID) (*domaintypes.GroupSession, error)
	InboundSessionIDs(streamID domaintypes.StreamID) ([]domaintypes.SessionID, error)
	OutboundSession(streamID domaintypes.StreamID) (*domaintypes.GroupSession, error)
	PutOutboundSession(s domaintypes.GroupSession) error
}
