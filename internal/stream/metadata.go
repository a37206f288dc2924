package stream

import (
	"math"
	"strings"
	"sync"

	"strand/internal/domain"
)

// MetadataEntry is an encrypted username or display name and, once the
// scheduler has decrypted it, its plaintext.
type MetadataEntry struct {
	User      domain.Address
	EventHash domain.Hash
	EventNum  int64
	Pending   bool
	Data      domain.EncryptedData
	Plaintext string
	Decrypted bool

	seq uint64
}

// before orders claims: confirmed claims by event number, then pending
// claims in arrival order.
func (e *MetadataEntry) before(o *MetadataEntry) bool {
	a, b := e.EventNum, o.EventNum
	if e.Pending {
		a = math.MaxInt64
	}
	if o.Pending {
		b = math.MaxInt64
	}
	if a != b {
		return a < b
	}
	return e.seq < o.seq
}

// UserMetadata tracks the usernames and display names of stream members.
// Usernames are unique ignoring case. The earliest confirmed claim wins.
type UserMetadata struct {
	mu *sync.RWMutex

	usernames    map[domain.Address]*MetadataEntry
	displayNames map[domain.Address]*MetadataEntry
	byHash       map[domain.Hash]*MetadataEntry
	seq          uint64
}

func newUserMetadata(mu *sync.RWMutex) *UserMetadata {
	return &UserMetadata{
		mu:           mu,
		usernames:    make(map[domain.Address]*MetadataEntry),
		displayNames: make(map[domain.Address]*MetadataEntry),
		byHash:       make(map[domain.Hash]*MetadataEntry),
	}
}

// Username returns user's username if it is decrypted and not claimed
// earlier by another member.
func (md *UserMetadata) Username(user domain.Address) (string, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()
	e, ok := md.usernames[user]
	if !ok || !e.Decrypted || !md.validUsername(e) {
		return "", false
	}
	return e.Plaintext, true
}

// Usernames returns every valid username.
func (md *UserMetadata) Usernames() map[domain.Address]string {
	md.mu.RLock()
	defer md.mu.RUnlock()
	out := make(map[domain.Address]string)
	for user, e := range md.usernames {
		if e.Decrypted && md.validUsername(e) {
			out[user] = e.Plaintext
		}
	}
	return out
}

// DisplayName returns user's decrypted display name.
func (md *UserMetadata) DisplayName(user domain.Address) (string, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()
	e, ok := md.displayNames[user]
	if !ok || !e.Decrypted {
		return "", false
	}
	return e.Plaintext, true
}

// UsernameEntry returns the raw username claim of user.
func (md *UserMetadata) UsernameEntry(user domain.Address) (MetadataEntry, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()
	e, ok := md.usernames[user]
	if !ok {
		return MetadataEntry{}, false
	}
	return *e, true
}

func (md *UserMetadata) validUsername(e *MetadataEntry) bool {
	name := strings.ToLower(e.Plaintext)
	for user, o := range md.usernames {
		if user == e.User || !o.Decrypted {
			continue
		}
		if strings.ToLower(o.Plaintext) == name && o.before(e) {
			return false
		}
	}
	return true
}

func (md *UserMetadata) put(
	slot map[domain.Address]*MetadataEntry,
	e *MetadataEntry,
	kind domain.EncryptedContentKind,
	em *emitter,
) {
	md.seq++
	e.seq = md.seq
	if old, ok := slot[e.User]; ok {
		delete(md.byHash, old.EventHash)
	}
	slot[e.User] = e
	md.byHash[e.EventHash] = e
	em.emit(Event{
		Kind: EventNewEncryptedContent,
		Content: &domain.EncryptedContent{
			StreamID:       em.streamID,
			EventHash:      e.EventHash,
			Kind:           kind,
			CreatorAddress: e.User,
			Data:           e.Data,
		},
	})
}

func (md *UserMetadata) putPending(
	slot map[domain.Address]*MetadataEntry,
	te *TimelineEvent,
	data domain.EncryptedData,
	kind domain.EncryptedContentKind,
	em *emitter,
) {
	md.put(slot, &MetadataEntry{
		User:      te.Creator(),
		EventHash: te.Hash,
		EventNum:  te.EventNum,
		Pending:   !te.Confirmed,
		Data:      data,
	}, kind, em)
}

func (md *UserMetadata) putConfirmed(
	slot map[domain.Address]*MetadataEntry,
	user domain.Address,
	w domain.WrappedEncrypted,
	kind domain.EncryptedContentKind,
	em *emitter,
) {
	md.put(slot, &MetadataEntry{
		User:      user,
		EventHash: w.EventHash,
		EventNum:  w.EventNum,
		Data:      w.Data,
	}, kind, em)
}

func (md *UserMetadata) confirm(hash domain.Hash, eventNum int64) {
	if e, ok := md.byHash[hash]; ok {
		e.Pending = false
		e.EventNum = eventNum
	}
}

// onDecrypted stores plaintext for the entry set by hash. It reports false
// when hash no longer names a current entry.
func (md *UserMetadata) onDecrypted(hash domain.Hash, plaintext []byte) bool {
	e, ok := md.byHash[hash]
	if !ok {
		return false
	}
	e.Plaintext = string(plaintext)
	e.Decrypted = true
	return true
}
