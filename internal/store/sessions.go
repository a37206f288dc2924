package store

import (
	bolt "go.etcd.io/bbolt"

	"strand/internal/domain"
)

// PutInboundSessions stores sessions of streamID. Existing sessions with
// the same id are kept.
func (d *DB) PutInboundSessions(streamID domain.StreamID, sessions []domain.GroupSession) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket([]byte(inboundBucket)).CreateBucketIfNotExists([]byte(streamID))
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if b.Get([]byte(s.SessionID)) != nil {
				continue
			}
			s.StreamID = streamID
			v, err := encMode.Marshal(s)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(s.SessionID), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// InboundSession returns the session, or nil when it is not held.
func (d *DB) InboundSession(streamID domain.StreamID, sessionID domain.SessionID) (*domain.GroupSession, error) {
	var out *domain.GroupSession
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(inboundBucket)).Bucket([]byte(streamID))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		var s domain.GroupSession
		if err := decMode.Unmarshal(v, &s); err != nil {
			return err
		}
		out = &s
		return nil
	})
	return out, err
}

// InboundSessionIDs returns the ids held for streamID in sorted order.
func (d *DB) InboundSessionIDs(streamID domain.StreamID) ([]domain.SessionID, error) {
	var ids []domain.SessionID
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(inboundBucket)).Bucket([]byte(streamID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, domain.SessionID(k))
			return nil
		})
	})
	return ids, err
}

// OutboundSession returns the session this device encrypts new content of
// streamID with, or nil.
func (d *DB) OutboundSession(streamID domain.StreamID) (*domain.GroupSession, error) {
	var out *domain.GroupSession
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(outboundBucket)).Get([]byte(streamID))
		if v == nil {
			return nil
		}
		var s domain.GroupSession
		if err := decMode.Unmarshal(v, &s); err != nil {
			return err
		}
		out = &s
		return nil
	})
	return out, err
}

// PutOutboundSession makes s the outbound session of its stream and stores
// it as an inbound session as well, so this device can read its own content.
func (d *DB) PutOutboundSession(s domain.GroupSession) error {
	v, err := encMode.Marshal(s)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(outboundBucket)).Put([]byte(s.StreamID), v); err != nil {
			return err
		}
		b, err := tx.Bucket([]byte(inboundBucket)).CreateBucketIfNotExists([]byte(s.StreamID))
		if err != nil {
			return err
		}
		return b.Put([]byte(s.SessionID), v)
	})
}
