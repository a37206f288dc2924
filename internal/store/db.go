package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	identityBucket  = "identity"
	inboundBucket   = "inbound_sessions"
	outboundBucket  = "outbound_sessions"
	cleartextBucket = "cleartexts"

	identityKey = "sealed"
)

var buckets = []string{identityBucket, inboundBucket, outboundBucket, cleartextBucket}

var (
	// ErrNoIdentity is returned when no identity has been saved yet.
	ErrNoIdentity = errors.New("store: no identity")

	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("store: cbor enc mode: %v", err))
	}
	if decMode, err = (cbor.DecOptions{MaxNestedLevels: 16}).DecMode(); err != nil {
		panic(fmt.Sprintf("store: cbor dec mode: %v", err))
	}
}

// DB is a device's state database.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	if err := d.db.Sync(); err != nil {
		d.db.Close()
		return err
	}
	return d.db.Close()
}
