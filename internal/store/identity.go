package store

import (
	bolt "go.etcd.io/bbolt"

	"strand/internal/domain"
	"strand/internal/util/memzero"
)

var (
	_ domain.IdentityStore     = (*DB)(nil)
	_ domain.GroupSessionStore = (*DB)(nil)
)

// SaveIdentity seals id with passphrase, replacing any saved identity.
func (d *DB) SaveIdentity(passphrase string, id domain.Identity) error {
	raw, err := encMode.Marshal(id)
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)
	sealed, err := seal(passphrase, raw)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(identityBucket)).Put([]byte(identityKey), sealed)
	})
}

// LoadIdentity opens the saved identity.
func (d *DB) LoadIdentity(passphrase string) (domain.Identity, error) {
	var sealed []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(identityBucket)).Get([]byte(identityKey)); v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	if sealed == nil {
		return domain.Identity{}, ErrNoIdentity
	}
	raw, err := open(passphrase, sealed)
	if err != nil {
		return domain.Identity{}, err
	}
	defer memzero.Zero(raw)
	var id domain.Identity
	if err := decMode.Unmarshal(raw, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// HasIdentity reports whether an identity has been saved.
func (d *DB) HasIdentity() (bool, error) {
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(identityBucket)).Get([]byte(identityKey)) != nil
		return nil
	})
	return ok, err
}
