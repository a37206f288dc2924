package store

import (
	bolt "go.etcd.io/bbolt"

	"strand/internal/domain"
)

var _ domain.CleartextStore = (*DB)(nil)

// SaveCleartext caches the plaintext of the event with eventHash.
func (d *DB) SaveCleartext(eventHash domain.Hash, plaintext []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if plaintext == nil {
			plaintext = []byte{}
		}
		return tx.Bucket([]byte(cleartextBucket)).Put(eventHash[:], plaintext)
	})
}

// GetCleartexts returns the cached plaintexts among eventHashes. Misses are
// left out of the map.
func (d *DB) GetCleartexts(eventHashes []domain.Hash) (map[domain.Hash][]byte, error) {
	out := make(map[domain.Hash][]byte)
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cleartextBucket))
		for _, h := range eventHashes {
			if v := b.Get(h[:]); v != nil {
				out[h] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, err
}
