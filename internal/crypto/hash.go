package crypto

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strand/internal/domain"
)

// hasher frames data between fixed 8-byte markers before hashing, so that
// protocol hashes never collide with other keccak-256 uses on the same chain.
type hasher struct {
	header    [8]byte
	separator [8]byte
	footer    [8]byte
}

var (
	eventHasher = hasher{
		header:    [8]byte{'C', 'S', 'B', 'L', 'A', 'N', 'C', 'A'},
		separator: [8]byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', '>'},
		footer:    [8]byte{'<', 'G', 'F', 'E', 'D', 'C', 'B', 'A'},
	}
	snapshotHasher = hasher{
		header:    [8]byte{'S', 'N', 'A', 'P', 'S', 'H', 'O', 'T'},
		separator: [8]byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', '>'},
		footer:    [8]byte{'<', 'G', 'F', 'E', 'D', 'C', 'B', 'A'},
	}
)

func (h hasher) hash(data []byte) domain.Hash {
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(data)))
	return ethcrypto.Keccak256Hash(h.header[:], length[:], h.separator[:], data, h.footer[:])
}

// DomainHash is the hash of a serialized event:
// keccak256(HEADER ‖ len(data) as 8 bytes LE ‖ SEPARATOR ‖ data ‖ FOOTER).
func DomainHash(data []byte) domain.Hash { return eventHasher.hash(data) }

// SnapshotHash hashes a serialized snapshot with the SNAPSHOT header.
func SnapshotHash(data []byte) domain.Hash { return snapshotHasher.hash(data) }
