package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const keyIDBytes = 10

// KeyID names a device encryption key in a compact form: the first 10 bytes
// of its keccak-256 hash, hex encoded. Devices publish it as their fallback
// key.
func KeyID(pub []byte) string {
	return hex.EncodeToString(crypto.Keccak256(pub)[:keyIDBytes])
}

// Fingerprint is KeyID split into groups of four for users comparing device
// keys out of band.
func Fingerprint(pub []byte) string {
	id := KeyID(pub)
	groups := make([]string, 0, len(id)/4)
	for i := 0; i < len(id); i += 4 {
		groups = append(groups, id[i:i+4])
	}
	return strings.Join(groups, " ")
}
