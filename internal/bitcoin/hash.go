package bitcoin

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DoubleHash returns SHA-256(SHA-256(b)).
func DoubleHash(b []byte) [32]byte {
	return chainhash.DoubleHashH(b)
}

// HashHex encodes a digest in the byte order it was produced in.
func HashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// DisplayHash renders a digest the way block explorers show it (byte-reversed).
func DisplayHash(h [32]byte) string {
	return chainhash.Hash(h).String()
}
