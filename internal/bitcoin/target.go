package bitcoin

import (
	"encoding/hex"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/bardlex/gosolo/pkg/errors"
)

// Target is a 256-bit proof-of-work threshold in big-endian byte order.
type Target [32]byte

// diffOneBits is the compact encoding of the difficulty 1 target.
const diffOneBits = 0x1d00ffff

// DecodeTarget expands a compact nbits value (8 hex chars) into a Target.
//
// Byte 0 is the exponent e, bytes 1-3 the mantissa, placed so that its last
// byte lands at offset 32-(e-3)-1. Exponents outside [3,32] are rejected.
func DecodeTarget(nbits string) (Target, error) {
	var t Target

	raw, err := hex.DecodeString(nbits)
	if err != nil {
		return t, errors.Wrap(err, errors.ErrorTypeDecode, "decode_target", "nbits is not valid hex").
			WithContext("nbits", nbits)
	}
	if len(raw) != 4 {
		return t, errors.New(errors.ErrorTypeDecode, "decode_target", "nbits must be 4 bytes").
			WithContext("nbits", nbits)
	}

	exponent := int(raw[0])
	if exponent < 3 || exponent > 32 {
		return t, errors.New(errors.ErrorTypeInvalidTarget, "decode_target", "exponent out of range").
			WithContext("nbits", nbits).
			WithContext("exponent", exponent)
	}

	shift := exponent - 3
	if shift >= 32 {
		return t, nil
	}

	offset := 32 - shift - 3
	for i, b := range raw[1:] {
		if pos := offset + i; pos >= 0 && pos < 32 {
			t[pos] = b
		}
	}
	return t, nil
}

// HashMeetsTarget reports whether hash <= target, comparing the most
// significant byte first.
func HashMeetsTarget(hash [32]byte, target Target) bool {
	for i := 0; i < 32; i++ {
		if hash[i] < target[i] {
			return true
		}
		if hash[i] > target[i] {
			return false
		}
	}
	return true
}

// Hex returns the target as 64 hex characters.
func (t Target) Hex() string {
	return hex.EncodeToString(t[:])
}

// Big returns the target as an unsigned integer.
func (t Target) Big() *big.Int {
	return new(big.Int).SetBytes(t[:])
}

// IsZero reports whether no hash can satisfy the target.
func (t Target) IsZero() bool {
	return t == Target{}
}

// Difficulty returns the target expressed relative to the difficulty 1
// target. A zero target yields 0.
func (t Target) Difficulty() float64 {
	if t.IsZero() {
		return 0
	}
	diffOne := new(big.Float).SetInt(blockchain.CompactToBig(diffOneBits))
	d, _ := new(big.Float).Quo(diffOne, new(big.Float).SetInt(t.Big())).Float64()
	return d
}
