package bitcoin

import (
	"encoding/hex"

	"github.com/bardlex/gosolo/pkg/errors"
)

// BuildMerkleRoot folds the coinbase hash with each branch entry in order:
// acc = DoubleHash(acc || entry). An empty branch returns the coinbase hash.
func BuildMerkleRoot(coinbaseHash [32]byte, branch [][32]byte) [32]byte {
	acc := coinbaseHash
	var buf [64]byte
	for _, entry := range branch {
		copy(buf[:32], acc[:])
		copy(buf[32:], entry[:])
		acc = DoubleHash(buf[:])
	}
	return acc
}

// ReverseHexBytes reverses the order of 2-character byte groups in s. The
// characters inside each group keep their order. A trailing odd character
// forms its own group.
func ReverseHexBytes(s string) string {
	out := make([]byte, 0, len(s))
	end := len(s)
	if end%2 == 1 {
		out = append(out, s[end-1])
		end--
	}
	for i := end; i > 0; i -= 2 {
		out = append(out, s[i-2:i]...)
	}
	return string(out)
}

// CoinbaseHash assembles coinb1 || extranonce1 || extranonce2 || coinb2 and
// returns its double hash.
func CoinbaseHash(coinb1, extranonce1, extranonce2, coinb2 string) ([32]byte, error) {
	coinbaseHex := coinb1 + extranonce1 + extranonce2 + coinb2
	coinbase, err := hex.DecodeString(coinbaseHex)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, errors.ErrorTypeDecode, "coinbase_hash", "coinbase is not valid hex").
			WithContext("coinbase_len", len(coinbaseHex))
	}
	return DoubleHash(coinbase), nil
}

// DecodeBranch decodes merkle branch entries, each of which must be 32 bytes.
func DecodeBranch(branch []string) ([][32]byte, error) {
	out := make([][32]byte, len(branch))
	for i, entry := range branch {
		raw, err := hex.DecodeString(entry)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "decode_branch", "branch entry is not valid hex").
				WithContext("index", i)
		}
		if len(raw) != 32 {
			return nil, errors.New(errors.ErrorTypeDecode, "decode_branch", "branch entry must be 32 bytes").
				WithContext("index", i).
				WithContext("length", len(raw))
		}
		copy(out[i][:], raw)
	}
	return out, nil
}

// MerkleRootHex folds a coinbase hash with the hex-encoded branch and returns
// the byte-reversed hex root ready for EncodeHeader.
func MerkleRootHex(coinbaseHash [32]byte, branch []string) (string, error) {
	entries, err := DecodeBranch(branch)
	if err != nil {
		return "", err
	}
	root := BuildMerkleRoot(coinbaseHash, entries)
	return ReverseHexBytes(hex.EncodeToString(root[:])), nil
}
