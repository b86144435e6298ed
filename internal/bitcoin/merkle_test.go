package bitcoin

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/bardlex/gosolo/pkg/errors"
)

func hash32(fill byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = fill
	}
	return h
}

func TestBuildMerkleRoot(t *testing.T) {
	coinbase := hash32(0x11)
	b0 := hash32(0x22)
	b1 := hash32(0x33)

	concat := func(a, b [32]byte) []byte {
		return append(append([]byte{}, a[:]...), b[:]...)
	}
	step1 := DoubleHash(concat(coinbase, b0))
	step2 := DoubleHash(concat(step1, b1))

	tests := []struct {
		name   string
		branch [][32]byte
		want   [32]byte
	}{
		{"empty branch", nil, coinbase},
		{"single entry", [][32]byte{b0}, step1},
		{"two entries in order", [][32]byte{b0, b1}, step2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildMerkleRoot(coinbase, tt.branch); got != tt.want {
				t.Errorf("BuildMerkleRoot() = %x, want %x", got, tt.want)
			}
		})
	}

	if BuildMerkleRoot(coinbase, [][32]byte{b1, b0}) == step2 {
		t.Error("branch order must matter")
	}
}

func TestReverseHexBytes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"ab", "ab"},
		{"1234", "3412"},
		{"0a1b2c", "2c1b0a"},
		{"abc", "cab"},
		{genesisMerkleRoot, "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ReverseHexBytes(tt.in); got != tt.want {
				t.Errorf("ReverseHexBytes(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReverseHexBytes_Involution(t *testing.T) {
	s := strings.Repeat("0123456789abcdef", 4)
	if got := ReverseHexBytes(ReverseHexBytes(s)); got != s {
		t.Errorf("double reversal = %q, want %q", got, s)
	}
}

func TestCoinbaseHash(t *testing.T) {
	got, err := CoinbaseHash("01000000", "f000000d", "00000001", "ffffffff")
	if err != nil {
		t.Fatalf("CoinbaseHash() error = %v", err)
	}
	raw, _ := hex.DecodeString("01000000f000000d00000001ffffffff")
	if got != DoubleHash(raw) {
		t.Errorf("CoinbaseHash() = %x, want %x", got, DoubleHash(raw))
	}

	if _, err := CoinbaseHash("01", "zz", "", ""); !errors.IsType(err, errors.ErrorTypeDecode) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestDecodeBranch(t *testing.T) {
	good := strings.Repeat("ab", 32)

	entries, err := DecodeBranch([]string{good, good})
	if err != nil {
		t.Fatalf("DecodeBranch() error = %v", err)
	}
	if len(entries) != 2 || entries[1] != hash32(0xab) {
		t.Errorf("DecodeBranch() = %x", entries)
	}

	tests := []struct {
		name   string
		branch []string
		index  int
	}{
		{"non-hex entry", []string{good, "zz"}, 1},
		{"short entry", []string{"abcd"}, 0},
		{"empty string entry", []string{good, good, ""}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBranch(tt.branch)
			if !errors.IsType(err, errors.ErrorTypeDecode) {
				t.Fatalf("expected decode error, got %v", err)
			}
			if got := errors.GetContext(err)["index"]; got != tt.index {
				t.Errorf("index context = %v, want %d", got, tt.index)
			}
		})
	}
}

func TestMerkleRootHex(t *testing.T) {
	coinbase := hash32(0x00)
	coinbase[0] = 0x01

	got, err := MerkleRootHex(coinbase, nil)
	if err != nil {
		t.Fatalf("MerkleRootHex() error = %v", err)
	}
	want := strings.Repeat("00", 31) + "01"
	if got != want {
		t.Errorf("MerkleRootHex() = %s, want %s", got, want)
	}

	branch := strings.Repeat("22", 32)
	got, err = MerkleRootHex(coinbase, []string{branch})
	if err != nil {
		t.Fatalf("MerkleRootHex() error = %v", err)
	}
	root := BuildMerkleRoot(coinbase, [][32]byte{hash32(0x22)})
	if got != ReverseHexBytes(hex.EncodeToString(root[:])) {
		t.Errorf("MerkleRootHex() = %s", got)
	}
}
