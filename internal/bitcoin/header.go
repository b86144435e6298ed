package bitcoin

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/bardlex/gosolo/pkg/errors"
)

// HeaderSize is the serialized size of a block header.
const HeaderSize = 80

// header field layout: version | prevhash | merkle_root | nbits | ntime | nonce
var headerFields = [...]struct {
	name   string
	offset int
	width  int // hex characters
	left   bool
}{
	{"version", 0, 8, true},
	{"prevhash", 4, 64, false},
	{"merkle_root", 36, 64, false},
	{"nbits", 68, 8, true},
	{"ntime", 72, 8, true},
	{"nonce", 76, 8, true},
}

// EncodeHeader serializes the six header fields into 80 bytes. Four-byte
// fields are left-padded with '0', hash fields right-padded, and no byte
// reordering is applied.
func EncodeHeader(version, prevhash, merkleRoot, nbits, ntime, nonce string) ([HeaderSize]byte, error) {
	var out [HeaderSize]byte
	values := [...]string{version, prevhash, merkleRoot, nbits, ntime, nonce}

	for i, f := range headerFields {
		v := values[i]
		if len(v) > f.width {
			return out, headerError(f.name, v, "field exceeds its width")
		}
		pad := strings.Repeat("0", f.width-len(v))
		if f.left {
			v = pad + v
		} else {
			v += pad
		}
		if _, err := hex.Decode(out[f.offset:f.offset+f.width/2], []byte(v)); err != nil {
			return out, headerError(f.name, values[i], err.Error())
		}
	}

	return out, nil
}

func headerError(field, value, message string) error {
	return errors.New(errors.ErrorTypeDecode, "encode_header", message).
		WithContext("field", field).
		WithContext("value", value)
}

// HeaderTemplate holds a header with every field but the nonce encoded, so
// the search loop only rewrites the last four bytes.
type HeaderTemplate struct {
	buf [HeaderSize]byte
}

// NewHeaderTemplate encodes everything except the nonce once per job.
func NewHeaderTemplate(version, prevhash, merkleRoot, nbits, ntime string) (*HeaderTemplate, error) {
	buf, err := EncodeHeader(version, prevhash, merkleRoot, nbits, ntime, "0")
	if err != nil {
		return nil, err
	}
	return &HeaderTemplate{buf: buf}, nil
}

// WithNonce returns the full header for nonce n. The result equals
// EncodeHeader with the nonce formatted as %08x.
func (t *HeaderTemplate) WithNonce(n uint32) [HeaderSize]byte {
	h := t.buf
	binary.BigEndian.PutUint32(h[76:], n)
	return h
}

// Hash returns the double SHA-256 of the header for nonce n.
func (t *HeaderTemplate) Hash(n uint32) [32]byte {
	h := t.WithNonce(n)
	return DoubleHash(h[:])
}
