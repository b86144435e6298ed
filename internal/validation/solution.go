// Package validation re-checks a found solution before it is submitted. The
// header is rebuilt from the job's raw fields, independently of the search
// loop's precomputed template, and decoded through btcd's wire types.
package validation

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gosolo/internal/bitcoin"
	"github.com/bardlex/gosolo/internal/stratum"
	"github.com/bardlex/gosolo/pkg/errors"
)

// Candidate is a solution as it will be submitted.
type Candidate struct {
	Job         *stratum.Job
	ExtraNonce1 string
	ExtraNonce2 string
	NTime       string
	Nonce       string
	Hash        [32]byte
}

// SolutionValidator verifies candidates against their job.
type SolutionValidator struct {
	maxTimeSkew time.Duration
	now         func() time.Time
}

// NewSolutionValidator creates a validator. A positive maxTimeSkew rejects
// candidates whose ntime is further than that from the local clock.
func NewSolutionValidator(maxTimeSkew time.Duration) *SolutionValidator {
	return &SolutionValidator{
		maxTimeSkew: maxTimeSkew,
		now:         time.Now,
	}
}

// Validate rebuilds the header, checks that it hashes to c.Hash and that the
// hash meets the job target. The decoded header is returned on success.
// The pool header layout puts nbits before ntime, so the header's Timestamp
// and Bits fields are swapped relative to Bitcoin's; only BlockHash and
// Nonce are meaningful.
func (v *SolutionValidator) Validate(c *Candidate) (*wire.BlockHeader, error) {
	if err := v.validateBasicFields(c); err != nil {
		return nil, err
	}
	if err := v.validateTime(c); err != nil {
		return nil, err
	}

	raw, err := rebuildHeader(c)
	if err != nil {
		return nil, err
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw[:])); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "validate_solution", "failed to decode header")
	}

	if got := header.BlockHash(); got != chainhash.Hash(c.Hash) {
		return nil, errors.New(errors.ErrorTypeValidation, "validate_solution", "header does not hash to candidate hash").
			WithContext("expected", bitcoin.HashHex(c.Hash)).
			WithContext("actual", bitcoin.HashHex(got))
	}

	target, err := bitcoin.DecodeTarget(c.Job.NBits)
	if err != nil {
		return nil, err
	}
	if !bitcoin.HashMeetsTarget(c.Hash, target) {
		return nil, errors.New(errors.ErrorTypeValidation, "validate_solution", "hash does not meet target").
			WithContext("hash", bitcoin.HashHex(c.Hash)).
			WithContext("target", target.Hex())
	}

	return &header, nil
}

// validateBasicFields checks that all submit fields are present and hex.
func (v *SolutionValidator) validateBasicFields(c *Candidate) error {
	if c.Job == nil {
		return errors.New(errors.ErrorTypeValidation, "validate_solution", "job is required")
	}

	fields := []struct {
		name  string
		value string
	}{
		{"extranonce2", c.ExtraNonce2},
		{"ntime", c.NTime},
		{"nonce", c.Nonce},
	}
	for _, f := range fields {
		if f.value == "" {
			return errors.New(errors.ErrorTypeValidation, "validate_solution", "field is required").
				WithContext("field", f.name)
		}
		if _, err := hex.DecodeString(f.value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "validate_solution", "field is not valid hex").
				WithContext("field", f.name)
		}
	}
	if len(c.Nonce) != 8 {
		return errors.New(errors.ErrorTypeValidation, "validate_solution", "nonce must be 8 hex characters").
			WithContext("nonce", c.Nonce)
	}
	return nil
}

// validateTime checks ntime against the local clock when a skew is set.
func (v *SolutionValidator) validateTime(c *Candidate) error {
	if v.maxTimeSkew <= 0 {
		return nil
	}

	ntime, err := strconv.ParseUint(c.NTime, 16, 32)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_solution", "invalid ntime format")
	}

	shareTime := time.Unix(int64(ntime), 0)
	now := v.now()
	if shareTime.After(now.Add(v.maxTimeSkew)) {
		return errors.New(errors.ErrorTypeValidation, "validate_solution", "ntime too far in future").
			WithContext("ntime", c.NTime)
	}
	if shareTime.Before(now.Add(-v.maxTimeSkew)) {
		return errors.New(errors.ErrorTypeValidation, "validate_solution", "ntime too far in past").
			WithContext("ntime", c.NTime)
	}
	return nil
}

func rebuildHeader(c *Candidate) ([bitcoin.HeaderSize]byte, error) {
	var zero [bitcoin.HeaderSize]byte

	coinbaseHash, err := bitcoin.CoinbaseHash(c.Job.Coinb1, c.ExtraNonce1, c.ExtraNonce2, c.Job.Coinb2)
	if err != nil {
		return zero, err
	}
	merkleRoot, err := bitcoin.MerkleRootHex(coinbaseHash, c.Job.MerkleBranch)
	if err != nil {
		return zero, err
	}
	return bitcoin.EncodeHeader(c.Job.Version, c.Job.PrevHash, merkleRoot, c.Job.NBits, c.NTime, c.Nonce)
}
