package postgres

import (
	"time"

	"github.com/bardlex/gosolo/internal/record"
)

// FoundBlock represents a row of found_blocks
type FoundBlock struct {
	ID          int64     `db:"id"`
	Hash        string    `db:"hash"`
	Height      int64     `db:"height"`
	Target      string    `db:"target"`
	Nonce       string    `db:"nonce"`
	Address     string    `db:"address"`
	JobID       string    `db:"job_id"`
	ExtraNonce2 string    `db:"extra_nonce2"`
	NTime       string    `db:"ntime"`
	Difficulty  float64   `db:"difficulty"`
	FoundAt     time.Time `db:"found_at"`
}

// FromRecord converts a found-block record into a row.
func FromRecord(b *record.Block) *FoundBlock {
	return &FoundBlock{
		Hash:        b.Hash,
		Height:      b.Height,
		Target:      b.Target,
		Nonce:       b.Nonce,
		Address:     b.Address,
		JobID:       b.JobID,
		ExtraNonce2: b.ExtraNonce2,
		NTime:       b.NTime,
		Difficulty:  b.Difficulty,
		FoundAt:     b.FoundAt,
	}
}
