package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// BlockRepository handles found-block database operations
type BlockRepository struct {
	db *sql.DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// CreateBlock inserts a found block. Recording the same hash twice is a
// no-op; block.ID is set only when a row was inserted.
func (r *BlockRepository) CreateBlock(ctx context.Context, block *FoundBlock) error {
	query := `
		INSERT INTO found_blocks (hash, height, target, nonce, address, job_id, extra_nonce2, ntime, difficulty, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (hash) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		block.Hash, block.Height, block.Target, block.Nonce, block.Address,
		block.JobID, block.ExtraNonce2, block.NTime, block.Difficulty, block.FoundAt,
	).Scan(&block.ID)

	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to create block: %w", err)
	}

	return nil
}

// CountBlocks returns the number of recorded blocks.
func (r *BlockRepository) CountBlocks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM found_blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return n, nil
}
