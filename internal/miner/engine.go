package miner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bardlex/gosolo/internal/bitcoin"
	"github.com/bardlex/gosolo/internal/stratum"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

const (
	// DefaultBatchSize is the number of nonces tried between height checks.
	DefaultBatchSize = 1000
	// DefaultHashrateInterval is how often a hash-rate sample is emitted.
	DefaultHashrateInterval = 5 * time.Second
	// ExtraNonce2Bytes is the number of random bytes in a generated extranonce2.
	ExtraNonce2Bytes = 4
)

var (
	// ErrStaleJob is returned by Search when the network height moved past
	// the height the job was started at.
	ErrStaleJob = errors.New(errors.ErrorTypeInternal, "search", "job is stale: network height advanced")

	// ErrNonceLimit is returned by Search when a configured nonce limit is
	// reached without a solution.
	ErrNonceLimit = errors.New(errors.ErrorTypeInternal, "search", "nonce limit reached without solution")
)

// ExtraNonce2Func returns the extranonce2 hex string for a pool size hint.
type ExtraNonce2Func func(sizeHint int) (string, error)

// RandomExtraNonce2 generates ExtraNonce2Bytes random bytes. A larger size
// hint is met by appending zero bytes, a smaller non-zero hint truncates.
func RandomExtraNonce2(sizeHint int) (string, error) {
	buf := make([]byte, ExtraNonce2Bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "extranonce2", "failed to generate random bytes")
	}
	return fitExtraNonce2(hex.EncodeToString(buf), sizeHint), nil
}

// FixedExtraNonce2 returns a generator that always yields en2 sized to the hint.
func FixedExtraNonce2(en2 string) ExtraNonce2Func {
	return func(sizeHint int) (string, error) {
		return fitExtraNonce2(en2, sizeHint), nil
	}
}

func fitExtraNonce2(en2 string, sizeHint int) string {
	if sizeHint <= 0 {
		return en2
	}
	want := sizeHint * 2
	if len(en2) >= want {
		return en2[:want]
	}
	return en2 + strings.Repeat("0", want-len(en2))
}

// Work is everything Search needs for one job.
type Work struct {
	Job             *stratum.Job
	ExtraNonce1     string
	ExtraNonce2Size int
	StartHeight     int64
}

// Solution is a header whose double hash met the job target.
type Solution struct {
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       uint32
	Hash        [32]byte
	Header      [bitcoin.HeaderSize]byte
	MerkleRoot  string
	Target      bitcoin.Target
	Height      int64
	Hashes      uint64
	FoundAt     time.Time
}

// NonceHex returns the nonce as 8 lowercase hex digits.
func (s *Solution) NonceHex() string {
	return fmt.Sprintf("%08x", s.Nonce)
}

// HashHex returns the digest bytes as hex in comparison order.
func (s *Solution) HashHex() string {
	return bitcoin.HashHex(s.Hash)
}

// DisplayHash returns the digest byte-reversed, as block explorers show it.
func (s *Solution) DisplayHash() string {
	return bitcoin.DisplayHash(s.Hash)
}

// Submission returns the mining.submit payload for this solution.
func (s *Solution) Submission() stratum.Submission {
	return stratum.Submission{
		JobID:       s.JobID,
		ExtraNonce2: s.ExtraNonce2,
		NTime:       s.NTime,
		Nonce:       s.NonceHex(),
	}
}

// HashrateSample is one hash-rate measurement window.
type HashrateSample struct {
	JobID   string
	Height  int64
	Hashes  uint64
	Elapsed time.Duration
	At      time.Time
}

// Rate returns hashes per second for the window.
func (s HashrateSample) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Hashes) / s.Elapsed.Seconds()
}

// HashrateReporter receives hash-rate samples from the search loop. It is
// called on the mining goroutine and must not block.
type HashrateReporter interface {
	ReportHashrate(sample HashrateSample)
}

// EngineConfig tunes the search loop.
type EngineConfig struct {
	BatchSize        int
	HashrateInterval time.Duration
	// MaxNonces stops the search after this many attempts; 0 means the
	// nonce space is scanned with wraparound until the job goes stale.
	MaxNonces   uint64
	ExtraNonce2 ExtraNonce2Func
}

// DefaultEngineConfig returns the production search settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:        DefaultBatchSize,
		HashrateInterval: DefaultHashrateInterval,
		ExtraNonce2:      RandomExtraNonce2,
	}
}

// Engine searches the nonce space of a single job.
type Engine struct {
	cfg       EngineConfig
	state     *State
	logger    *log.Logger
	reporters []HashrateReporter
	now       func() time.Time
}

// NewEngine creates an engine reading the network height from state.
func NewEngine(state *State, cfg EngineConfig, logger *log.Logger, reporters ...HashrateReporter) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HashrateInterval <= 0 {
		cfg.HashrateInterval = DefaultHashrateInterval
	}
	if cfg.ExtraNonce2 == nil {
		cfg.ExtraNonce2 = RandomExtraNonce2
	}
	if logger == nil {
		logger = log.Nop()
	}
	if state.Quiet() {
		logger = logger.WithQuiet(true)
	}
	return &Engine{
		cfg:       cfg,
		state:     state,
		logger:    logger.WithComponent("engine"),
		reporters: reporters,
		now:       time.Now,
	}
}

// Search scans nonces from 0 until a header hash meets the job target. It
// returns ErrStaleJob when the observed network height exceeds
// work.StartHeight, checked before every batch.
func (e *Engine) Search(ctx context.Context, work Work) (*Solution, error) {
	job := work.Job
	if job == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "search", "no job")
	}

	target, err := bitcoin.DecodeTarget(job.NBits)
	if err != nil {
		return nil, err
	}

	en2, err := e.cfg.ExtraNonce2(work.ExtraNonce2Size)
	if err != nil {
		return nil, err
	}

	coinbaseHash, err := bitcoin.CoinbaseHash(job.Coinb1, work.ExtraNonce1, en2, job.Coinb2)
	if err != nil {
		return nil, err
	}
	merkleRoot, err := bitcoin.MerkleRootHex(coinbaseHash, job.MerkleBranch)
	if err != nil {
		return nil, err
	}
	tmpl, err := bitcoin.NewHeaderTemplate(job.Version, job.PrevHash, merkleRoot, job.NBits, job.NTime)
	if err != nil {
		return nil, err
	}

	logger := e.logger.WithJob(job.JobID, work.StartHeight)
	logger.Progress("hash search started",
		"extranonce2", en2,
		"target", target.Hex(),
		"difficulty", target.Difficulty(),
		"merkle_root", merkleRoot,
	)

	var (
		nonce       uint32
		total       uint64
		windowCount uint64
		windowStart = e.now()
		batch       = uint64(e.cfg.BatchSize)
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.state.Height() > work.StartHeight {
			logger.Progress("network height advanced, abandoning job", "hashes", total)
			return nil, ErrStaleJob
		}

		n := batch
		if e.cfg.MaxNonces > 0 && total+n > e.cfg.MaxNonces {
			n = e.cfg.MaxNonces - total
		}

		for i := uint64(0); i < n; i++ {
			hash := tmpl.Hash(nonce)
			if bitcoin.HashMeetsTarget(hash, target) {
				return &Solution{
					JobID:       job.JobID,
					ExtraNonce2: en2,
					NTime:       job.NTime,
					Nonce:       nonce,
					Hash:        hash,
					Header:      tmpl.WithNonce(nonce),
					MerkleRoot:  merkleRoot,
					Target:      target,
					Height:      work.StartHeight,
					Hashes:      total + i + 1,
					FoundAt:     e.now(),
				}, nil
			}
			nonce++
		}
		total += n
		windowCount += n

		if e.cfg.MaxNonces > 0 && total >= e.cfg.MaxNonces {
			return nil, ErrNonceLimit
		}

		if now := e.now(); now.Sub(windowStart) >= e.cfg.HashrateInterval {
			e.report(logger, HashrateSample{
				JobID:   job.JobID,
				Height:  work.StartHeight,
				Hashes:  windowCount,
				Elapsed: now.Sub(windowStart),
				At:      now,
			})
			windowCount = 0
			windowStart = now
		}
	}
}

func (e *Engine) report(logger *log.Logger, sample HashrateSample) {
	logger.LogHashrate(sample.Hashes, sample.Elapsed)
	for _, r := range e.reporters {
		r.ReportHashrate(sample)
	}
}
