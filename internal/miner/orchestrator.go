package miner

import (
	"context"
	"time"

	"github.com/bardlex/gosolo/internal/bitcoin"
	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/internal/stratum"
	"github.com/bardlex/gosolo/internal/validation"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

const (
	// DefaultPoolAddress is the solo pool endpoint.
	DefaultPoolAddress = "solo.ckpool.org:3333"
	// DefaultRestartDelay is the pause after a failed mining cycle.
	DefaultRestartDelay = 100 * time.Millisecond

	recordTimeout = 10 * time.Second
)

// Session is the pool conversation a mining cycle drives.
type Session interface {
	Subscribe() (*stratum.SubscribeResult, error)
	Authorize(address string) error
	AwaitJob() (*stratum.Job, error)
	Submit(sub stratum.Submission) error
	ReadAck() (string, error)
	Close() error
}

// Dialer opens a pool session.
type Dialer func(ctx context.Context, addr string) (Session, error)

// StratumDialer dials real TCP sessions.
func StratumDialer(logger *log.Logger) Dialer {
	return func(ctx context.Context, addr string) (Session, error) {
		sess, err := stratum.Dial(ctx, addr, logger)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// BlockRecorder persists a found block. Errors are logged, never fatal.
type BlockRecorder interface {
	RecordBlock(ctx context.Context, b *record.Block) error
}

// BlockNotifier announces a found block. It must not block the caller.
type BlockNotifier interface {
	NotifyBlockFound(b *record.Block)
}

// Config configures the orchestrator.
type Config struct {
	PoolAddress  string
	RestartDelay time.Duration
}

// Orchestrator runs mining cycles until its context is cancelled.
type Orchestrator struct {
	cfg       Config
	state     *State
	engine    *Engine
	watcher   *Watcher
	heights   bitcoin.HeightSource
	dial      Dialer
	validator *validation.SolutionValidator
	recorders []BlockRecorder
	notifiers []BlockNotifier
	logger    *log.Logger
}

// NewOrchestrator wires the engine and watcher to a pool dialer. heights is
// queried at the start of every job for its start height.
func NewOrchestrator(cfg Config, state *State, engine *Engine, watcher *Watcher, heights bitcoin.HeightSource, dial Dialer, logger *log.Logger) *Orchestrator {
	if cfg.PoolAddress == "" {
		cfg.PoolAddress = DefaultPoolAddress
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if logger == nil {
		logger = log.Nop()
	}
	if state.Quiet() {
		logger = logger.WithQuiet(true)
	}
	return &Orchestrator{
		cfg:       cfg,
		state:     state,
		engine:    engine,
		watcher:   watcher,
		heights:   heights,
		dial:      dial,
		validator: validation.NewSolutionValidator(0),
		logger:    logger.WithComponent("orchestrator"),
	}
}

// AddRecorder registers a found-block sink.
func (o *Orchestrator) AddRecorder(r BlockRecorder) {
	o.recorders = append(o.recorders, r)
}

// AddNotifier registers a found-block notifier.
func (o *Orchestrator) AddNotifier(n BlockNotifier) {
	o.notifiers = append(o.notifiers, n)
}

// Run starts the watcher and then runs mining cycles back to back. A failed
// cycle is followed by RestartDelay, a stale or completed one restarts at
// once. Run returns nil when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.watcher != nil {
		go o.watcher.Run(ctx)
	}

	o.logger.Info("mining started", "pool", o.cfg.PoolAddress, "address", o.state.Address())

	for cycle := uint64(1); ; cycle++ {
		if ctx.Err() != nil {
			o.logger.Info("mining stopped")
			return nil
		}

		err := o.RunCycle(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrStaleJob):
			o.logger.Progress("new block detected, restarting mining operation", "cycle", cycle)
			continue
		case ctx.Err() != nil:
			continue
		}

		if stratum.IsConnectionClosed(err) {
			o.logger.Warn("pool closed the connection, reconnecting", "cycle", cycle)
		} else {
			o.logger.WithError(err).Error("mining operation error",
				"cycle", cycle,
				"error_type", string(errors.TypeOf(err)),
			)
		}
		select {
		case <-ctx.Done():
		case <-time.After(o.cfg.RestartDelay):
		}
	}
}

// RunCycle performs one session: connect, handshake, one job, search and on
// success record, notify and submit.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()
	logger := o.logger

	logger.Progress("connecting to pool", "pool", o.cfg.PoolAddress)
	sess, err := o.dial(ctx, o.cfg.PoolAddress)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	logger.LogConnection("connected", o.cfg.PoolAddress)

	sub, err := sess.Subscribe()
	if err != nil {
		return err
	}
	if err := sess.Authorize(o.state.Address()); err != nil {
		return err
	}
	job, err := sess.AwaitJob()
	if err != nil {
		return err
	}

	height, err := o.startHeight(ctx)
	if err != nil {
		return err
	}
	logger.LogJobReceived(job.JobID, height, job.CleanJobs, len(job.MerkleBranch))

	sol, err := o.engine.Search(ctx, Work{
		Job:             job,
		ExtraNonce1:     sub.ExtraNonce1,
		ExtraNonce2Size: sub.ExtraNonce2Size,
		StartHeight:     height,
	})
	if err != nil {
		return err
	}

	if _, err := o.validator.Validate(&validation.Candidate{
		Job:         job,
		ExtraNonce1: sub.ExtraNonce1,
		ExtraNonce2: sol.ExtraNonce2,
		NTime:       sol.NTime,
		Nonce:       sol.NonceHex(),
		Hash:        sol.Hash,
	}); err != nil {
		return err
	}
	logger.Debug("solution verified", "explorer_hash", sol.DisplayHash())

	block := o.blockFor(sol)
	logger.LogBlockFound(block.Hash, block.Height, block.Address, sol.Nonce)
	o.record(ctx, block)
	for _, n := range o.notifiers {
		n.NotifyBlockFound(block)
	}

	if err := sess.Submit(sol.Submission()); err != nil {
		return err
	}
	logger.Info("solution submitted to pool", "job_id", sol.JobID, "nonce", sol.NonceHex())

	ack, err := sess.ReadAck()
	if err != nil {
		return err
	}
	logger.Info("pool response", "response", ack)
	logger.LogDuration("mining_cycle", time.Since(start))
	return nil
}

// startHeight is the larger of a fresh height reading and the watcher's
// last observation. It fails only when neither is available.
func (o *Orchestrator) startHeight(ctx context.Context) (int64, error) {
	observed := o.state.Height()

	fetchCtx, cancel := context.WithTimeout(ctx, DefaultPollTimeout)
	defer cancel()

	fetched, err := o.heights.Height(fetchCtx)
	if err != nil {
		if observed > 0 {
			o.logger.WithError(err).Warn("height query failed, using last observed height",
				"block_height", observed)
			return observed, nil
		}
		return 0, errors.Wrap(err, errors.ErrorTypeHeightSource, "start_height",
			"no network height available for job")
	}
	return max(fetched, observed), nil
}

func (o *Orchestrator) blockFor(sol *Solution) *record.Block {
	return &record.Block{
		Hash:        sol.HashHex(),
		Target:      sol.Target.Hex(),
		Nonce:       sol.NonceHex(),
		Address:     o.state.Address(),
		JobID:       sol.JobID,
		ExtraNonce2: sol.ExtraNonce2,
		NTime:       sol.NTime,
		Height:      sol.Height,
		Difficulty:  sol.Target.Difficulty(),
		FoundAt:     sol.FoundAt,
	}
}

func (o *Orchestrator) record(ctx context.Context, block *record.Block) {
	recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	for _, r := range o.recorders {
		if err := r.RecordBlock(recCtx, block); err != nil {
			o.logger.WithError(err).Warn("failed to record found block", "hash", block.Hash)
		}
	}
}
