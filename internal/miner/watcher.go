package miner

import (
	"context"
	"time"

	"github.com/bardlex/gosolo/internal/bitcoin"
	"github.com/bardlex/gosolo/pkg/log"
)

const (
	// DefaultPollInterval is the time between network height polls.
	DefaultPollInterval = 40 * time.Second
	// DefaultPollTimeout bounds a single height query.
	DefaultPollTimeout = 15 * time.Second
)

// HeightObserver is told about every height advance the watcher records.
type HeightObserver interface {
	OnHeight(ctx context.Context, height int64)
}

// Watcher polls a height source and raises State's network height.
type Watcher struct {
	source    bitcoin.HeightSource
	state     *State
	interval  time.Duration
	timeout   time.Duration
	trigger   <-chan struct{}
	observers []HeightObserver
	logger    *log.Logger
}

// NewWatcher creates a watcher polling every interval. A non-positive
// interval means DefaultPollInterval.
func NewWatcher(source bitcoin.HeightSource, state *State, interval time.Duration, logger *log.Logger, observers ...HeightObserver) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	if state.Quiet() {
		logger = logger.WithQuiet(true)
	}
	return &Watcher{
		source:    source,
		state:     state,
		interval:  interval,
		timeout:   DefaultPollTimeout,
		observers: observers,
		logger:    logger.WithComponent("watcher"),
	}
}

// WithTrigger makes every receive on ch force an immediate poll.
func (w *Watcher) WithTrigger(ch <-chan struct{}) *Watcher {
	w.trigger = ch
	return w
}

// Run polls once immediately and then on every tick or trigger until ctx is
// cancelled. Poll failures are logged and never end the loop.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("height watcher started", "interval", w.interval.String(), "triggered", w.trigger != nil)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("height watcher stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		case <-w.trigger:
			w.logger.Debug("poll triggered by block notification")
			w.Poll(ctx)
		}
	}
}

// Poll queries the height source once and reports whether the observed
// network height advanced.
func (w *Watcher) Poll(ctx context.Context) bool {
	pollCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	height, err := w.source.Height(pollCtx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WithError(err).Error("failed to fetch network block height")
		}
		return false
	}

	if !w.state.ObserveHeight(height) {
		return false
	}

	w.logger.Progress("network block height updated", "block_height", height)
	for _, o := range w.observers {
		o.OnHeight(ctx, height)
	}
	return true
}
