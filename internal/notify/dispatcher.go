package notify

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/log"
)

const (
	// DefaultQueueSize bounds pending messages; further ones are dropped.
	DefaultQueueSize = 16
	sendTimeout      = time.Minute
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Dispatcher delivers messages from a queue on a single worker goroutine.
type Dispatcher struct {
	sender Sender
	queue  chan string
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Start must be called before messages
// are delivered.
func NewDispatcher(sender Sender, queueSize int, logger *log.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan string, queueSize),
		logger: logger.WithComponent("notify"),
	}
}

// Start runs the delivery worker until Close. ctx bounds individual sends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for text := range d.queue {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := d.sender.Send(sendCtx, text)
			switch {
			case err == nil:
			case circuit.IsOpen(err):
				d.logger.Debug("notification dropped, circuit open")
			default:
				d.logger.WithError(err).Warn("failed to send notification")
			}
			cancel()
		}
	}()
}

// Enqueue queues text without blocking and reports whether it was accepted.
func (d *Dispatcher) Enqueue(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- text:
		return true
	default:
		d.logger.Warn("notification queue full, dropping message")
		return false
	}
}

// NotifyStartup queues the startup message.
func (d *Dispatcher) NotifyStartup(address string, quiet bool, pool string) {
	d.Enqueue(StartupMessage(address, quiet, pool))
}

// NotifyBlockFound queues the block-found message.
func (d *Dispatcher) NotifyBlockFound(b *record.Block) {
	d.Enqueue(BlockFoundMessage(b))
}

// Close stops accepting messages and waits for queued ones to be attempted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
