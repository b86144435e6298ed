package bitcoin

import (
	"context"
	"encoding/hex"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

// TopicHashBlock is the Bitcoin Core ZMQ topic announcing new block hashes.
const TopicHashBlock = "hashblock"

// recvTimeout bounds each receive so Listen notices cancellation.
const recvTimeout = 500 * time.Millisecond

// ZMQNotifier handles ZMQ notifications from Bitcoin Core
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a new ZMQ notifier
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "zmq_socket", "failed to create ZMQ socket")
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "zmq_socket", "failed to set receive timeout")
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Subscribe subscribes to a specific topic
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "zmq_subscribe", "failed to subscribe").
			WithContext("topic", topic)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "zmq_connect", "failed to connect").
			WithContext("endpoint", z.endpoint)
	}
	z.logger.LogConnection("zmq_connected", z.endpoint)
	return nil
}

// Listen receives messages until ctx is done and passes each one to handler.
// Handler errors are logged and do not stop the loop.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	z.logger.Info("starting ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		z.logger.Debug("received ZMQ message", "topic", topic, "size", len(msg[1]))

		if err := handler(topic, msg[1]); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (z *ZMQNotifier) Close() error {
	if z.socket == nil {
		return nil
	}
	err := z.socket.Close()
	z.socket = nil
	return err
}

// BlockNotificationHandler turns hashblock messages into new-block callbacks.
type BlockNotificationHandler struct {
	logger     *log.Logger
	onNewBlock func(blockHash string) error
}

// NewBlockNotificationHandler creates a new block notification handler
func NewBlockNotificationHandler(logger *log.Logger) *BlockNotificationHandler {
	return &BlockNotificationHandler{
		logger: logger,
	}
}

// SetNewBlockHandler sets the handler for new block notifications
func (h *BlockNotificationHandler) SetNewBlockHandler(handler func(blockHash string) error) {
	h.onNewBlock = handler
}

// HandleMessage handles a ZMQ message. Topics other than hashblock are ignored.
func (h *BlockNotificationHandler) HandleMessage(topic string, data []byte) error {
	if topic != TopicHashBlock {
		h.logger.Debug("ignoring ZMQ topic", "topic", topic)
		return nil
	}

	if len(data) != 32 {
		return errors.New(errors.ErrorTypeProtocol, "zmq_hashblock", "invalid block hash length").
			WithContext("length", len(data))
	}

	// Bitcoin Core publishes the hash already in display order.
	blockHash := hex.EncodeToString(data)
	h.logger.Info("new block notification", "hash", blockHash)

	if h.onNewBlock != nil {
		return h.onNewBlock(blockHash)
	}
	return nil
}

// NewBlockTrigger returns a handler that performs a non-blocking send on
// trigger for every new block, so a slow consumer never stalls the listener.
func NewBlockTrigger(trigger chan<- struct{}) func(blockHash string) error {
	return func(string) error {
		select {
		case trigger <- struct{}{}:
		default:
		}
		return nil
	}
}
