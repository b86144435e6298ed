// Package bitcoin provides the Bitcoin primitives the miner needs: compact
// target decoding, header serialization, double SHA-256 and merkle folding,
// plus the network height sources (public HTTP API, Bitcoin Core RPC) and
// the Bitcoin Core ZMQ block notifier.
package bitcoin

import (
	"context"
)

// HeightSource reports the current best block height of the network.
type HeightSource interface {
	Height(ctx context.Context) (int64, error)
}

// HeightSourceFunc adapts a function to HeightSource.
type HeightSourceFunc func(ctx context.Context) (int64, error)

// Height calls f.
func (f HeightSourceFunc) Height(ctx context.Context) (int64, error) {
	return f(ctx)
}

// ZMQInterface defines the contract for Bitcoin Core ZMQ notifications.
// This interface allows for mocking ZMQ functionality in tests.
type ZMQInterface interface {
	// Subscribe adds a topic subscription for ZMQ notifications.
	Subscribe(topic string) error

	// Connect establishes connection to the ZMQ endpoint.
	Connect() error

	// Listen starts the ZMQ listener with a message handler function.
	Listen(ctx context.Context, handler func(topic string, data []byte) error) error

	// Close gracefully shuts down the ZMQ connection.
	Close() error
}

// BlockNotificationInterface defines the contract for handling Bitcoin block notifications.
type BlockNotificationInterface interface {
	SetNewBlockHandler(handler func(blockHash string) error)
	HandleMessage(topic string, data []byte) error
}

// Compile-time interface compliance checks
var (
	_ HeightSource               = (*RPCClient)(nil)
	_ HeightSource               = (*HTTPHeightSource)(nil)
	_ ZMQInterface               = (*ZMQNotifier)(nil)
	_ BlockNotificationInterface = (*BlockNotificationHandler)(nil)
)
