package bitcoin

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/rpcclient"

	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/retry"
)

// RPCClient reads chain state from a Bitcoin Core node over JSON-RPC. It
// serves as a height source for operators who run their own node.
type RPCClient struct {
	client         *rpcclient.Client
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewRPCClient creates a Bitcoin Core RPC client in HTTP POST mode with TLS
// disabled, which is typical for local Bitcoin Core deployments. No
// connection is made until the first call.
func NewRPCClient(host string, port int, username, password string) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeHeightSource, "rpc_client_creation",
			"failed to create Bitcoin RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}

	cbConfig := &circuit.Config{
		Name:            "bitcoin_rpc",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
	}

	return &RPCClient{
		client:         client,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}, nil
}

// Close gracefully shuts down the RPC client and releases any resources.
func (c *RPCClient) Close() {
	c.client.Shutdown()
}

// Height implements HeightSource using getblockcount.
func (c *RPCClient) Height(ctx context.Context) (int64, error) {
	return c.GetBlockCount(ctx)
}

// GetBlockCount returns the height of the node's best chain.
func (c *RPCClient) GetBlockCount(ctx context.Context) (int64, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (int64, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (int64, error) {
			count, err := c.client.GetBlockCountAsync().Receive()
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeHeightSource, "get_block_count",
					"failed to retrieve current block height")
			}
			return count, nil
		})
	})
}

// Ping tests the connection to Bitcoin Core.
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			if err := c.client.PingAsync().Receive(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnection, "ping",
					"Bitcoin Core connectivity check failed")
			}
			return nil
		})
	})
}
