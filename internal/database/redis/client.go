// Package redis caches the miner's network height, hash-rate samples and
// counters in Redis so other processes can read live miner state.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces all keys written by the miner.
const DefaultKeyPrefix = "gosolo"

// Client wraps Redis operations for the miner
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// Config holds Redis connection configuration. URL, when set, is parsed
// with redis.ParseURL and overrides Addr, Password and DB.
type Config struct {
	URL          string
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Options returns go-redis options for cfg.
func (cfg *Config) Options() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts = parsed
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewWithClient(rdb, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing go-redis client.
func NewWithClient(rdb redis.UniversalClient, prefix string) *Client {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Network height

// SetNetworkHeight stores height unless a higher one is already cached.
func (c *Client) SetNetworkHeight(ctx context.Context, height int64) error {
	key := c.key("network_height")
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil && current >= height {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, height, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to set network height: %w", err)
	}
	return nil
}

// GetNetworkHeight returns the cached height, or 0 when none is cached.
func (c *Client) GetNetworkHeight(ctx context.Context) (int64, error) {
	height, err := c.rdb.Get(ctx, c.key("network_height")).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get network height: %w", err)
	}
	return height, nil
}

// Hash rate

// SetHashrate stores a hash-rate sample for address, keeping window of history.
func (c *Client) SetHashrate(ctx context.Context, address string, hashrate float64, at time.Time, window time.Duration) error {
	key := c.key("hashrate", address)
	timestamp := at.Unix()

	// Store as sorted set with timestamp as score
	member := redis.Z{
		Score:  float64(timestamp),
		Member: fmt.Sprintf("%d:%s", timestamp, strconv.FormatFloat(hashrate, 'f', 2, 64)),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", timestamp-int64(window.Seconds())))
	pipe.Expire(ctx, key, window*2) // Keep data a bit longer than window
	pipe.Set(ctx, c.key("hashrate", address, "last"), hashrate, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set hashrate: %w", err)
	}

	return nil
}

// Counters

// IncrementCounter increments a persistent counter and returns its new value.
func (c *Client) IncrementCounter(ctx context.Context, name string) (int64, error) {
	n, err := c.rdb.Incr(ctx, c.key("counter", name)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return n, nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, name string) (int64, error) {
	val, err := c.rdb.Get(ctx, c.key("counter", name)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}
