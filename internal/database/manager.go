// Package database coordinates the miner's optional storage backends:
// PostgreSQL for found blocks, Redis for live state and InfluxDB for metrics.
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bardlex/gosolo/internal/database/influx"
	"github.com/bardlex/gosolo/internal/database/postgres"
	"github.com/bardlex/gosolo/internal/database/redis"
	"github.com/bardlex/gosolo/internal/miner"
	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
	"github.com/bardlex/gosolo/pkg/retry"
)

const (
	// CounterBlocksFound counts blocks recorded by this miner.
	CounterBlocksFound = "blocks_found"

	// DefaultHashrateWindow is how long hash-rate history is kept in Redis.
	DefaultHashrateWindow = 10 * time.Minute
	// DefaultFlushInterval is how often buffered InfluxDB points are written.
	DefaultFlushInterval = 10 * time.Second

	sampleQueueSize = 64
	sampleTimeout   = 5 * time.Second
)

// BlockStore persists found blocks.
type BlockStore interface {
	CreateBlock(ctx context.Context, block *postgres.FoundBlock) error
	CountBlocks(ctx context.Context) (int64, error)
}

// Cache holds live miner state.
type Cache interface {
	SetNetworkHeight(ctx context.Context, height int64) error
	GetNetworkHeight(ctx context.Context) (int64, error)
	SetHashrate(ctx context.Context, address string, hashrate float64, at time.Time, window time.Duration) error
	IncrementCounter(ctx context.Context, name string) (int64, error)
}

// Metrics receives time-series points. Writes are buffered and never fail.
type Metrics interface {
	WriteHashrateMetric(address, jobID string, height int64, hashes uint64, hashrate float64, at time.Time)
	WriteHeightMetric(height int64, at time.Time)
	WriteBlockMetric(address, hash string, height int64, difficulty float64, at time.Time)
	Flush()
}

// Config holds configuration for all database systems. A nil or empty
// section leaves that backend disabled.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
	Address  string
}

// Manager fans miner events out to the configured backends
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	blocks  BlockStore
	cache   Cache
	metrics Metrics

	address string
	samples chan miner.HashrateSample
	logger  *log.Logger
	wg      sync.WaitGroup

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewManager connects every configured backend. On failure the backends
// already opened are closed again.
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	var (
		pgClient     *postgres.Client
		redisClient  *redis.Client
		influxClient *influx.Client
		err          error
	)

	cleanup := func() {
		if pgClient != nil {
			_ = pgClient.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	if cfg.Postgres != nil && (cfg.Postgres.URL != "" || cfg.Postgres.Host != "") {
		pgClient, err = postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "postgres_connection",
				"failed to connect to PostgreSQL database")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pgClient.Migrate(ctx)
		cancel()
		if err != nil {
			cleanup()
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "postgres_migrate",
				"failed to create found_blocks table")
		}
	}

	if cfg.Redis != nil && (cfg.Redis.URL != "" || cfg.Redis.Addr != "") {
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			cleanup()
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "redis_connection",
				"failed to connect to Redis database")
		}
	}

	if cfg.Influx != nil && cfg.Influx.URL != "" {
		influxClient, err = influx.NewClient(cfg.Influx)
		if err != nil {
			cleanup()
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "influx_connection",
				"failed to connect to InfluxDB database")
		}
	}

	m := newManager(cfg.Address, logger)
	m.Postgres, m.Redis, m.Influx = pgClient, redisClient, influxClient
	if pgClient != nil {
		m.blocks = postgres.NewBlockRepository(pgClient.DB())
	}
	if redisClient != nil {
		m.cache = redisClient
	}
	if influxClient != nil {
		m.metrics = influxClient
	}
	return m, nil
}

// NewWithBackends builds a manager over arbitrary backends. Any may be nil.
func NewWithBackends(address string, blocks BlockStore, cache Cache, metrics Metrics, logger *log.Logger) *Manager {
	m := newManager(address, logger)
	m.blocks, m.cache, m.metrics = blocks, cache, metrics
	return m
}

func newManager(address string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		address:        address,
		samples:        make(chan miner.HashrateSample, sampleQueueSize),
		logger:         logger.WithComponent("database"),
		circuitBreaker: circuit.New(circuit.StorageConfig("postgres")),
		retryConfig:    retry.StorageConfig(),
	}
}

// Enabled reports whether any backend is configured.
func (m *Manager) Enabled() bool {
	return m.blocks != nil || m.cache != nil || m.metrics != nil
}

// Start runs the sample writer and the periodic InfluxDB flush until ctx is
// cancelled. Call Close after ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-m.samples:
				m.writeSample(ctx, s)
			}
		}
	}()

	if m.metrics != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(DefaultFlushInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.metrics.Flush()
				}
			}
		}()
	}

	if m.Influx != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			errs := m.Influx.Errors()
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-errs:
					m.logger.WithError(err).Warn("InfluxDB write failed")
				}
			}
		}()
	}
}

// Close waits for the background workers and closes all connections
func (m *Manager) Close() error {
	m.wg.Wait()

	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	} else if m.metrics != nil {
		m.metrics.Flush()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// RecordBlock stores a found block in PostgreSQL, then updates the block
// counter and metrics on a best-effort basis. Only the PostgreSQL write can
// fail the call.
func (m *Manager) RecordBlock(ctx context.Context, b *record.Block) error {
	if m.blocks != nil {
		row := postgres.FromRecord(b)
		err := m.circuitBreaker.Execute(ctx, func() error {
			return retry.Do(ctx, m.retryConfig, func() error {
				if err := m.blocks.CreateBlock(ctx, row); err != nil {
					return errors.Wrap(err, errors.ErrorTypeStorage, "record_block",
						"failed to store block in PostgreSQL").
						WithContext("block_hash", b.Hash).
						WithContext("block_height", b.Height)
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		m.logger.Info("found block stored", "hash", b.Hash, "id", row.ID)
	}

	if m.metrics != nil {
		m.metrics.WriteBlockMetric(b.Address, b.Hash, b.Height, b.Difficulty, b.FoundAt)
	}

	if m.cache != nil {
		if _, err := m.cache.IncrementCounter(ctx, CounterBlocksFound); err != nil {
			m.logger.WithError(err).Warn("failed to update block counter in Redis (non-critical)")
		}
	}

	return nil
}

// ReportHashrate queues a sample for the background writer. When the queue
// is full the sample is dropped so the search loop never waits.
func (m *Manager) ReportHashrate(sample miner.HashrateSample) {
	if m.cache == nil && m.metrics == nil {
		return
	}
	select {
	case m.samples <- sample:
	default:
		m.logger.Debug("hashrate sample dropped, writer busy")
	}
}

func (m *Manager) writeSample(ctx context.Context, s miner.HashrateSample) {
	rate := s.Rate()
	if m.metrics != nil {
		m.metrics.WriteHashrateMetric(m.address, s.JobID, s.Height, s.Hashes, rate, s.At)
	}
	if m.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, sampleTimeout)
		defer cancel()
		if err := m.cache.SetHashrate(cctx, m.address, rate, s.At, DefaultHashrateWindow); err != nil {
			m.logger.WithError(err).Warn("failed to update hashrate in Redis (non-critical)")
		}
	}
}

// OnHeight records a network height advance.
func (m *Manager) OnHeight(ctx context.Context, height int64) {
	if m.metrics != nil {
		m.metrics.WriteHeightMetric(height, time.Now())
	}
	if m.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, sampleTimeout)
		defer cancel()
		if err := m.cache.SetNetworkHeight(cctx, height); err != nil {
			m.logger.WithError(err).Warn("failed to cache network height (non-critical)")
		}
	}
}

// CachedHeight returns the last network height cached in Redis, or 0.
func (m *Manager) CachedHeight(ctx context.Context) int64 {
	if m.cache == nil {
		return 0
	}
	height, err := m.cache.GetNetworkHeight(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read cached network height")
		return 0
	}
	return height
}

// BlocksFound returns the number of stored found blocks, or 0 without
// PostgreSQL.
func (m *Manager) BlocksFound(ctx context.Context) (int64, error) {
	if m.blocks == nil {
		return 0, nil
	}
	n, err := m.blocks.CountBlocks(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeStorage, "count_blocks", "failed to count found blocks")
	}
	return n, nil
}
