// Package main implements solominer, a solo Stratum V1 SHA-256d miner.
// It mines pool jobs for a single payout address, restarts whenever the
// network height advances and records every block it finds.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/gosolo/internal/bitcoin"
	"github.com/bardlex/gosolo/internal/config"
	"github.com/bardlex/gosolo/internal/database"
	"github.com/bardlex/gosolo/internal/database/influx"
	"github.com/bardlex/gosolo/internal/database/postgres"
	"github.com/bardlex/gosolo/internal/database/redis"
	"github.com/bardlex/gosolo/internal/messaging"
	"github.com/bardlex/gosolo/internal/miner"
	"github.com/bardlex/gosolo/internal/notify"
	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/log"
)

// rpcPingTimeout bounds the startup connectivity check against the node.
const rpcPingTimeout = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat).WithQuiet(cfg.Quiet)

	m, err := NewMiner(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize miner")
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-done:
		if err != nil {
			logger.WithError(err).Error("miner failed")
		}
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := m.Shutdown(shutdownCtx, done); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("solominer stopped")
}

// Miner owns every long-lived component of the process.
type Miner struct {
	cfg    *config.Config
	logger *log.Logger

	state        *miner.State
	heights      bitcoin.HeightSource
	rpc          *bitcoin.RPCClient
	zmq          *bitcoin.ZMQNotifier
	trigger      chan struct{}
	zmqDone      chan struct{}
	dbManager    *database.Manager
	kafkaClient  *messaging.KafkaClient
	dispatcher   *notify.Dispatcher
	orchestrator *miner.Orchestrator
}

// NewMiner connects the configured backends and wires the mining pipeline.
func NewMiner(cfg *config.Config, logger *log.Logger) (*Miner, error) {
	m := &Miner{
		cfg:    cfg,
		logger: logger,
		state:  miner.NewState(cfg.Address, cfg.Quiet),
	}

	logger.Info("starting solominer",
		"version", cfg.Version,
		"address", cfg.Address,
		"network", cfg.BitcoinNetwork,
		"quiet_mode", cfg.Quiet,
		"pool", cfg.PoolAddress,
		"height_source", cfg.HeightSource,
		"telegram", cfg.TelegramEnabled(),
	)

	if err := bitcoin.ValidateAddress(cfg.Address, bitcoin.NetParams(cfg.BitcoinNetwork)); err != nil {
		logger.WithError(err).Warn("payout address looks invalid, mining anyway", "address", cfg.Address)
	}

	heights, err := m.newHeightSource()
	if err != nil {
		return nil, err
	}
	m.heights = heights

	dbManager, err := database.NewManager(databaseConfig(cfg), logger)
	if err != nil {
		m.closeBackends()
		return nil, err
	}
	m.dbManager = dbManager

	if len(cfg.KafkaBrokers) > 0 {
		m.kafkaClient = messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	}

	if cfg.TelegramEnabled() {
		tg := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramUserID, nil, logger)
		m.dispatcher = notify.NewDispatcher(tg, notify.DefaultQueueSize, logger)
	}

	if cfg.BitcoinZMQAddr != "" {
		m.trigger = make(chan struct{}, 1)
		zn, err := bitcoin.NewZMQNotifier(cfg.BitcoinZMQAddr, logger)
		if err == nil {
			err = zn.Subscribe(bitcoin.TopicHashBlock)
		}
		if err == nil {
			err = zn.Connect()
		}
		if err != nil {
			if zn != nil {
				_ = zn.Close()
			}
			m.closeBackends()
			return nil, err
		}
		m.zmq = zn
		m.zmqDone = make(chan struct{})
	}

	m.orchestrator = m.buildOrchestrator(miner.StratumDialer(logger))
	return m, nil
}

// newHeightSource picks the public HTTP API or the configured node.
func (m *Miner) newHeightSource() (bitcoin.HeightSource, error) {
	switch m.cfg.HeightSource {
	case config.HeightSourceRPC:
		rpc, err := bitcoin.NewRPCClient(m.cfg.BitcoinRPCHost, m.cfg.BitcoinRPCPort,
			m.cfg.BitcoinRPCUser, m.cfg.BitcoinRPCPassword)
		if err != nil {
			return nil, err
		}
		m.rpc = rpc
		return rpc, nil
	default:
		return bitcoin.NewHTTPHeightSource(m.cfg.HeightAPIURL, &http.Client{Timeout: 10 * time.Second}), nil
	}
}

// buildOrchestrator wires engine, watcher and sinks around dial.
func (m *Miner) buildOrchestrator(dial miner.Dialer) *miner.Orchestrator {
	engineCfg := miner.DefaultEngineConfig()
	engineCfg.BatchSize = m.cfg.BatchSize
	engineCfg.HashrateInterval = m.cfg.HashrateInterval

	var reporters []miner.HashrateReporter
	var observers []miner.HeightObserver
	if m.dbManager != nil && m.dbManager.Enabled() {
		reporters = append(reporters, m.dbManager)
		observers = append(observers, m.dbManager)
	}

	engine := miner.NewEngine(m.state, engineCfg, m.logger, reporters...)
	watcher := miner.NewWatcher(m.heights, m.state, m.cfg.PollInterval, m.logger, observers...)
	if m.trigger != nil {
		watcher.WithTrigger(m.trigger)
	}

	o := miner.NewOrchestrator(miner.Config{
		PoolAddress:  m.cfg.PoolAddress,
		RestartDelay: m.cfg.RestartDelay,
	}, m.state, engine, watcher, m.heights, dial, m.logger)

	o.AddRecorder(record.NewFileSink(m.cfg.BlockLogDir, m.logger))
	if m.dbManager != nil && m.dbManager.Enabled() {
		o.AddRecorder(m.dbManager)
	}
	if m.kafkaClient != nil {
		o.AddRecorder(m.kafkaClient)
	}
	if m.dispatcher != nil {
		o.AddNotifier(m.dispatcher)
	}
	return o
}

// Run starts the background workers and mines until ctx is cancelled.
func (m *Miner) Run(ctx context.Context) error {
	if m.rpc != nil {
		pingCtx, cancel := context.WithTimeout(ctx, rpcPingTimeout)
		if err := m.rpc.Ping(pingCtx); err != nil {
			m.logger.WithError(err).Warn("bitcoin node not reachable, height polling will keep retrying")
		}
		cancel()
	}

	if m.dbManager != nil {
		m.dbManager.Start(ctx)
		if h := m.dbManager.CachedHeight(ctx); h > 0 && m.state.ObserveHeight(h) {
			m.logger.Info("seeded network height from cache", "block_height", h)
		}
		if n, err := m.dbManager.BlocksFound(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to count found blocks")
		} else if n > 0 {
			m.logger.Info("previously found blocks", "count", n)
		}
	}

	if m.dispatcher != nil {
		// Queued messages outlive the mining context so a block found
		// during shutdown is still announced.
		m.dispatcher.Start(context.WithoutCancel(ctx))
		m.dispatcher.NotifyStartup(m.cfg.Address, m.cfg.Quiet, m.cfg.PoolAddress)
	}

	if m.zmq != nil {
		handler := bitcoin.NewBlockNotificationHandler(m.logger)
		handler.SetNewBlockHandler(bitcoin.NewBlockTrigger(m.trigger))
		go func() {
			defer close(m.zmqDone)
			if err := m.zmq.Listen(ctx, handler.HandleMessage); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).Error("ZMQ listener failed")
			}
		}()
	}

	return m.orchestrator.Run(ctx)
}

// Shutdown waits for Run to return, bounded by ctx, and closes every backend.
func (m *Miner) Shutdown(ctx context.Context, done <-chan error) error {
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("mining loop did not stop before shutdown timeout")
	}

	if m.zmqDone != nil {
		select {
		case <-m.zmqDone:
		case <-ctx.Done():
		}
	}

	if m.dispatcher != nil {
		closed := make(chan struct{})
		go func() {
			m.dispatcher.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-ctx.Done():
			m.logger.Warn("pending notifications abandoned at shutdown")
		}
	}
	return m.closeBackends()
}

func (m *Miner) closeBackends() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.kafkaClient != nil {
		keep(m.kafkaClient.Close())
	}
	if m.dbManager != nil {
		keep(m.dbManager.Close())
	}
	if m.zmq != nil {
		keep(m.zmq.Close())
	}
	if m.rpc != nil {
		m.rpc.Close()
	}
	return firstErr
}

// databaseConfig maps connection URLs onto backend configs. Empty URLs
// leave the backend disabled.
func databaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		Address: cfg.Address,
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     4,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}
}
