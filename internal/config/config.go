// Package config provides configuration management for the gosolo miner.
// Values come from built-in defaults, an optional YAML file and environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bardlex/gosolo/pkg/errors"
)

// Height sources
const (
	HeightSourceHTTP = "http"
	HeightSourceRPC  = "rpc"
)

// DefaultConfigFile is read when CONFIG_FILE is unset. A missing file is not an error.
const DefaultConfigFile = "config.yaml"

// Config holds the miner configuration
type Config struct {
	// Service identification
	ServiceName string `yaml:"service_name"`
	Version     string `yaml:"version"`

	// Miner identity
	Address        string `yaml:"btc_address"`
	BitcoinNetwork string `yaml:"bitcoin_network"`
	Quiet          bool   `yaml:"quiet_mode"`

	// Pool
	PoolAddress string `yaml:"pool_address"`

	// Network height
	HeightSource string `yaml:"height_source"`
	HeightAPIURL string `yaml:"height_api_url"`

	// Bitcoin Core connection
	BitcoinRPCHost     string `yaml:"bitcoin_rpc_host"`
	BitcoinRPCPort     int    `yaml:"bitcoin_rpc_port"`
	BitcoinRPCUser     string `yaml:"bitcoin_rpc_user"`
	BitcoinRPCPassword string `yaml:"bitcoin_rpc_password"`
	BitcoinZMQAddr     string `yaml:"bitcoin_zmq_addr"`

	// Notifications
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramUserID   string `yaml:"telegram_user_id"`

	// Found-block sinks
	BlockLogDir  string   `yaml:"block_log_dir"`
	PostgresURL  string   `yaml:"postgres_url"`
	RedisURL     string   `yaml:"redis_url"`
	InfluxURL    string   `yaml:"influx_url"`
	InfluxToken  string   `yaml:"influx_token"`
	InfluxOrg    string   `yaml:"influx_org"`
	InfluxBucket string   `yaml:"influx_bucket"`
	KafkaBrokers []string `yaml:"kafka_brokers"`

	// Search and scheduling
	BatchSize        int           `yaml:"batch_size"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	HashrateInterval time.Duration `yaml:"hashrate_interval"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ServiceName: "gosolo",
		Version:     "dev",

		BitcoinNetwork: "mainnet",

		PoolAddress: "solo.ckpool.org:3333",

		HeightSource: HeightSourceHTTP,
		HeightAPIURL: "https://blockchain.info/latestblock",

		BitcoinRPCHost: "localhost",
		BitcoinRPCPort: 8332,

		BlockLogDir:  "/app/logs",
		InfluxOrg:    "gosolo",
		InfluxBucket: "mining",

		BatchSize:        1000,
		PollInterval:     40 * time.Second,
		HashrateInterval: 5 * time.Second,
		RestartDelay:     100 * time.Millisecond,
		ShutdownTimeout:  30 * time.Second,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the configuration. path names the YAML file; when empty,
// CONFIG_FILE or DefaultConfigFile is used and may be absent.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = getEnv("CONFIG_FILE", DefaultConfigFile)
		explicit = os.Getenv("CONFIG_FILE") != ""
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "config validation failed")
	}

	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "failed to read config file").
			WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "load_config", "failed to parse config file").
			WithContext("path", path)
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set
func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.Version = getEnv("VERSION", c.Version)

	c.Address = strings.TrimSpace(getEnv("BTC_ADDRESS", c.Address))
	c.BitcoinNetwork = strings.ToLower(getEnv("BITCOIN_NETWORK", c.BitcoinNetwork))
	c.Quiet = getEnvBool("QUIET_MODE", c.Quiet)

	c.PoolAddress = getEnv("POOL_ADDRESS", c.PoolAddress)

	c.HeightSource = strings.ToLower(getEnv("HEIGHT_SOURCE", c.HeightSource))
	c.HeightAPIURL = getEnv("HEIGHT_API_URL", c.HeightAPIURL)

	c.BitcoinRPCHost = getEnv("BITCOIN_RPC_HOST", c.BitcoinRPCHost)
	c.BitcoinRPCPort = getEnvInt("BITCOIN_RPC_PORT", c.BitcoinRPCPort)
	c.BitcoinRPCUser = getEnv("BITCOIN_RPC_USER", c.BitcoinRPCUser)
	c.BitcoinRPCPassword = getEnv("BITCOIN_RPC_PASSWORD", c.BitcoinRPCPassword)
	c.BitcoinZMQAddr = getEnv("BITCOIN_ZMQ_ADDR", c.BitcoinZMQAddr)

	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramUserID = getEnv("TELEGRAM_USER_ID", c.TelegramUserID)

	c.BlockLogDir = getEnv("BLOCK_LOG_DIR", c.BlockLogDir)
	c.PostgresURL = getEnv("POSTGRES_URL", c.PostgresURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.InfluxURL = getEnv("INFLUX_URL", c.InfluxURL)
	c.InfluxToken = getEnv("INFLUX_TOKEN", c.InfluxToken)
	c.InfluxOrg = getEnv("INFLUX_ORG", c.InfluxOrg)
	c.InfluxBucket = getEnv("INFLUX_BUCKET", c.InfluxBucket)
	c.KafkaBrokers = getEnvSlice("KAFKA_BROKERS", c.KafkaBrokers)

	c.BatchSize = getEnvInt("BATCH_SIZE", c.BatchSize)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.HashrateInterval = getEnvDuration("HASHRATE_INTERVAL", c.HashrateInterval)
	c.RestartDelay = getEnvDuration("RESTART_DELAY", c.RestartDelay)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.Address == "" {
		return fmt.Errorf("BTC_ADDRESS cannot be empty")
	}

	if c.PoolAddress == "" {
		return fmt.Errorf("POOL_ADDRESS cannot be empty")
	}

	switch c.BitcoinNetwork {
	case "mainnet", "testnet", "testnet3", "regtest", "signet":
	default:
		return fmt.Errorf("BITCOIN_NETWORK must be mainnet, testnet, regtest or signet, got %q", c.BitcoinNetwork)
	}

	switch c.HeightSource {
	case HeightSourceHTTP:
		if c.HeightAPIURL == "" {
			return fmt.Errorf("HEIGHT_API_URL cannot be empty for the http height source")
		}
	case HeightSourceRPC:
		if c.BitcoinRPCPort <= 0 || c.BitcoinRPCPort > 65535 {
			return fmt.Errorf("BITCOIN_RPC_PORT must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("HEIGHT_SOURCE must be %q or %q, got %q", HeightSourceHTTP, HeightSourceRPC, c.HeightSource)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}

	if c.PollInterval <= 0 || c.HashrateInterval <= 0 || c.RestartDelay <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	if (c.TelegramBotToken == "") != (c.TelegramUserID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_USER_ID must be set together")
	}

	return nil
}

// TelegramEnabled reports whether both Telegram credentials are set.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramUserID != ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
