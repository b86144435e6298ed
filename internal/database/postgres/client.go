// Package postgres stores found-block records in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration. URL, when set, is used
// as the connection string; otherwise one is built from the other fields.
type Config struct {
	URL          string
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DSN returns the connection string for cfg.
func (cfg *Config) DSN() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Migrate creates the found_blocks table if it does not exist.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

const schema = `
CREATE TABLE IF NOT EXISTS found_blocks (
	id           BIGSERIAL PRIMARY KEY,
	hash         TEXT NOT NULL UNIQUE,
	height       BIGINT NOT NULL,
	target       TEXT NOT NULL,
	nonce        TEXT NOT NULL,
	address      TEXT NOT NULL,
	job_id       TEXT NOT NULL,
	extra_nonce2 TEXT NOT NULL,
	ntime        TEXT NOT NULL,
	difficulty   DOUBLE PRECISION NOT NULL,
	found_at     TIMESTAMPTZ NOT NULL
)`
