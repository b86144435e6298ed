// Package influx writes miner time-series metrics to InfluxDB: hash rate,
// network height and found blocks.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names
const (
	MeasurementHashrate = "hashrate"
	MeasurementHeight   = "network_height"
	MeasurementBlocks   = "blocks"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	return c, nil
}

// Close flushes pending points and closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Errors returns the channel of asynchronous write errors.
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// WriteHashrateMetric writes a hash-rate measurement
func (c *Client) WriteHashrateMetric(address, jobID string, height int64, hashes uint64, hashrate float64, at time.Time) {
	c.writeAPI.WritePoint(HashratePoint(address, jobID, height, hashes, hashrate, at))
}

// WriteHeightMetric writes an observed network height
func (c *Client) WriteHeightMetric(height int64, at time.Time) {
	c.writeAPI.WritePoint(HeightPoint(height, at))
}

// WriteBlockMetric writes a block discovery metric
func (c *Client) WriteBlockMetric(address, hash string, height int64, difficulty float64, at time.Time) {
	c.writeAPI.WritePoint(BlockPoint(address, hash, height, difficulty, at))
}

// HashratePoint builds the hashrate measurement point.
func HashratePoint(address, jobID string, height int64, hashes uint64, hashrate float64, at time.Time) *write.Point {
	tags := map[string]string{
		"address": address,
		"job_id":  jobID,
	}

	fields := map[string]interface{}{
		"hashrate": hashrate,
		"hashes":   int64(hashes),
		"height":   height,
	}

	return write.NewPoint(MeasurementHashrate, tags, fields, at)
}

// HeightPoint builds the network_height measurement point.
func HeightPoint(height int64, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"height": height,
	}

	return write.NewPoint(MeasurementHeight, map[string]string{}, fields, at)
}

// BlockPoint builds the blocks measurement point.
func BlockPoint(address, hash string, height int64, difficulty float64, at time.Time) *write.Point {
	tags := map[string]string{
		"address": address,
		"hash":    hash,
	}

	fields := map[string]interface{}{
		"height":     height,
		"difficulty": difficulty,
		"count":      1,
	}

	return write.NewPoint(MeasurementBlocks, tags, fields, at)
}
