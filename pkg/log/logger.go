// Package log provides structured logging utilities for the gosolo miner.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

// SessionIDKey is the context key under which the orchestrator stores the
// current session number.
const SessionIDKey contextKey = "session_id"

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
	quiet   bool
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithQuiet returns a logger whose progress output (hash rate, per-job
// chatter) is suppressed. Errors and found blocks are always logged.
func (l *Logger) WithQuiet(quiet bool) *Logger {
	return &Logger{
		Logger:  l.Logger,
		service: l.service,
		version: l.version,
		quiet:   quiet,
	}
}

// Quiet reports whether progress output is suppressed.
func (l *Logger) Quiet() bool {
	return l.quiet
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if sessionID := ctx.Value(SessionIDKey); sessionID != nil {
		logger = logger.With("session_id", sessionID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
		quiet:   l.quiet,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
		quiet:   l.quiet,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, blockHeight int64) *Logger {
	return l.WithFields("job_id", jobID, "block_height", blockHeight)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Progress logs at info level unless quiet mode is on.
func (l *Logger) Progress(msg string, args ...any) {
	if l.quiet {
		return
	}
	l.Info(msg, args...)
}

// Performance logging helpers

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ms", float64(duration)/float64(time.Millisecond),
	)
}

// LogHashrate logs a hash-rate sample. Suppressed in quiet mode.
func (l *Logger) LogHashrate(hashes uint64, elapsed time.Duration) {
	if l.quiet || elapsed <= 0 {
		return
	}
	rate := float64(hashes) / elapsed.Seconds()
	l.Info("hashrate",
		"hashes", hashes,
		"elapsed_s", elapsed.Seconds(),
		"hash_rate_hs", rate,
		"hash_rate_khs", rate/1000,
	)
}

// Connection logging helpers

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogStratumMessage logs Stratum protocol messages (debug level)
func (l *Logger) LogStratumMessage(direction, message string) {
	l.Debug("stratum message",
		"direction", direction,
		"message", strings.TrimRight(message, "\n"),
	)
}

// Mining-specific logging helpers

// LogBlockFound logs a solution that meets the network target. Never suppressed.
func (l *Logger) LogBlockFound(blockHash string, blockHeight int64, minerAddr string, nonce uint32) {
	l.Warn("block found",
		"block_hash", blockHash,
		"block_height", blockHeight,
		"miner_address", minerAddr,
		"nonce", nonce,
	)
}

// LogJobReceived logs a freshly decoded job.
func (l *Logger) LogJobReceived(jobID string, blockHeight int64, cleanJobs bool, branchCount int) {
	l.Progress("job received",
		"job_id", jobID,
		"block_height", blockHeight,
		"clean_jobs", cleanJobs,
		"merkle_branches", branchCount,
	)
}
