// Package record holds the found-block record and its append-only file sink.
package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

// DefaultDir is where blocks_found.log is written unless configured otherwise.
const DefaultDir = "/app/logs"

// FileName is the name of the append-only record file.
const FileName = "blocks_found.log"

// separator follows every record in the file.
var separator = strings.Repeat("=", 80)

// Block describes a solution that met the network target.
type Block struct {
	Hash        string // digest bytes as hex, in the order they were compared
	Target      string
	Nonce       string
	Address     string
	JobID       string
	ExtraNonce2 string
	NTime       string
	Height      int64
	Difficulty  float64
	FoundAt     time.Time
}

// Format renders the block as the human readable record.
func (b *Block) Format() string {
	var sb strings.Builder
	sb.WriteString("[!] VALID BLOCK HASH DISCOVERED!\n")
	fmt.Fprintf(&sb, "[*] Hash: %s\n", b.Hash)
	fmt.Fprintf(&sb, "[*] Target: %s\n", b.Target)
	fmt.Fprintf(&sb, "[*] Nonce: %s\n", b.Nonce)
	fmt.Fprintf(&sb, "[*] Address: %s\n", b.Address)
	fmt.Fprintf(&sb, "[*] Job: %s\n", b.JobID)
	fmt.Fprintf(&sb, "[*] Height: %d\n", b.Height)
	fmt.Fprintf(&sb, "[*] Timestamp: %d\n", b.FoundAt.Unix())
	return sb.String()
}

// FileSink appends found-block records to dir/blocks_found.log.
type FileSink struct {
	mu     sync.Mutex
	dir    string
	logger *log.Logger
}

// NewFileSink creates a sink writing under dir. An empty dir means DefaultDir.
func NewFileSink(dir string, logger *log.Logger) *FileSink {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &FileSink{dir: dir, logger: logger.WithComponent("record")}
}

// Path returns the full path of the record file.
func (s *FileSink) Path() string {
	return filepath.Join(s.dir, FileName)
}

// RecordBlock appends the formatted block followed by a separator line. The
// directory is created if missing.
func (s *FileSink) RecordBlock(_ context.Context, b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "record_block", "failed to create record directory").
			WithContext("dir", s.dir)
	}

	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "record_block", "failed to open record file").
			WithContext("path", s.Path())
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%s\n%s\n", b.Format(), separator); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "record_block", "failed to write record").
			WithContext("path", s.Path())
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "record_block", "failed to flush record").
			WithContext("path", s.Path())
	}

	s.logger.Info("block recorded", "path", s.Path(), "hash", b.Hash)
	return nil
}
