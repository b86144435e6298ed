package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewWithWriter_ServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "solominer", "1.0.0", "info", "json")

	logger.Info("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["service"] != "solominer" || lines[0]["version"] != "1.0.0" {
		t.Errorf("missing service fields: %v", lines[0])
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "solominer", "dev", "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Errorf("unexpected output: %v", lines)
	}
}

func TestQuietMode(t *testing.T) {
	tests := []struct {
		name  string
		quiet bool
		want  int
	}{
		{"verbose", false, 3},
		{"quiet", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, "solominer", "dev", "info", "json").WithQuiet(tt.quiet)

			logger.Progress("mining", "job_id", "abc")
			logger.LogHashrate(5000, 5*time.Second)
			logger.LogBlockFound("00ab", 840000, "bc1qexample", 42)

			if got := len(decodeLines(t, &buf)); got != tt.want {
				t.Errorf("got %d lines, want %d", got, tt.want)
			}
		})
	}
}

func TestLogHashrate(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "solominer", "dev", "info", "json")

	logger.LogHashrate(10000, 5*time.Second)
	logger.LogHashrate(10000, 0)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["hash_rate_hs"] != 2000.0 {
		t.Errorf("hash_rate_hs = %v, want 2000", lines[0]["hash_rate_hs"])
	}
}

func TestWithContext_SessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "solominer", "dev", "info", "json")

	ctx := context.WithValue(context.Background(), SessionIDKey, 7)
	logger.WithContext(ctx).WithQuiet(false).Info("session")

	lines := decodeLines(t, &buf)
	if lines[0]["session_id"] != 7.0 {
		t.Errorf("session_id = %v, want 7", lines[0]["session_id"])
	}
}

func TestWithFieldsPreservesQuiet(t *testing.T) {
	logger := Nop().WithQuiet(true)
	if !logger.WithComponent("engine").WithJob("j1", 1).Quiet() {
		t.Error("quiet flag lost through With* helpers")
	}
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}
