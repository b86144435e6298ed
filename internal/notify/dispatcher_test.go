package notify

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	err   error
	block chan struct{}
}

func (s *recordingSender) Send(_ context.Context, text string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.err
}

func (s *recordingSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, 4, nil)
	d.Start(context.Background())

	d.NotifyStartup("addr", false, "pool")
	d.NotifyBlockFound(&record.Block{Hash: "00ab", Nonce: "00000001"})
	d.Close()

	texts := sender.Texts()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want 2", len(texts))
	}
	if !strings.Contains(texts[0], "Started") || !strings.Contains(texts[1], "BLOCK FOUND") {
		t.Errorf("messages out of order: %q", texts)
	}
}

func TestDispatcher_NeverBlocks(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	d := NewDispatcher(sender, 1, nil)
	d.Start(context.Background())

	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Enqueue("x") {
			accepted++
		}
	}
	if accepted < 1 || accepted > 2 {
		t.Errorf("accepted %d messages, want 1 or 2 with a stalled sender", accepted)
	}

	close(sender.block)
	d.Close()
}

func TestDispatcher_SendErrorsAreLogged(t *testing.T) {
	sender := &recordingSender{err: errors.New(errors.ErrorTypeNotification, "telegram_send", "down")}
	d := NewDispatcher(sender, 0, nil)
	d.Start(context.Background())

	d.Enqueue("a")
	d.Enqueue("b")
	d.Close()

	if got := len(sender.Texts()); got != 2 {
		t.Errorf("attempted %d, want 2", got)
	}
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, 1, nil)
	d.Start(context.Background())
	d.Close()
	d.Close()

	if d.Enqueue("late") {
		t.Error("Enqueue() after Close should be rejected")
	}
}

// breakerSender fails every send through a breaker that opens after one failure.
type breakerSender struct {
	breaker *circuit.Breaker
	calls   int
}

func (s *breakerSender) Send(ctx context.Context, _ string) error {
	return s.breaker.Execute(ctx, func() error {
		s.calls++
		return errors.New(errors.ErrorTypeNotification, "telegram_send", "down")
	})
}

func TestDispatcher_OpenCircuitIsNotAWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, "test", "test", "debug", "text")
	sender := &breakerSender{breaker: circuit.New(&circuit.Config{
		Name:            "telegram",
		MaxFailures:     1,
		SuccessRequired: 1,
		Timeout:         time.Hour,
		ResetTimeout:    time.Hour,
	})}

	d := NewDispatcher(sender, 4, logger)
	d.Start(context.Background())
	d.Enqueue("a")
	d.Enqueue("b")
	d.Enqueue("c")
	d.Close()

	if sender.calls != 1 {
		t.Errorf("sender reached %d times, want 1 before the circuit opens", sender.calls)
	}
	out := buf.String()
	if n := strings.Count(out, "failed to send notification"); n != 1 {
		t.Errorf("warnings = %d, want 1\n%s", n, out)
	}
	if n := strings.Count(out, "notification dropped, circuit open"); n != 2 {
		t.Errorf("open-circuit drops = %d, want 2\n%s", n, out)
	}
}
