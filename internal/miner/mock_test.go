package miner

import (
	"context"
	"sync"

	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/internal/stratum"
)

// mockHeightSource returns heights in order, repeating the last one.
type mockHeightSource struct {
	mu      sync.Mutex
	heights []int64
	err     error
	calls   int
}

func (m *mockHeightSource) Height(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	if len(m.heights) == 0 {
		return 0, nil
	}
	h := m.heights[0]
	if len(m.heights) > 1 {
		m.heights = m.heights[1:]
	}
	return h, nil
}

func (m *mockHeightSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSession scripts the pool side of one cycle.
type mockSession struct {
	subscribe    *stratum.SubscribeResult
	subscribeErr error
	authorizeErr error
	job          *stratum.Job
	jobErr       error
	submitErr    error
	ack          string
	ackErr       error

	authorized string
	submitted  []stratum.Submission
	closed     bool
}

func (m *mockSession) Subscribe() (*stratum.SubscribeResult, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	return m.subscribe, nil
}

func (m *mockSession) Authorize(address string) error {
	m.authorized = address
	return m.authorizeErr
}

func (m *mockSession) AwaitJob() (*stratum.Job, error) {
	if m.jobErr != nil {
		return nil, m.jobErr
	}
	return m.job, nil
}

func (m *mockSession) Submit(sub stratum.Submission) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, sub)
	return nil
}

func (m *mockSession) ReadAck() (string, error) {
	return m.ack, m.ackErr
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

func dialerFor(sess *mockSession) Dialer {
	return func(context.Context, string) (Session, error) {
		return sess, nil
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	samples  []HashrateSample
	onReport func(HashrateSample)
}

func (r *recordingReporter) ReportHashrate(sample HashrateSample) {
	r.mu.Lock()
	r.samples = append(r.samples, sample)
	r.mu.Unlock()
	if r.onReport != nil {
		r.onReport(sample)
	}
}

type recordingRecorder struct {
	blocks []*record.Block
	err    error
}

func (r *recordingRecorder) RecordBlock(_ context.Context, b *record.Block) error {
	r.blocks = append(r.blocks, b)
	return r.err
}

type recordingNotifier struct {
	blocks []*record.Block
}

func (n *recordingNotifier) NotifyBlockFound(b *record.Block) {
	n.blocks = append(n.blocks, b)
}

type observerFunc func(ctx context.Context, height int64)

func (f observerFunc) OnHeight(ctx context.Context, height int64) {
	f(ctx, height)
}
