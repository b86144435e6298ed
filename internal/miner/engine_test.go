package miner

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bardlex/gosolo/internal/bitcoin"
	"github.com/bardlex/gosolo/internal/stratum"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

// fixedJob is a job with an empty merkle branch. Callers pick the nbits.
func fixedJob(nbits string) *stratum.Job {
	return &stratum.Job{
		JobID:        "1",
		PrevHash:     "000000000000000000024bead8df69990852c202db0e0097c1a12ea637d7e96d",
		Coinb1:       "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff",
		Coinb2:       "ffffffff0100f2052a010000001976a914000000000000000000000000000000000000000088ac00000000",
		MerkleBranch: []string{},
		Version:      "00000001",
		NBits:        nbits,
		NTime:        "5f5e1000",
	}
}

func fixedWork(nbits string) Work {
	return Work{
		Job:             fixedJob(nbits),
		ExtraNonce1:     "08000002",
		ExtraNonce2Size: 4,
		StartHeight:     100,
	}
}

func testEngine(state *State, cfg EngineConfig, reporters ...HashrateReporter) *Engine {
	if cfg.ExtraNonce2 == nil {
		cfg.ExtraNonce2 = FixedExtraNonce2("00000000")
	}
	return NewEngine(state, cfg, nil, reporters...)
}

func TestEngine_SearchDeterministic(t *testing.T) {
	var first *Solution
	for run := 0; run < 2; run++ {
		e := testEngine(NewState("addr", true), EngineConfig{MaxNonces: 1 << 16})
		sol, err := e.Search(context.Background(), fixedWork("2000ffff"))
		if err != nil {
			t.Fatalf("run %d: Search() error = %v", run, err)
		}

		if !bitcoin.HashMeetsTarget(sol.Hash, sol.Target) {
			t.Errorf("run %d: hash %x does not meet target %s", run, sol.Hash, sol.Target.Hex())
		}
		if sol.Hashes != uint64(sol.Nonce)+1 {
			t.Errorf("run %d: Hashes = %d, want %d", run, sol.Hashes, sol.Nonce+1)
		}

		if first == nil {
			first = sol
			continue
		}
		if sol.Nonce != first.Nonce || sol.Hash != first.Hash {
			t.Errorf("run %d: (%x, %d) differs from first run (%x, %d)", run, sol.Hash, sol.Nonce, first.Hash, first.Nonce)
		}
	}
}

func TestEngine_SolutionMatchesHeader(t *testing.T) {
	work := fixedWork("2000ffff")
	e := testEngine(NewState("addr", true), EngineConfig{MaxNonces: 1 << 16})
	sol, err := e.Search(context.Background(), work)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	cb, err := bitcoin.CoinbaseHash(work.Job.Coinb1, work.ExtraNonce1, sol.ExtraNonce2, work.Job.Coinb2)
	if err != nil {
		t.Fatal(err)
	}
	if root := bitcoin.ReverseHexBytes(bitcoin.HashHex(cb)); root != sol.MerkleRoot {
		t.Errorf("MerkleRoot = %s, want %s", sol.MerkleRoot, root)
	}

	header, err := bitcoin.EncodeHeader(work.Job.Version, work.Job.PrevHash, sol.MerkleRoot, work.Job.NBits, work.Job.NTime, sol.NonceHex())
	if err != nil {
		t.Fatal(err)
	}
	if header != sol.Header {
		t.Errorf("Header = %x, want %x", sol.Header, header)
	}
	if got := bitcoin.DoubleHash(header[:]); got != sol.Hash {
		t.Errorf("DoubleHash(header) = %x, want %x", got, sol.Hash)
	}

	sub := sol.Submission()
	if sub.JobID != "1" || sub.ExtraNonce2 != "00000000" || sub.NTime != "5f5e1000" || len(sub.Nonce) != 8 {
		t.Errorf("Submission() = %+v", sub)
	}
}

func TestEngine_BoundedScanDeterministic(t *testing.T) {
	for run := 0; run < 2; run++ {
		e := testEngine(NewState("addr", true), EngineConfig{MaxNonces: 5000})
		sol, err := e.Search(context.Background(), fixedWork("1d00ffff"))
		if err != ErrNonceLimit {
			t.Fatalf("run %d: Search() = %v, %v, want ErrNonceLimit", run, sol, err)
		}
	}
}

func TestEngine_StaleBeforeFirstBatch(t *testing.T) {
	state := NewState("addr", true)
	state.ObserveHeight(101)

	e := testEngine(state, EngineConfig{})
	_, err := e.Search(context.Background(), fixedWork("1d00ffff"))
	if !errors.Is(err, ErrStaleJob) {
		t.Fatalf("Search() error = %v, want ErrStaleJob", err)
	}
}

func TestEngine_StaleDuringSearch(t *testing.T) {
	state := NewState("addr", true)
	reporter := &recordingReporter{}
	reporter.onReport = func(HashrateSample) { state.ObserveHeight(101) }

	e := testEngine(state, EngineConfig{HashrateInterval: time.Nanosecond}, reporter)
	_, err := e.Search(context.Background(), fixedWork("1d00ffff"))
	if !errors.Is(err, ErrStaleJob) {
		t.Fatalf("Search() error = %v, want ErrStaleJob", err)
	}
	if len(reporter.samples) != 1 {
		t.Errorf("samples = %d, want 1", len(reporter.samples))
	}
}

func TestEngine_HashrateSamples(t *testing.T) {
	reporter := &recordingReporter{}
	e := testEngine(NewState("addr", true), EngineConfig{
		BatchSize:        1000,
		HashrateInterval: time.Nanosecond,
		MaxNonces:        3000,
	}, reporter)

	if _, err := e.Search(context.Background(), fixedWork("1d00ffff")); err != ErrNonceLimit {
		t.Fatalf("Search() error = %v, want ErrNonceLimit", err)
	}

	if len(reporter.samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(reporter.samples))
	}
	for i, s := range reporter.samples {
		if s.Hashes != 1000 || s.JobID != "1" || s.Height != 100 {
			t.Errorf("sample %d = %+v", i, s)
		}
		if s.Rate() <= 0 {
			t.Errorf("sample %d rate = %f", i, s.Rate())
		}
	}
}

func TestEngine_SearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(w *Work)
		wantType errors.ErrorType
	}{
		{"exponent too small", func(w *Work) { w.Job.NBits = "02ffffff" }, errors.ErrorTypeInvalidTarget},
		{"exponent too large", func(w *Work) { w.Job.NBits = "21ffffff" }, errors.ErrorTypeInvalidTarget},
		{"bad coinbase", func(w *Work) { w.Job.Coinb1 = "zz" }, errors.ErrorTypeDecode},
		{"bad branch", func(w *Work) { w.Job.MerkleBranch = []string{"abcd"} }, errors.ErrorTypeDecode},
		{"bad version", func(w *Work) { w.Job.Version = "xyz" }, errors.ErrorTypeDecode},
		{"no job", func(w *Work) { w.Job = nil }, errors.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := fixedWork("1d00ffff")
			tt.mutate(&w)
			_, err := testEngine(NewState("addr", true), EngineConfig{}).Search(context.Background(), w)
			if !errors.IsType(err, tt.wantType) {
				t.Errorf("Search() error = %v, want type %s", err, tt.wantType)
			}
		})
	}
}

func TestEngine_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testEngine(NewState("addr", true), EngineConfig{}).Search(ctx, fixedWork("1d00ffff"))
	if err != context.Canceled {
		t.Errorf("Search() error = %v, want context.Canceled", err)
	}
}

func TestExtraNonce2Sizing(t *testing.T) {
	tests := []struct {
		hint    int
		wantLen int
	}{
		{0, 8},
		{4, 8},
		{2, 4},
		{6, 12},
		{8, 16},
	}

	for _, tt := range tests {
		en2, err := RandomExtraNonce2(tt.hint)
		if err != nil {
			t.Fatalf("RandomExtraNonce2(%d) error = %v", tt.hint, err)
		}
		if len(en2) != tt.wantLen {
			t.Errorf("RandomExtraNonce2(%d) = %q, want length %d", tt.hint, en2, tt.wantLen)
		}
		if tt.wantLen > 8 && !strings.HasSuffix(en2, strings.Repeat("0", tt.wantLen-8)) {
			t.Errorf("RandomExtraNonce2(%d) = %q, want zero padding", tt.hint, en2)
		}
	}

	fixed, _ := FixedExtraNonce2("a1b2c3d4")(6)
	if fixed != "a1b2c3d40000" {
		t.Errorf("FixedExtraNonce2 padded = %q", fixed)
	}
	fixed, _ = FixedExtraNonce2("a1b2c3d4")(2)
	if fixed != "a1b2" {
		t.Errorf("FixedExtraNonce2 truncated = %q", fixed)
	}
}

func BenchmarkEngine_Search(b *testing.B) {
	e := testEngine(NewState("addr", true), EngineConfig{MaxNonces: 10000})
	work := fixedWork("1d00ffff")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Search(context.Background(), work)
	}
}

func TestEngine_QuietStateSilencesProgress(t *testing.T) {
	tests := []struct {
		name     string
		quiet    bool
		wantLogs bool
	}{
		{"verbose", false, true},
		{"quiet", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := log.NewWithWriter(&buf, "test", "test", "info", "text")
			e := NewEngine(NewState("addr", tt.quiet), EngineConfig{
				MaxNonces:   1 << 16,
				ExtraNonce2: FixedExtraNonce2("00000000"),
			}, logger)

			if _, err := e.Search(context.Background(), fixedWork("2000ffff")); err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if got := strings.Contains(buf.String(), "hash search started"); got != tt.wantLogs {
				t.Errorf("progress logged = %v, want %v\n%s", got, tt.wantLogs, buf.String())
			}
		})
	}
}

func TestSolution_DisplayHash(t *testing.T) {
	e := testEngine(NewState("addr", true), EngineConfig{MaxNonces: 1 << 16})
	sol, err := e.Search(context.Background(), fixedWork("2000ffff"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := bitcoin.ReverseHexBytes(sol.HashHex())
	if got := sol.DisplayHash(); got != want {
		t.Errorf("DisplayHash() = %s, want %s", got, want)
	}
}
