package stratum

import (
	"reflect"
	"testing"

	"github.com/bardlex/gosolo/pkg/errors"
)

func notifyParams() []any {
	return []any{
		"4f",
		"4d16b6f85af6e2198f44ae2a6de67f78487ae5611b77c6c0440b921e00000000",
		"01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff20020862062f503253482f04b8864e5008",
		"072f736c7573682f000000000100f2052a010000001976a914d23fcdf86f7e756a64a7a9688ef9903327048ed988ac00000000",
		[]any{"a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"},
		"00000002",
		"1c2ac4af",
		"504e86b9",
		false,
	}
}

func TestDecodeJob(t *testing.T) {
	job, err := DecodeJob(notifyParams())
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}

	want := &Job{
		JobID:        "4f",
		PrevHash:     "4d16b6f85af6e2198f44ae2a6de67f78487ae5611b77c6c0440b921e00000000",
		Coinb1:       notifyParams()[2].(string),
		Coinb2:       notifyParams()[3].(string),
		MerkleBranch: []string{"a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"},
		Version:      "00000002",
		NBits:        "1c2ac4af",
		NTime:        "504e86b9",
		CleanJobs:    false,
	}
	if !reflect.DeepEqual(job, want) {
		t.Errorf("DecodeJob() = %+v, want %+v", job, want)
	}
}

func TestDecodeJob_Leniency(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(p []any) []any
		wantBranch []string
		wantClean  bool
	}{
		{
			name:       "clean_jobs true",
			mutate:     func(p []any) []any { p[8] = true; return p },
			wantBranch: []string{"a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"},
			wantClean:  true,
		},
		{
			name:       "clean_jobs not a bool",
			mutate:     func(p []any) []any { p[8] = "true"; return p },
			wantBranch: []string{"a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"},
		},
		{
			name:       "clean_jobs null",
			mutate:     func(p []any) []any { p[8] = nil; return p },
			wantBranch: []string{"a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"},
		},
		{
			name:       "branch not a list",
			mutate:     func(p []any) []any { p[4] = "abcd"; return p },
			wantBranch: []string{},
		},
		{
			name:       "branch null",
			mutate:     func(p []any) []any { p[4] = nil; return p },
			wantBranch: []string{},
		},
		{
			name:       "non-string branch entries become empty",
			mutate:     func(p []any) []any { p[4] = []any{"aa", float64(3)}; return p },
			wantBranch: []string{"aa", ""},
		},
		{
			name:       "extra trailing params ignored",
			mutate:     func(p []any) []any { return append(p, "extra") },
			wantBranch: []string{"a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeJob(tt.mutate(notifyParams()))
			if err != nil {
				t.Fatalf("DecodeJob() error = %v", err)
			}
			if !reflect.DeepEqual(job.MerkleBranch, tt.wantBranch) {
				t.Errorf("MerkleBranch = %v, want %v", job.MerkleBranch, tt.wantBranch)
			}
			if job.CleanJobs != tt.wantClean {
				t.Errorf("CleanJobs = %v, want %v", job.CleanJobs, tt.wantClean)
			}
		})
	}
}

func TestDecodeJob_Errors(t *testing.T) {
	tests := []struct {
		name      string
		params    []any
		wantField string
	}{
		{name: "empty", params: []any{}},
		{name: "eight params", params: notifyParams()[:8]},
		{name: "job_id not a string", params: func() []any { p := notifyParams(); p[0] = float64(79); return p }(), wantField: "job_id"},
		{name: "prevhash null", params: func() []any { p := notifyParams(); p[1] = nil; return p }(), wantField: "prevhash"},
		{name: "coinb2 missing", params: func() []any { p := notifyParams(); p[3] = false; return p }(), wantField: "coinb2"},
		{name: "version not a string", params: func() []any { p := notifyParams(); p[5] = float64(2); return p }(), wantField: "version"},
		{name: "nbits not a string", params: func() []any { p := notifyParams(); p[6] = []any{}; return p }(), wantField: "nbits"},
		{name: "ntime not a string", params: func() []any { p := notifyParams(); p[7] = nil; return p }(), wantField: "ntime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob(tt.params)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsType(err, errors.ErrorTypeProtocol) {
				t.Errorf("error type = %s, want protocol", errors.TypeOf(err))
			}

			ctx := errors.GetContext(err)
			if tt.wantField == "" {
				if ctx["count"] != len(tt.params) {
					t.Errorf("count context = %v, want %d", ctx["count"], len(tt.params))
				}
				return
			}
			if ctx["field"] != tt.wantField {
				t.Errorf("field context = %v, want %s", ctx["field"], tt.wantField)
			}
		})
	}
}
