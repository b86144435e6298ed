package stratum

import (
	"github.com/bardlex/gosolo/pkg/errors"
)

// notifyParamCount is the number of positional mining.notify params.
const notifyParamCount = 9

// Job is one unit of work announced by mining.notify. It is immutable once
// decoded.
type Job struct {
	JobID        string
	PrevHash     string
	Coinb1       string
	Coinb2       string
	MerkleBranch []string
	Version      string
	NBits        string
	NTime        string
	CleanJobs    bool
}

// notify param names by position
var notifyFields = [notifyParamCount]string{
	"job_id", "prevhash", "coinb1", "coinb2", "merkle_branch", "version", "nbits", "ntime", "clean_jobs",
}

// DecodeJob validates and extracts a Job from mining.notify params.
//
// The merkle branch becomes empty when it is not a list, and clean_jobs
// defaults to false when it is not a boolean. Every other field is a
// required string.
func DecodeJob(params []any) (*Job, error) {
	if len(params) < notifyParamCount {
		return nil, errors.New(errors.ErrorTypeProtocol, "decode_job", "insufficient parameters").
			WithContext("count", len(params)).
			WithContext("required", notifyParamCount)
	}

	str := func(i int) (string, error) {
		s, ok := params[i].(string)
		if !ok {
			return "", MissingField(notifyFields[i])
		}
		return s, nil
	}

	job := &Job{}
	targets := []struct {
		index int
		dst   *string
	}{
		{0, &job.JobID},
		{1, &job.PrevHash},
		{2, &job.Coinb1},
		{3, &job.Coinb2},
		{5, &job.Version},
		{6, &job.NBits},
		{7, &job.NTime},
	}
	for _, f := range targets {
		v, err := str(f.index)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	job.MerkleBranch = []string{}
	if branch, ok := params[4].([]any); ok {
		job.MerkleBranch = make([]string, len(branch))
		for i, entry := range branch {
			// non-string entries fail later at hex decoding
			job.MerkleBranch[i], _ = entry.(string)
		}
	}

	job.CleanJobs, _ = params[8].(bool)

	return job, nil
}

// MissingField reports a required mining.notify field that is absent or has
// the wrong type.
func MissingField(name string) error {
	return errors.New(errors.ErrorTypeProtocol, "decode_job", "missing field "+name).
		WithContext("field", name)
}
