package stratum

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"

	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
)

// State is the position of a Session in the handshake/submit sequence.
type State int

const (
	StateConnecting State = iota
	StateSubscribing
	StateAwaitingSubscribeResult
	StateAuthorizing
	StateAwaitingJob
	StateJobReady
	StateSubmitting
	StateAwaitingSubmitAck
	StateClosed
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateAwaitingSubscribeResult:
		return "awaiting_subscribe_result"
	case StateAuthorizing:
		return "authorizing"
	case StateAwaitingJob:
		return "awaiting_job"
	case StateJobReady:
		return "job_ready"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingSubmitAck:
		return "awaiting_submit_ack"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Submission is the solution data sent with mining.submit.
type Submission struct {
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// Session is one connection to the pool carrying exactly one job. It is not
// safe for concurrent use. Any failure closes it; callers start a new one.
//
// Reads and writes carry no deadlines, so a stalled pool blocks the caller
// until the connection is closed.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *log.Logger
	state  State

	address         string
	extraNonce1     string
	extraNonce2Size int
	job             *Job
}

// Dial connects to the pool. ctx bounds only the connect.
func Dial(ctx context.Context, addr string, logger *log.Logger) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "dial", "failed to connect to pool").
			WithContext("pool", addr)
	}
	return NewSession(conn, logger), nil
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Nop()
	}
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	s := &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger.WithFields("component", "stratum", "remote_addr", remote),
		state:  StateConnecting,
	}
	s.logger.Debug("session opened")
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// ExtraNonce1 returns the pool-assigned extranonce1.
func (s *Session) ExtraNonce1() string {
	return s.extraNonce1
}

// ExtraNonce2Size returns the pool's extranonce2 size hint in bytes.
func (s *Session) ExtraNonce2Size() int {
	return s.extraNonce2Size
}

// Job returns the job received by AwaitJob, or nil.
func (s *Session) Job() *Job {
	return s.job
}

// Subscribe sends mining.subscribe and reads the first response line.
func (s *Session) Subscribe() (*SubscribeResult, error) {
	if err := s.expect("subscribe", StateConnecting); err != nil {
		return nil, err
	}

	s.state = StateSubscribing
	if err := s.send(NewSubscribeRequest()); err != nil {
		return nil, err
	}

	s.state = StateAwaitingSubscribeResult
	line, err := s.readLine("subscribe")
	if err != nil {
		return nil, err
	}

	result, err := ParseSubscribeResult(line)
	if err != nil {
		return nil, s.fail(err)
	}

	s.extraNonce1 = result.ExtraNonce1
	s.extraNonce2Size = result.ExtraNonce2Size
	s.logger.Debug("subscribed",
		"extranonce1", result.ExtraNonce1,
		"extranonce2_size", result.ExtraNonce2Size,
	)
	return result, nil
}

// Authorize sends mining.authorize for address. The response is not waited
// for; it is skipped by AwaitJob.
func (s *Session) Authorize(address string) error {
	if err := s.expect("authorize", StateAwaitingSubscribeResult); err != nil {
		return err
	}

	s.state = StateAuthorizing
	s.address = address
	if err := s.send(NewAuthorizeRequest(address)); err != nil {
		return err
	}

	s.state = StateAwaitingJob
	return nil
}

// AwaitJob reads lines until one carries mining.notify and decodes it.
func (s *Session) AwaitJob() (*Job, error) {
	if err := s.expect("await_job", StateAwaitingJob); err != nil {
		return nil, err
	}

	for {
		line, err := s.readLine("await_job")
		if err != nil {
			return nil, err
		}
		if !strings.Contains(string(line), MethodNotify) {
			continue
		}

		msg, err := ParseMessage(line)
		if err != nil {
			return nil, s.fail(err)
		}
		job, err := DecodeJob(msg.Params)
		if err != nil {
			return nil, s.fail(err)
		}

		s.job = job
		s.state = StateJobReady
		return job, nil
	}
}

// Submit sends mining.submit for the session's job.
func (s *Session) Submit(sub Submission) error {
	if err := s.expect("submit", StateJobReady); err != nil {
		return err
	}

	s.state = StateSubmitting
	req := NewSubmitRequest(s.address, sub.JobID, sub.ExtraNonce2, sub.NTime, sub.Nonce)
	if err := s.send(req); err != nil {
		return err
	}

	s.state = StateAwaitingSubmitAck
	return nil
}

// ReadAck reads one line after a submit and returns it as received. The
// content is not interpreted. The session is closed afterwards.
func (s *Session) ReadAck() (string, error) {
	if err := s.expect("read_ack", StateAwaitingSubmitAck); err != nil {
		return "", err
	}

	line, err := s.readLine("read_ack")
	if err != nil {
		return "", err
	}
	_ = s.Close()
	return string(line), nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.logger.Debug("session closed")
	return s.conn.Close()
}

// IsConnectionClosed reports whether err means the pool closed the stream.
func IsConnectionClosed(err error) bool {
	return errors.IsType(err, errors.ErrorTypeConnection) && errors.Is(err, io.EOF)
}

func (s *Session) expect(op string, want State) error {
	if s.state == want {
		return nil
	}
	return errors.New(errors.ErrorTypeProtocol, op, "operation not valid in current state").
		WithContext("state", s.state.String()).
		WithContext("expected", want.String())
}

func (s *Session) fail(err error) error {
	_ = s.Close()
	return err
}

func (s *Session) send(req *Request) error {
	data, err := MarshalRequest(req)
	if err != nil {
		return s.fail(err)
	}
	s.logger.LogStratumMessage("sent", string(data))

	if _, err := s.conn.Write(append(data, '\n')); err != nil {
		return s.fail(errors.Wrap(err, errors.ErrorTypeConnection, "write", "failed to write to pool").
			WithContext("method", req.Method))
	}
	return nil
}

// readLine returns the next non-empty line without its terminator. A final
// unterminated line is returned as is; EOF with nothing buffered is a
// closed connection.
func (s *Session) readLine(op string) ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		trimmed := []byte(strings.TrimSpace(string(line)))

		if err != nil {
			if err == io.EOF && len(trimmed) > 0 {
				s.logger.LogStratumMessage("received", string(trimmed))
				return trimmed, nil
			}
			if err == io.EOF {
				return nil, s.fail(errors.Wrap(io.EOF, errors.ErrorTypeConnection, op, "connection closed by pool").
					WithContext("state", s.state.String()))
			}
			return nil, s.fail(errors.Wrap(err, errors.ErrorTypeConnection, op, "failed to read from pool").
				WithContext("state", s.state.String()))
		}

		if len(trimmed) == 0 {
			continue
		}
		s.logger.LogStratumMessage("received", string(trimmed))
		return trimmed, nil
	}
}
