// Package stratum implements the client side of the Stratum V1 mining
// protocol: the line-delimited JSON messages, mining.notify job decoding and
// a single-job pool session.
package stratum

import (
	"encoding/json"

	"github.com/bardlex/gosolo/pkg/errors"
)

// Stratum method names
const (
	MethodSubscribe = "mining.subscribe"
	MethodAuthorize = "mining.authorize"
	MethodSubmit    = "mining.submit"
	MethodNotify    = "mining.notify"
)

// Request ids used on the wire. Submit reuses the subscribe id.
const (
	SubscribeID = 1
	AuthorizeID = 2
	SubmitID    = 1
)

// AuthorizePassword is sent as the worker password; pools do not check it.
const AuthorizePassword = "password"

// Message represents an incoming Stratum JSON-RPC message. Error is left
// untyped because pools send it either as an object or as [code, msg, data].
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// Request is an outgoing Stratum call. Params is always encoded, even when
// empty.
type Request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "parse_message", "invalid JSON")
	}
	return &msg, nil
}

// MarshalRequest encodes a request without the trailing newline.
func MarshalRequest(req *Request) ([]byte, error) {
	if req.Params == nil {
		req.Params = []any{}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "marshal_request", "failed to marshal JSON").
			WithContext("method", req.Method)
	}
	return data, nil
}

// NewSubscribeRequest creates the mining.subscribe call.
func NewSubscribeRequest() *Request {
	return &Request{ID: SubscribeID, Method: MethodSubscribe, Params: []any{}}
}

// NewAuthorizeRequest creates the mining.authorize call for address.
func NewAuthorizeRequest(address string) *Request {
	return &Request{ID: AuthorizeID, Method: MethodAuthorize, Params: []any{address, AuthorizePassword}}
}

// NewSubmitRequest creates the mining.submit call.
func NewSubmitRequest(address, jobID, extranonce2, ntime, nonce string) *Request {
	return &Request{
		ID:     SubmitID,
		Method: MethodSubmit,
		Params: []any{address, jobID, extranonce2, ntime, nonce},
	}
}

// SubscribeResult is what the client keeps from the subscribe response.
type SubscribeResult struct {
	ExtraNonce1 string
	// ExtraNonce2Size is the pool's extranonce2 length hint in bytes, 0 when absent.
	ExtraNonce2Size int
}

// ParseSubscribeResult extracts result[1] (extranonce1) and result[2]
// (extranonce2 size) from a mining.subscribe response line.
func ParseSubscribeResult(line []byte) (*SubscribeResult, error) {
	msg, err := ParseMessage(line)
	if err != nil {
		return nil, err
	}

	result, ok := msg.Result.([]any)
	if !ok {
		return nil, errors.New(errors.ErrorTypeProtocol, "parse_subscribe", "subscribe result missing or not a list")
	}
	if len(result) < 2 {
		return nil, errors.New(errors.ErrorTypeProtocol, "parse_subscribe", "subscribe result too short").
			WithContext("length", len(result))
	}

	extranonce1, ok := result[1].(string)
	if !ok {
		return nil, errors.New(errors.ErrorTypeProtocol, "parse_subscribe", "extranonce1 missing or not a string")
	}

	sub := &SubscribeResult{ExtraNonce1: extranonce1}
	if len(result) > 2 {
		if size, ok := result[2].(float64); ok && size > 0 {
			sub.ExtraNonce2Size = int(size)
		}
	}
	return sub, nil
}
