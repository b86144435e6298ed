// Package miner runs the solo mining loop: it owns the shared run state, the
// nonce search engine, the network height watcher and the orchestrator that
// ties them to a pool session.
package miner

import "sync"

// State is shared between the orchestrator and the height watcher. Address
// and quiet mode are fixed at construction; the network height only ever
// increases.
type State struct {
	address string
	quiet   bool

	mu     sync.Mutex
	height int64
}

// NewState creates a run state with no observed height.
func NewState(address string, quiet bool) *State {
	return &State{address: address, quiet: quiet}
}

// Address returns the payout address used for authorize and submit.
func (s *State) Address() string {
	return s.address
}

// Quiet reports whether progress output is suppressed. Components built on
// a quiet state silence their progress logs regardless of the logger passed in.
func (s *State) Quiet() bool {
	return s.quiet
}

// Height returns the highest network height observed so far, or 0.
func (s *State) Height() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// ObserveHeight records h if it is greater than the current height and
// reports whether it did.
func (s *State) ObserveHeight(h int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h <= s.height {
		return false
	}
	s.height = h
	return true
}
