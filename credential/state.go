// Package credential holds the process-wide access credential and the
// refresh belief flag.
//
// The access token lives only in memory, sealed in a memguard Enclave, and
// is never persisted. The belief flag records whether we think the server
// holds a refresh credential (an http-only cookie) for this client; it is a
// heuristic used to avoid pointless refresh calls, not a proof.
package credential

import (
	"sync"

	"github.com/awnumar/memguard"
)

// State is the single owner of the credential/belief pair. It is injected
// into the request client, the refresh coordinator and the session store.
type State struct {
	mu         sync.RWMutex
	token      *memguard.Enclave
	belief     bool
	generation uint64
}

// NewState returns an empty State with the given initial belief.
func NewState(belief bool) *State {
	return &State{belief: belief}
}

// Set stores a new access token and asserts that a refresh credential
// probably exists. An empty token clears the credential but keeps the
// belief set.
func (s *State) Set(token string) {
	var enclave *memguard.Enclave
	if token != "" {
		// NewEnclave wipes its input, so hand it a private copy.
		enclave = memguard.NewEnclave([]byte(token))
	}
	s.mu.Lock()
	s.token = enclave
	s.belief = true
	s.generation++
	s.mu.Unlock()
}

// Token returns the current access token, if any.
func (s *State) Token() (string, bool) {
	tok, _, ok := s.Snapshot()
	return tok, ok
}

// Snapshot returns the token together with the generation it belongs to,
// so a caller can later tell whether the credential changed underneath it.
func (s *State) Snapshot() (token string, generation uint64, ok bool) {
	s.mu.RLock()
	enclave, gen := s.token, s.generation
	s.mu.RUnlock()
	if enclave == nil {
		return "", gen, false
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", gen, false
	}
	defer buf.Destroy()
	// Copy out before the locked buffer is destroyed.
	return string(buf.Bytes()), gen, true
}

// HasCredential reports whether an access token is held.
func (s *State) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil
}

// Generation increments every time the credential is set or cleared.
func (s *State) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Belief reports whether a refresh credential is believed to exist.
func (s *State) Belief() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.belief
}

// SetBelief overrides the belief flag without touching the credential.
// Used at boot to seed the flag from persisted identity.
func (s *State) SetBelief(belief bool) {
	s.mu.Lock()
	s.belief = belief
	s.mu.Unlock()
}

// Clear drops the credential and the belief. Used on logout and when a
// refresh is denied.
func (s *State) Clear() {
	s.mu.Lock()
	s.token = nil
	s.belief = false
	s.generation++
	s.mu.Unlock()
}

// ClearIf clears the credential only while it is still at generation and
// reports whether it did.
func (s *State) ClearIf(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return false
	}
	s.token = nil
	s.belief = false
	s.generation++
	return true
}
