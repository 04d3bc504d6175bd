package csp

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// nonceBytes is 128 bits of entropy per nonce.
const nonceBytes = 16

// SessionNonces is one session's nonce pair. Invalidated nonces stay in
// the store until the next rotation clears them so stale policy strings
// can be recognized.
type SessionNonces struct {
	ScriptNonce string
	StyleNonce  string
	CreatedAt   time.Time
	Valid       bool
}

// NonceStore issues and rotates per-session nonces. Nonces are never
// reused across sessions: every Issue draws fresh randomness.
type NonceStore struct {
	mu           sync.Mutex
	sessions     map[string]*SessionNonces
	timeProvider func() time.Time
	randReader   func(b []byte) (int, error)
}

func NewNonceStore(timeProvider func() time.Time) *NonceStore {
	if timeProvider == nil {
		timeProvider = time.Now
	}
	return &NonceStore{
		sessions:     make(map[string]*SessionNonces),
		timeProvider: timeProvider,
		randReader:   rand.Read,
	}
}

// Issue returns the session's current nonces, generating a fresh pair
// when none exist or the existing pair has been invalidated.
func (s *NonceStore) Issue(sessionID string) (*SessionNonces, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.sessions[sessionID]; ok && n.Valid {
		return n, nil
	}

	scriptNonce, err := s.generate()
	if err != nil {
		return nil, err
	}
	styleNonce, err := s.generate()
	if err != nil {
		return nil, err
	}
	n := &SessionNonces{
		ScriptNonce: scriptNonce,
		StyleNonce:  styleNonce,
		CreatedAt:   s.timeProvider(),
		Valid:       true,
	}
	s.sessions[sessionID] = n
	return n, nil
}

// InvalidateAll marks every nonce invalid ahead of regeneration.
func (s *NonceStore) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.sessions {
		n.Valid = false
	}
}

// Sessions returns the ids with a stored nonce pair, valid or not.
func (s *NonceStore) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Clear drops all stored nonces.
func (s *NonceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*SessionNonces)
}

func (s *NonceStore) generate() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := s.randReader(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	// Raw URL encoding keeps the value inside the CSP token charset.
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
