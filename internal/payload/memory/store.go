// Package memory contains an in-memory payload store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fcdockets/imm-crawler/internal/caseid"
)

// Store keeps persisted payloads in a map for inspection.
type Store struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{payloads: make(map[string][]byte)}
}

// Persist records the payload and returns a mem:// reference.
func (s *Store) Persist(_ context.Context, id caseid.ID, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[id.String()] = append([]byte(nil), payload...)
	return fmt.Sprintf("mem://%s", id.String()), nil
}

// Get returns the stored payload for id.
func (s *Store) Get(id caseid.ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[id.String()]
	return payload, ok
}

// Len returns the number of stored payloads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payloads)
}
