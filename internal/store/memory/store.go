// Package memory implements an in-memory Store for tests and development.
package memory

import (
	"context"
	"sync"

	"github.com/veilletech/sitewatch/internal/watch"
)

// Store keeps the watch memory in process. Loads and saves exchange deep
// copies so callers cannot alias internal state.
type Store struct {
	mu sync.Mutex
	m  *watch.Memory
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{m: watch.NewMemory()}
}

// Load returns a copy of the current memory.
func (s *Store) Load(_ context.Context) (*watch.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Clone(), nil
}

// Save replaces the current memory with a copy of m.
func (s *Store) Save(_ context.Context, m *watch.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m.Clone()
	return nil
}
