// Package file implements the memory store as one JSON document replaced
// atomically on save.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

// Store persists the watch memory to a single file. Readers observe either
// the previous or the new document, never a torn write.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a file-backed store, creating the parent directory if needed.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("memory path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}, nil
}

// Load reads the memory document. An absent, unreadable, or corrupt file
// yields an empty memory: the watch pipeline restarts from scratch rather
// than refusing to run.
func (s *Store) Load(_ context.Context) (*watch.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("memory file unreadable, starting empty",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		return watch.NewMemory(), nil
	}

	var m watch.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("memory file corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return watch.NewMemory(), nil
	}
	m.Normalize()
	return &m, nil
}

// Save writes the document to a temp file in the same directory and renames
// it over the target.
func (s *Store) Save(_ context.Context, m *watch.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}
