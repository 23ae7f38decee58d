// Package memory keeps snapshots in process. It backs the "memory"
// snapshots driver for development runs and the enrichment tests.
package memory

import (
	"context"
	"sync"
)

type blob struct {
	contentType string
	body        []byte
}

// BlobStore maps snapshot paths to bodies and hands out memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]blob
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]blob)}
}

// PutObject stores a copy of data under path, replacing any previous
// object at that path.
func (s *BlobStore) PutObject(_ context.Context, path, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = blob{
		contentType: contentType,
		body:        append([]byte(nil), data...),
	}
	return "memory://" + path, nil
}

// Object returns a copy of the body stored under path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.body...), true
}

// ContentType returns the MIME type recorded for path.
func (s *BlobStore) ContentType(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj.contentType, ok
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
