// Package gcs archives page snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

// BlobStore uploads snapshots to a GCS bucket and answers with gs:// URIs.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New wraps an existing storage client. The client's lifecycle belongs to
// the caller.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads data under the given object key and returns its gs://
// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	key := strings.TrimSpace(path)
	if key == "" {
		return "", fmt.Errorf("path is required")
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	// Snapshot bodies are capped upstream; a zero chunk size sends them in
	// one request instead of staging a chunk buffer.
	w.ChunkSize = 0
	if contentType != "" {
		w.ContentType = contentType
	}

	_, writeErr := w.Write(data)
	closeErr := w.Close()
	switch {
	case writeErr != nil:
		return "", fmt.Errorf("write object %q: %w", key, writeErr)
	case closeErr != nil:
		return "", fmt.Errorf("commit object %q: %w", key, closeErr)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
