// Package uuid issues the IDs stamped onto cycles and API requests.
// Version 7 UUIDs carry a leading timestamp, so sorting IDs roughly
// sorts records by creation time.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements watch.IDGenerator.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7 in canonical string form.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new uuid v7: %w", err)
	}
	return id.String(), nil
}
