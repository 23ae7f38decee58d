// Package memory buffers published events in process. It backs the
// "memory" publisher driver and the test fixtures that assert on
// published payloads.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher appends every publish to an in-process buffer.
type Publisher struct {
	mu   sync.Mutex
	seq  int
	sent []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message. The returned ID is unique per Publisher
// instance, not globally.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.sent = append(p.sent, PublishedMessage{Topic: topic, Payload: payload})
	return "mem-" + strconv.Itoa(p.seq), nil
}

// Messages returns a snapshot of everything published so far, oldest
// first. Mutating the returned slice does not affect the buffer.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.sent...)
}
