package watch

import (
	"context"
	"time"
)

// Store persists the watch memory.
type Store interface {
	Load(ctx context.Context) (*Memory, error)
	Save(ctx context.Context, m *Memory) error
}

// Fetcher retrieves a single page and decodes it to text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Provider answers natural-language prompts through a web-search-capable
// model. Discovery and digest ops absorb provider failures into empty
// values; DraftReport surfaces them so callers can fall back.
type Provider interface {
	Search(ctx context.Context, prompt string) (SearchResult, error)
	DiscoverSite(ctx context.Context, site string, keywords []string, windowDays int) []Item
	DraftReport(ctx context.Context, items []Item) (string, error)
	SummarizeURL(ctx context.Context, url string) (string, error)
	SummarizeText(ctx context.Context, url, text string) (string, error)
}

// Notifier delivers a message to the operators.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Enricher completes discovered items before they are reported.
type Enricher interface {
	EnrichItems(ctx context.Context, cycleID string, items []Item) []Item
}

// Compiler turns the cycle's new items into report text. It is total: the
// compiler degrades internally rather than returning an error.
type Compiler interface {
	Compile(ctx context.Context, items []Item, now time.Time) string
}

// Locker serializes watch cycles. TryAcquire returns a release function on
// success; release is safe to call more than once.
type Locker interface {
	TryAcquire() (func(), error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes cycle completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for snapshot keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle and request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
