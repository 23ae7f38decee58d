package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySeenSet(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	require.False(t, mem.Seen("https://example.com/a"))

	mem.MarkSeen("https://example.com/b", "https://example.com/a", "https://example.com/a")
	require.True(t, mem.Seen("https://example.com/a"))
	require.True(t, mem.Seen("https://example.com/b"))
	require.False(t, mem.Seen("https://example.com/c"))

	// Stored sorted and unique.
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, mem.SeenURLs)

	mem.MarkSeen()
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, mem.SeenURLs)
}

func TestMemoryNormalize(t *testing.T) {
	t.Parallel()

	var mem Memory
	mem.Normalize()
	require.NotNil(t, mem.SeenURLs)
	require.NotNil(t, mem.Details)
	require.NotNil(t, mem.Reports)

	mem.SeenURLs = []string{"z", "a", "z", "m"}
	mem.Normalize()
	require.Equal(t, []string{"a", "m", "z"}, mem.SeenURLs)
}

func TestMemoryClone(t *testing.T) {
	t.Parallel()

	orig := NewMemory()
	orig.MarkSeen("https://example.com/a")
	orig.Details["https://example.com/a"] = Item{Summary: "original"}
	orig.Reports = append(orig.Reports, ReportEntry{Timestamp: "2026-01-02T00:00:00Z"})

	clone := orig.Clone()
	clone.MarkSeen("https://example.com/b")
	clone.Details["https://example.com/a"] = Item{Summary: "mutated"}
	clone.Details["https://example.com/b"] = Item{}
	clone.Reports[0].Timestamp = "changed"
	clone.Reports = append(clone.Reports, ReportEntry{})

	require.Equal(t, []string{"https://example.com/a"}, orig.SeenURLs)
	require.Equal(t, "original", orig.Details["https://example.com/a"].Summary)
	require.Len(t, orig.Details, 1)
	require.Len(t, orig.Reports, 1)
	require.Equal(t, "2026-01-02T00:00:00Z", orig.Reports[0].Timestamp)
}

func TestSearchResultEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, SearchResult{}.Empty())
	require.True(t, SearchResult{Citations: []Citation{{URL: "https://example.com"}}}.Empty())
	require.False(t, SearchResult{Text: "found something"}.Empty())
}
