// Package watch defines core types shared across subsystems.
package watch

import (
	"sort"
	"time"
)

// Item is a single finding produced by keyword discovery for one site.
// The JSON keys are the contract with the search provider: discovery
// prompts instruct the provider to answer with exactly these fields.
type Item struct {
	Source          string `json:"Source"`
	Summary         string `json:"Summary"`
	PublicationDate string `json:"PublicationDate"`
	Impact          string `json:"Impact"`
	Recommendation  string `json:"Recommendation"`
	Link            string `json:"Link"`
}

// ReportEntry is one compiled report, appended to memory after every cycle.
type ReportEntry struct {
	Timestamp string   `json:"timestamp"`
	NewURLs   []string `json:"new_urls"`
	Report    string   `json:"report"`
}

// Memory is the durable state of the watch pipeline: which URLs have been
// reported before, what is known about them, and every report compiled so
// far. It round-trips through the Store as a single JSON document.
type Memory struct {
	SeenURLs []string        `json:"seen_urls"`
	Details  map[string]Item `json:"details"`
	Reports  []ReportEntry   `json:"reports"`
}

// NewMemory returns an empty, fully initialized memory.
func NewMemory() *Memory {
	return &Memory{
		SeenURLs: []string{},
		Details:  map[string]Item{},
		Reports:  []ReportEntry{},
	}
}

// Normalize repairs a memory loaded from an external document: nil
// collections become empty ones and the seen set is sorted and unique.
func (m *Memory) Normalize() {
	if m.SeenURLs == nil {
		m.SeenURLs = []string{}
	}
	if m.Details == nil {
		m.Details = map[string]Item{}
	}
	if m.Reports == nil {
		m.Reports = []ReportEntry{}
	}
	m.SeenURLs = dedupeSorted(m.SeenURLs)
}

// Clone returns a deep copy.
func (m *Memory) Clone() *Memory {
	out := NewMemory()
	out.SeenURLs = append(out.SeenURLs, m.SeenURLs...)
	for k, v := range m.Details {
		out.Details[k] = v
	}
	out.Reports = append(out.Reports, m.Reports...)
	return out
}

// Seen reports whether the URL is already in the seen set.
func (m *Memory) Seen(url string) bool {
	i := sort.SearchStrings(m.SeenURLs, url)
	return i < len(m.SeenURLs) && m.SeenURLs[i] == url
}

// MarkSeen adds URLs to the seen set, keeping it sorted and unique.
func (m *Memory) MarkSeen(urls ...string) {
	if len(urls) == 0 {
		return
	}
	m.SeenURLs = append(m.SeenURLs, urls...)
	m.SeenURLs = dedupeSorted(m.SeenURLs)
}

func dedupeSorted(in []string) []string {
	out := make([]string, 0, len(in))
	out = append(out, in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i == 0 || out[n-1] != s {
			out[n] = s
			n++
		}
	}
	return out[:n]
}

// List is the watch configuration resource: the ordered site list and the
// keyword list. It lives in its own JSON document, separate from service
// configuration, so operators can edit it without a restart.
type List struct {
	Sites    []string `json:"sites"`
	Keywords []string `json:"keywords"`
}

// Page is a fetched document after charset decoding.
type Page struct {
	URL          string
	StatusCode   int
	Body         string
	FetchedAt    time.Time
	UsedHeadless bool
}

// Citation locates a source reference inside a search answer.
type Citation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// SearchResult is the provider's answer to one search prompt.
type SearchResult struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// Empty reports whether the provider produced no usable answer.
func (r SearchResult) Empty() bool {
	return r.Text == ""
}

// Message is a notification ready for dispatch.
type Message struct {
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	HTML    bool
}

// CycleEvent is published after a completed cycle.
type CycleEvent struct {
	CycleID   string   `json:"cycle_id"`
	Timestamp string   `json:"timestamp"`
	Sites     int      `json:"sites"`
	NewURLs   []string `json:"new_urls"`
	Notified  bool     `json:"notified"`
}

// CycleResult summarizes one orchestrator run.
type CycleResult struct {
	CycleID     string
	Sites       int
	Discovered  int
	New         int
	ReportChars int
	Notified    bool
	Duration    time.Duration
}
