package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/metrics"
	memorypub "github.com/veilletech/sitewatch/internal/publisher/memory"
	"github.com/veilletech/sitewatch/internal/runlock"
	"github.com/veilletech/sitewatch/internal/watch"
)

func writeWatchList(t *testing.T, sites, keywords []string) string {
	t.Helper()
	doc, err := json.Marshal(map[string]any{"sites": sites, "keywords": keywords})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "watchlist.json")
	require.NoError(t, os.WriteFile(path, doc, 0o644))
	return path
}

type fixture struct {
	cfg      Config
	lock     *fakeLock
	store    *fakeStore
	provider *fakeProvider
	enricher *fakeEnricher
	compiler *fakeCompiler
	notifier *fakeNotifier
	pub      *memorypub.Publisher
	ids      *fakeIDs
	now      time.Time
}

func newFixture(t *testing.T, sites []string) *fixture {
	t.Helper()
	return &fixture{
		cfg: Config{
			WatchListPath: writeWatchList(t, sites, []string{"go", "release"}),
			Topic:         "cycles",
		},
		lock:     &fakeLock{},
		store:    &fakeStore{mem: watch.NewMemory()},
		provider: &fakeProvider{bySite: map[string][]watch.Item{}},
		enricher: &fakeEnricher{fill: "enriched summary"},
		compiler: &fakeCompiler{text: "compiled report"},
		notifier: &fakeNotifier{},
		pub:      memorypub.New(),
		ids:      &fakeIDs{id: "generated-id"},
		now:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) runner() *Runner {
	var enr watch.Enricher
	if f.enricher != nil {
		enr = f.enricher
	}
	var not watch.Notifier
	if f.notifier != nil {
		not = f.notifier
	}
	var pub watch.Publisher
	if f.pub != nil {
		pub = f.pub
	}
	return New(f.cfg, f.lock, f.store, f.provider, enr, f.compiler, not, pub,
		fixedClock{f.now}, f.ids, zap.NewNop())
}

func TestRunnerRun(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example", "https://b.example"})
	f.store.mem.MarkSeen("https://example.com/old")
	f.provider.bySite = map[string][]watch.Item{
		"https://a.example": {
			{Summary: "seen before", Link: "https://example.com/old"},
			{Summary: "from-site-a", Link: "https://example.com/zeta"},
		},
		"https://b.example": {
			{Summary: "cross-site duplicate", Link: "https://example.com/zeta?utm_source=feed"},
			{Link: "https://example.com/alpha"},
		},
	}
	// Site A finishes last; merge order must still follow the watch list.
	f.provider.delay = map[string]time.Duration{"https://a.example": 20 * time.Millisecond}

	result, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)

	require.Equal(t, "cycle-api", result.CycleID)
	require.Equal(t, 2, result.Sites)
	require.Equal(t, 4, result.Discovered)
	require.Equal(t, 2, result.New)
	require.Equal(t, len("compiled report"), result.ReportChars)
	require.True(t, result.Notified)
	require.Equal(t, 1, f.lock.releases())

	// The provider got the window default and the keywords.
	require.Equal(t, 7, f.provider.lastWindowDays())
	require.Equal(t, []string{"go", "release"}, f.provider.lastKeywords())

	// One save carrying the whole cycle.
	require.Equal(t, 1, f.store.saveCount())
	saved := f.store.lastSaved()
	require.Equal(t, []string{
		"https://example.com/alpha",
		"https://example.com/old",
		"https://example.com/zeta",
	}, saved.SeenURLs)
	require.Equal(t, "from-site-a", saved.Details["https://example.com/zeta"].Summary)
	require.Contains(t, saved.Details, "https://example.com/alpha")
	require.Len(t, saved.Reports, 1)
	entry := saved.Reports[0]
	require.Equal(t, "2026-08-20T10:00:00Z", entry.Timestamp)
	require.Equal(t, []string{"https://example.com/alpha", "https://example.com/zeta"}, entry.NewURLs)
	require.Equal(t, "compiled report", entry.Report)

	// Enrichment ran before compilation with the cycle's ID.
	require.Equal(t, "cycle-api", f.enricher.lastCycleID())
	compiled := f.compiler.lastItems()
	require.Len(t, compiled, 2)
	require.Equal(t, "from-site-a", compiled[0].Summary)
	require.Equal(t, "enriched summary", compiled[1].Summary)
	require.Equal(t, f.now, f.compiler.lastNow())

	// Notification wraps the report as HTML mail, items in watch list order.
	msg := f.notifier.lastMessage()
	require.Equal(t, "Site watch report (2026-08-20)", msg.Subject)
	require.True(t, msg.HTML)
	require.Contains(t, msg.Body, "compiled report")
	require.Less(t,
		strings.Index(msg.Body, "from-site-a"),
		strings.Index(msg.Body, "enriched summary"),
	)

	// Completion event preserves discovery order.
	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "cycles", msgs[0].Topic)
	event, ok := msgs[0].Payload.(watch.CycleEvent)
	require.True(t, ok)
	require.Equal(t, "cycle-api", event.CycleID)
	require.Equal(t, []string{"https://example.com/zeta", "https://example.com/alpha"}, event.NewURLs)
	require.True(t, event.Notified)
}

func TestRunnerRun_GeneratesCycleID(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	result, err := f.runner().Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "generated-id", result.CycleID)
}

func TestRunnerRun_CycleIDFallback(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.ids.err = errors.New("entropy exhausted")

	result, err := f.runner().Run(context.Background(), "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.CycleID, "cycle-"))
}

func TestRunnerRun_AlreadyLocked(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.lock.err = runlock.ErrHeld

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.ErrorIs(t, err, ErrCycleRunning)
	require.Equal(t, 0, f.store.saveCount())
	require.Equal(t, 0, f.provider.discoverCalls())
}

func TestRunnerRun_LockFailure(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.lock.err = errors.New("disk full")

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.ErrorContains(t, err, "acquire run lock")
	require.NotErrorIs(t, err, ErrCycleRunning)
}

func TestRunnerRun_MissingWatchList(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.cfg.WatchListPath = filepath.Join(t.TempDir(), "nope.json")

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.Error(t, err)
	require.Equal(t, 1, f.lock.releases())
}

func TestRunnerRun_LoadFailure(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.store.loadErr = errors.New("database gone")

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.ErrorContains(t, err, "load memory")
	require.Equal(t, 1, f.lock.releases())
}

func TestRunnerRun_SaveFailure(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.provider.bySite = map[string][]watch.Item{
		"https://a.example": {{Summary: "x", Link: "https://example.com/a"}},
	}
	f.store.saveErr = errors.New("disk full")

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.ErrorContains(t, err, "save memory")
	// Nothing is announced for a cycle that could not be persisted.
	require.Equal(t, 0, f.notifier.calls())
	require.Empty(t, f.pub.Messages())
	require.Equal(t, 1, f.lock.releases())
}

func TestRunnerRun_CompilerPanicReleasesLock(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.compiler.panicWith = "template exploded"

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.ErrorContains(t, err, "cycle panicked: template exploded")
	require.Equal(t, 1, f.lock.releases())
	require.Equal(t, 0, f.store.saveCount())

	// The lock is free again for the next cycle.
	result, err := f.runnerWithoutPanic().Run(context.Background(), "cycle-next")
	require.NoError(t, err)
	require.Equal(t, "cycle-next", result.CycleID)
}

func TestRunnerRun_NoNewItems(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.compiler.text = "No new publications detected."

	result, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)
	require.Equal(t, 0, result.New)

	// An empty cycle still appends its report entry and notifies.
	saved := f.store.lastSaved()
	require.Len(t, saved.Reports, 1)
	require.Empty(t, saved.Reports[0].NewURLs)
	require.Equal(t, "No new publications detected.", saved.Reports[0].Report)
	require.Equal(t, 1, f.notifier.calls())

	// The enricher has nothing to do.
	require.Equal(t, 0, f.enricher.callCount())
}

func TestRunnerRun_NotifyFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.provider.bySite = map[string][]watch.Item{
		"https://a.example": {{Summary: "x", Link: "https://example.com/a"}},
	}
	f.notifier.err = errors.New("mail api down")

	result, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)
	require.False(t, result.Notified)
	require.Equal(t, 1, f.store.saveCount())

	event := f.pub.Messages()[0].Payload.(watch.CycleEvent)
	require.False(t, event.Notified)
}

func TestRunnerRun_PublishDisabledWithoutTopic(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.cfg.Topic = ""

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)
	require.Empty(t, f.pub.Messages())
}

func TestRunnerRun_NilCollaborators(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example"})
	f.provider.bySite = map[string][]watch.Item{
		"https://a.example": {{Link: "https://example.com/a"}},
	}
	f.enricher = nil
	f.notifier = nil
	f.pub = nil

	result, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)
	require.Equal(t, 1, result.New)
	require.False(t, result.Notified)

	// Without an enricher the empty summary reaches the compiler untouched.
	require.Empty(t, f.compiler.lastItems()[0].Summary)
}

func TestRunnerRun_BoundsSiteConcurrency(t *testing.T) {
	t.Parallel()
	metrics.Init()

	sites := []string{
		"https://one.example", "https://two.example", "https://three.example",
		"https://four.example", "https://five.example", "https://six.example",
	}
	f := newFixture(t, sites)
	f.cfg.SiteWorkers = 2
	f.provider.delay = map[string]time.Duration{}
	for _, site := range sites {
		f.provider.delay[site] = 10 * time.Millisecond
	}

	_, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)
	require.Equal(t, 6, f.provider.discoverCalls())
	require.LessOrEqual(t, f.provider.maxConcurrency(), 2)
}

func TestRunnerRun_SurvivesDiscoveryPanic(t *testing.T) {
	t.Parallel()
	metrics.Init()

	f := newFixture(t, []string{"https://a.example", "https://b.example"})
	f.provider.panicSites = map[string]bool{"https://a.example": true}
	f.provider.bySite = map[string][]watch.Item{
		"https://b.example": {{Summary: "survivor", Link: "https://example.com/b"}},
	}

	result, err := f.runner().Run(context.Background(), "cycle-api")
	require.NoError(t, err)
	require.Equal(t, 1, result.New)
	require.Equal(t, 1, f.lock.releases())
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	mem := watch.NewMemory()
	mem.MarkSeen("https://example.com/seen")

	perSite := [][]watch.Item{
		{
			{Summary: "seen", Link: "https://example.com/seen"},
			{Summary: "kept", Link: "HTTPS://Example.com/fresh#frag"},
			{Summary: "no link", Link: "   "},
		},
		{
			{Summary: "dup of kept", Link: "https://example.com/fresh?utm_medium=mail"},
			{Summary: "odd link", Link: "not-a-url"},
			{Summary: "odd link again", Link: "not-a-url"},
		},
	}

	items, urls, discovered := dedupe(zap.NewNop(), mem, perSite)
	require.Equal(t, 6, discovered)
	require.Len(t, items, 2)
	require.Equal(t, "kept", items[0].Summary)
	require.Equal(t, "odd link", items[1].Summary)
	// URLs align with items: normalized when possible, raw otherwise.
	require.Equal(t, []string{"https://example.com/fresh", "not-a-url"}, urls)
}

// runnerWithoutPanic rebuilds the runner with a working compiler, keeping the
// same lock instance.
func (f *fixture) runnerWithoutPanic() *Runner {
	f.compiler = &fakeCompiler{text: "recovered"}
	return f.runner()
}

// --- fakes ---

type fakeLock struct {
	mu       sync.Mutex
	err      error
	held     bool
	released int
}

func (l *fakeLock) TryAcquire() (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, runlock.ErrHeld
	}
	l.held = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.held = false
			l.released++
		})
	}, nil
}

func (l *fakeLock) releases() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type fakeStore struct {
	mu      sync.Mutex
	mem     *watch.Memory
	loadErr error
	saveErr error
	saves   []*watch.Memory
}

func (s *fakeStore) Load(context.Context) (*watch.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.mem.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, m *watch.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, m.Clone())
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeStore) lastSaved() *watch.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

type fakeProvider struct {
	mu         sync.Mutex
	bySite     map[string][]watch.Item
	delay      map[string]time.Duration
	panicSites map[string]bool
	calls      int
	current    int
	maxSeen    int
	windowDays int
	keywords   []string
}

func (p *fakeProvider) DiscoverSite(_ context.Context, site string, keywords []string, windowDays int) []watch.Item {
	p.mu.Lock()
	p.calls++
	p.current++
	if p.current > p.maxSeen {
		p.maxSeen = p.current
	}
	p.windowDays = windowDays
	p.keywords = append([]string(nil), keywords...)
	d := p.delay[site]
	shouldPanic := p.panicSites[site]
	items := append([]watch.Item(nil), p.bySite[site]...)
	p.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}

	p.mu.Lock()
	p.current--
	p.mu.Unlock()

	if shouldPanic {
		panic("discovery exploded")
	}
	return items
}

func (p *fakeProvider) Search(context.Context, string) (watch.SearchResult, error) {
	return watch.SearchResult{}, errors.New("not implemented")
}

func (p *fakeProvider) DraftReport(context.Context, []watch.Item) (string, error) {
	return "", errors.New("not implemented")
}

func (p *fakeProvider) SummarizeURL(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (p *fakeProvider) SummarizeText(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (p *fakeProvider) discoverCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) maxConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeen
}

func (p *fakeProvider) lastWindowDays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.windowDays
}

func (p *fakeProvider) lastKeywords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keywords
}

type fakeEnricher struct {
	mu      sync.Mutex
	fill    string
	cycleID string
	count   int
}

func (e *fakeEnricher) EnrichItems(_ context.Context, cycleID string, items []watch.Item) []watch.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++
	e.cycleID = cycleID
	out := append([]watch.Item(nil), items...)
	for i := range out {
		if out[i].Summary == "" {
			out[i].Summary = e.fill
		}
	}
	return out
}

func (e *fakeEnricher) lastCycleID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycleID
}

func (e *fakeEnricher) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

type fakeCompiler struct {
	mu        sync.Mutex
	text      string
	panicWith any
	items     []watch.Item
	now       time.Time
}

func (c *fakeCompiler) Compile(_ context.Context, items []watch.Item, now time.Time) string {
	c.mu.Lock()
	c.items = append([]watch.Item(nil), items...)
	c.now = now
	panicWith := c.panicWith
	c.mu.Unlock()
	if panicWith != nil {
		panic(panicWith)
	}
	return c.text
}

func (c *fakeCompiler) lastItems() []watch.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}

func (c *fakeCompiler) lastNow() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	msg   watch.Message
	count int
}

func (n *fakeNotifier) Send(_ context.Context, msg watch.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	n.msg = msg
	return n.err
}

func (n *fakeNotifier) lastMessage() watch.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.msg
}

func (n *fakeNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type fakeIDs struct {
	id  string
	err error
}

func (g *fakeIDs) NewID() (string, error) {
	return g.id, g.err
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time {
	return c.t
}
