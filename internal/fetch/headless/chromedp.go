// Package headless renders pages with headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veilletech/sitewatch/internal/watch"
)

// ErrDisabled indicates rendering has been disabled via configuration.
var ErrDisabled = errors.New("headless renderer disabled")

// Config controls the renderer.
type Config struct {
	MaxConcurrency int
	NavTimeout     time.Duration
	DomainQPS      float64
	UserAgent      string
}

// Renderer implements watch.Fetcher with one shared browser process. Every
// fetch opens a fresh tab, bounded by a slot channel and a per-domain rate
// gate.
type Renderer struct {
	stopAllocator context.CancelFunc
	stopBrowser   context.CancelFunc
	browser       context.Context
	logger        *zap.Logger
	slots         chan struct{}
	navTimeout    time.Duration
	gate          *domainGate
	userAgent     string
}

// New launches the shared browser. A non-positive concurrency reports
// ErrDisabled so callers can fall back to plain fetching.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrDisabled
	}
	if cfg.NavTimeout == 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, stopAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, stopBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browser); err != nil {
		stopBrowser()
		stopAlloc()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Renderer{
		stopAllocator: stopAlloc,
		stopBrowser:   stopBrowser,
		browser:       browser,
		logger:        logger,
		slots:         make(chan struct{}, cfg.MaxConcurrency),
		navTimeout:    cfg.NavTimeout,
		gate:          newDomainGate(cfg.DomainQPS),
		userAgent:     cfg.UserAgent,
	}, nil
}

// Close shuts the browser down. Safe on a nil receiver.
func (r *Renderer) Close() error {
	if r == nil {
		return nil
	}
	r.stopBrowser()
	r.stopAllocator()
	return nil
}

// Fetch renders the page with JavaScript enabled and returns the settled DOM.
func (r *Renderer) Fetch(ctx context.Context, rawURL string) (*watch.Page, error) {
	if r == nil {
		return nil, ErrDisabled
	}

	release, err := r.takeSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := r.gate.wait(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("render rate limit: %w", err)
	}

	tab, closeTab := chromedp.NewContext(r.browser)
	defer closeTab()
	nav, cancelNav := context.WithTimeout(tab, r.navTimeout)
	defer cancelNav()
	unlink := linkCancel(ctx, cancelNav)
	defer unlink()

	doc := &docResult{}
	chromedp.ListenTarget(tab, doc.observe)

	var html string
	tasks := chromedp.Tasks{network.Enable()}
	if r.userAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(r.userAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(nav, tasks); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	r.logger.Debug("rendered page",
		zap.String("url", rawURL),
		zap.Int("status", doc.status(200)),
		zap.Int("bytes", len(html)),
	)

	return &watch.Page{
		URL:          doc.location(rawURL),
		StatusCode:   doc.status(200),
		Body:         html,
		FetchedAt:    time.Now().UTC(),
		UsedHeadless: true,
	}, nil
}

// takeSlot reserves one of the bounded tab slots.
func (r *Renderer) takeSlot(ctx context.Context) (func(), error) {
	if r.slots == nil {
		return func() {}, nil
	}
	select {
	case r.slots <- struct{}{}:
		return func() { <-r.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

// linkCancel propagates a parent cancellation into cancel until the returned
// stop function runs. A parent cancellation pending at stop time is dropped.
func linkCancel(parent context.Context, cancel context.CancelFunc) (stop func()) {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			select {
			case <-done:
				// Stop won the race.
			default:
				cancel()
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

// docResult retains the first document response a tab sees; subresource
// traffic never overwrites it.
type docResult struct {
	once sync.Once
	code int
	url  string
}

func (d *docResult) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument {
		return
	}
	d.once.Do(func() {
		d.code = int(resp.Response.Status)
		d.url = resp.Response.URL
	})
}

func (d *docResult) status(fallback int) int {
	if d.code == 0 {
		return fallback
	}
	return d.code
}

func (d *docResult) location(requested string) string {
	if d.url == "" {
		return requested
	}
	return d.url
}

// domainGate holds one token-bucket limiter per hostname.
type domainGate struct {
	qps      float64
	limiters sync.Map
}

// newDomainGate returns nil when qps is not positive; a nil gate admits
// everything.
func newDomainGate(qps float64) *domainGate {
	if qps <= 0 {
		return nil
	}
	return &domainGate{qps: qps}
}

func (g *domainGate) wait(ctx context.Context, rawURL string) error {
	if g == nil {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := g.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(g.qps), 1))
	if err := val.(*rate.Limiter).Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}
