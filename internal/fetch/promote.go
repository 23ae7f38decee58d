package fetch

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

// Promoter flags plain HTTP responses that look like client-rendered
// shells, so the pipeline can refetch them through a real browser.
type Promoter struct {
	BodyLengthThreshold int
}

// NewPromoter creates a new promoter.
func NewPromoter(threshold int) *Promoter {
	if threshold == 0 {
		threshold = 2048
	}
	return &Promoter{BodyLengthThreshold: threshold}
}

// shellSelectors match the mount points frameworks hydrate client side.
var shellSelectors = []string{
	"#__next",
	"#root",
	"#app",
	"[data-reactroot]",
}

// ShouldRender decides whether a headless refetch is warranted.
func (p *Promoter) ShouldRender(page *watch.Page) bool {
	return p.renderReason(page) != ""
}

// renderReason names the first signal that warrants a headless refetch.
// An empty reason means the plain response is good enough.
func (p *Promoter) renderReason(page *watch.Page) string {
	if page == nil || page.StatusCode != 200 {
		return ""
	}
	if strings.TrimSpace(page.Body) == "" {
		return "empty body"
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err != nil {
		return "unparseable markup"
	}

	if len(page.Body) < p.BodyLengthThreshold && scriptHeavy(doc, len(page.Body)) {
		return "script-heavy shell"
	}
	for _, sel := range shellSelectors {
		if doc.Find(sel).Length() > 0 {
			return "framework mount " + sel
		}
	}
	return ""
}

// scriptHeavy reports whether script tags occupy at least a quarter of
// the payload. Thin pages that are mostly script are shells waiting for
// hydration.
func scriptHeavy(doc *goquery.Document, totalBytes int) bool {
	if totalBytes == 0 {
		return false
	}
	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if markup, err := goquery.OuterHtml(s); err == nil {
			scriptBytes += len(markup)
		}
	})
	return scriptBytes > 0 && scriptBytes*4 >= totalBytes
}

// RenderingClient wraps a primary fetcher and refetches through a headless
// renderer when the promoter flags the plain response. Renderer failures
// fall back to the plain page.
type RenderingClient struct {
	primary  watch.Fetcher
	renderer watch.Fetcher
	promoter *Promoter
	logger   *zap.Logger
}

// NewRenderingClient wires a primary fetcher to an optional renderer.
func NewRenderingClient(primary, renderer watch.Fetcher, promoter *Promoter, logger *zap.Logger) *RenderingClient {
	if promoter == nil {
		promoter = NewPromoter(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderingClient{
		primary:  primary,
		renderer: renderer,
		promoter: promoter,
		logger:   logger,
	}
}

// Fetch retrieves the page, promoting to the renderer when needed.
func (c *RenderingClient) Fetch(ctx context.Context, rawURL string) (*watch.Page, error) {
	page, err := c.primary.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if c.renderer == nil {
		return page, nil
	}

	reason := c.promoter.renderReason(page)
	if reason == "" {
		return page, nil
	}
	c.logger.Debug("promoting fetch to headless renderer",
		zap.String("url", rawURL),
		zap.String("reason", reason),
	)

	rendered, err := c.renderer.Fetch(ctx, rawURL)
	if err != nil {
		c.logger.Warn("headless refetch failed, keeping plain page",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return page, nil
	}
	return rendered, nil
}
