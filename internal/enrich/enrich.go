// Package enrich fills gaps in discovered items after the search pass.
//
// Discovery sometimes returns items whose Summary is empty, usually because
// the model answered from a citation it did not expand. The enricher asks the
// provider to summarize the linked page directly; when that fails it fetches
// the page itself, archives a snapshot, and summarizes the extracted text.
package enrich

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/extract"
	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/watch"
)

// NoSummary is the placeholder used when every summarization path failed.
const NoSummary = "No summary available."

// Config captures the enricher parameters.
type Config struct {
	// SnapshotPrefix is prepended to archived snapshot object paths.
	SnapshotPrefix string `mapstructure:"snapshot_prefix" yaml:"snapshot_prefix"`
}

// Enricher completes item summaries and archives fetched pages.
type Enricher struct {
	cfg      Config
	provider watch.Provider
	fetcher  watch.Fetcher
	blobs    watch.BlobStore
	hasher   watch.Hasher
	logger   *zap.Logger
}

// New builds an Enricher. blobs may be nil, in which case no snapshots are
// written.
func New(cfg Config, provider watch.Provider, fetcher watch.Fetcher, blobs watch.BlobStore, hasher watch.Hasher, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		cfg:      cfg,
		provider: provider,
		fetcher:  fetcher,
		blobs:    blobs,
		hasher:   hasher,
		logger:   logger,
	}
}

// EnrichItems returns a copy of items with every empty Summary filled in.
// Input order is preserved and failures degrade to the NoSummary placeholder,
// so the result always has the same length as the input.
func (e *Enricher) EnrichItems(ctx context.Context, cycleID string, items []watch.Item) []watch.Item {
	if len(items) == 0 {
		return items
	}
	out := make([]watch.Item, len(items))
	copy(out, items)
	for i := range out {
		if strings.TrimSpace(out[i].Summary) != "" {
			continue
		}
		out[i].Summary = e.summarize(ctx, cycleID, out[i].Link)
	}
	return out
}

// summarize tries the provider first and falls back to fetching the page.
func (e *Enricher) summarize(ctx context.Context, cycleID, rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return NoSummary
	}

	summary, err := e.provider.SummarizeURL(ctx, rawURL)
	if err == nil && strings.TrimSpace(summary) != "" {
		return strings.TrimSpace(summary)
	}
	if err != nil {
		e.logger.Debug("url summarization failed, fetching page",
			zap.String("url", rawURL),
			zap.Error(err))
	}

	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		e.logger.Warn("summary fallback fetch failed",
			zap.String("url", rawURL),
			zap.Error(err))
		return NoSummary
	}
	e.archive(ctx, cycleID, page)

	_, body := extract.Extract(page.Body)
	if body == "" {
		return NoSummary
	}
	summary, err = e.provider.SummarizeText(ctx, rawURL, body)
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			e.logger.Warn("text summarization failed",
				zap.String("url", rawURL),
				zap.Error(err))
		}
		return NoSummary
	}
	return strings.TrimSpace(summary)
}

// archive writes the fetched page to the blob store keyed by content hash,
// so refetching an unchanged page never duplicates storage.
func (e *Enricher) archive(ctx context.Context, cycleID string, page *watch.Page) {
	if e.blobs == nil || page == nil || page.Body == "" {
		return
	}
	sum, err := e.hasher.Hash([]byte(page.Body))
	if err != nil {
		e.logger.Warn("snapshot hash failed", zap.String("url", page.URL), zap.Error(err))
		metrics.ObserveSnapshot("error")
		return
	}
	objectPath := path.Join(e.cfg.SnapshotPrefix, cycleID, sum+".html")
	uri, err := e.blobs.PutObject(ctx, objectPath, "text/html; charset=utf-8", []byte(page.Body))
	if err != nil {
		e.logger.Warn("snapshot write failed",
			zap.String("url", page.URL),
			zap.String("path", objectPath),
			zap.Error(err))
		metrics.ObserveSnapshot("error")
		return
	}
	metrics.ObserveSnapshot("ok")
	e.logger.Debug("snapshot archived",
		zap.String("url", page.URL),
		zap.String("uri", uri))
}
