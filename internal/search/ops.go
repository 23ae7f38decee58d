package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/jsonx"
	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/watch"
)

// DiscoverSite asks the provider for recent publications on one site.
// Failures and unparsable answers degrade to an empty slice: one site must
// never break a cycle.
func (c *Client) DiscoverSite(ctx context.Context, site string, keywords []string, windowDays int) []watch.Item {
	result, err := c.Search(ctx, discoveryPrompt(site, keywords, windowDays))
	if err != nil || result.Empty() {
		metrics.ObserveSearch("discover", "empty")
		c.logger.Warn("discovery produced no answer", zap.String("site", site), zap.Error(err))
		return nil
	}

	items, err := parseItems(result.Text)
	if err != nil {
		metrics.ObserveSearch("discover", "unparsable")
		c.logger.Warn("discovery answer not parsable",
			zap.String("site", site),
			zap.Int("answer_chars", len(result.Text)),
			zap.Error(err),
		)
		return nil
	}

	kept := items[:0]
	for _, item := range items {
		if item.Link == "" {
			continue
		}
		if item.Source == "" {
			item.Source = site
		}
		kept = append(kept, item)
	}
	metrics.ObserveSearch("discover", "ok")
	return kept
}

// parseItems tries the strict decode first, then recovers the array from a
// fenced or prose-wrapped answer.
func parseItems(answer string) ([]watch.Item, error) {
	var items []watch.Item
	if err := json.Unmarshal([]byte(answer), &items); err == nil {
		return items, nil
	}
	items, err := jsonx.As[[]watch.Item](answer)
	if err != nil {
		return nil, fmt.Errorf("recover items: %w", err)
	}
	return items, nil
}

// DraftReport asks the provider to write the monitoring report. Errors are
// surfaced so the compiler can fall back to the deterministic renderer.
func (c *Client) DraftReport(ctx context.Context, items []watch.Item) (string, error) {
	if len(items) == 0 {
		return "", errors.New("no items to report")
	}
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	result, err := c.Search(ctx, reportPrompt(string(payload)))
	if err != nil {
		metrics.ObserveSearch("report", "error")
		return "", err
	}
	if result.Empty() {
		metrics.ObserveSearch("report", "empty")
		return "", errors.New("provider returned an empty report")
	}
	metrics.ObserveSearch("report", "ok")
	return result.Text, nil
}

// SummarizeURL asks the provider for a summary anchored on the URL alone.
func (c *Client) SummarizeURL(ctx context.Context, url string) (string, error) {
	result, err := c.Search(ctx, summarizeURLPrompt(url))
	if err != nil {
		metrics.ObserveSearch("summarize", "error")
		return "", err
	}
	metrics.ObserveSearch("summarize", "ok")
	return result.Text, nil
}

// SummarizeText asks the provider to summarize scraped page content.
func (c *Client) SummarizeText(ctx context.Context, url, text string) (string, error) {
	result, err := c.Search(ctx, summarizeTextPrompt(url, text))
	if err != nil {
		metrics.ObserveSearch("summarize", "error")
		return "", err
	}
	metrics.ObserveSearch("summarize", "ok")
	return result.Text, nil
}
