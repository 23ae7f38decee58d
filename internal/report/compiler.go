// Package report compiles monitoring reports from discovered items.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

// NoNewPublications is the report body for a cycle without new items.
const NoNewPublications = "No new publications detected."

const (
	notSpecified = "not specified"
	notAvailable = "not available"
)

// Compiler produces the cycle report: provider draft first, deterministic
// fallback second. Compile is total and never returns an error.
type Compiler struct {
	provider watch.Provider
	logger   *zap.Logger
}

// NewCompiler builds a Compiler. A nil provider skips straight to the
// fallback renderer.
func NewCompiler(provider watch.Provider, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{provider: provider, logger: logger}
}

// Compile renders the report for the cycle's new items.
func (c *Compiler) Compile(ctx context.Context, items []watch.Item, now time.Time) string {
	if len(items) == 0 {
		return NoNewPublications
	}
	if c.provider != nil {
		draft, err := c.provider.DraftReport(ctx, items)
		if err == nil && strings.TrimSpace(draft) != "" {
			return draft
		}
		if err != nil {
			c.logger.Warn("report draft failed, using fallback", zap.Error(err))
		}
	}
	return Fallback(items, now)
}

// Fallback renders the deterministic plain-text report. Every field may be
// empty; placeholders keep the layout stable.
func Fallback(items []watch.Item, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SITE WATCH REPORT - %s\n", now.Format("2006-01-02 15:04"))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	for i, item := range items {
		fmt.Fprintf(&b, "ITEM #%d\n", i+1)
		b.WriteString(strings.Repeat("-", 30))
		b.WriteString("\n")
		fmt.Fprintf(&b, "Source: %s\n", orElse(item.Source, notSpecified))
		fmt.Fprintf(&b, "Date: %s\n", orElse(item.PublicationDate, notSpecified))
		fmt.Fprintf(&b, "Summary: %s\n", orElse(item.Summary, notSpecified))
		fmt.Fprintf(&b, "Impact: %s\n", orElse(item.Impact, notSpecified))
		fmt.Fprintf(&b, "Recommendation: %s\n", orElse(item.Recommendation, notSpecified))
		fmt.Fprintf(&b, "Link: %s\n", orElse(item.Link, notAvailable))
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n\n")
	}

	b.WriteString("GLOBAL SYNTHESIS\n")
	fmt.Fprintf(&b, "%d new publication(s) matched the watch list. Review the items above for details.\n\n", len(items))
	b.WriteString("PRIORITY RECOMMENDATIONS\n")
	b.WriteString("1. Review each publication listed above.\n")
	b.WriteString("2. Assess the impacts on ongoing initiatives.\n")
	b.WriteString("3. Plan follow-up actions for the most critical items.\n")
	return b.String()
}

func orElse(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
