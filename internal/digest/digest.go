// Package digest builds a short positive-news digest from the watched topics.
//
// Unlike a watch cycle, the digest is stateless: it does not consult or
// update memory, it just asks the provider for recent positive developments
// and shapes the answer for the API and for mail delivery.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/jsonx"
	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/watch"
)

const (
	defaultArticles = 5
	maxTags         = 3
)

// Article is one digest entry as served by the API and rendered in mail.
type Article struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	MiniArticle string   `json:"mini_article"`
	Image       string   `json:"image"`
	URL         string   `json:"url"`
	Source      string   `json:"source"`
	Tags        []string `json:"tags"`
	Date        string   `json:"date"`
}

// Config captures the digest parameters.
type Config struct {
	// Articles is how many entries to request. Defaults to 5.
	Articles int `mapstructure:"articles" yaml:"articles"`
	// Subject is the mail subject line.
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// Service assembles and delivers digests.
type Service struct {
	cfg      Config
	provider watch.Provider
	notifier watch.Notifier
	logger   *zap.Logger
}

// New builds a digest Service. notifier may be nil when digests are only
// served over the API.
func New(cfg Config, provider watch.Provider, notifier watch.Notifier, logger *zap.Logger) *Service {
	if cfg.Articles <= 0 {
		cfg.Articles = defaultArticles
	}
	if cfg.Subject == "" {
		cfg.Subject = "Site watch digest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		notifier: notifier,
		logger:   logger,
	}
}

// Build asks the provider for the day's most noteworthy positive news on the
// given keywords. The provider's answer is parsed leniently and entries
// without a URL are dropped, so the result may be shorter than configured.
func (s *Service) Build(ctx context.Context, keywords []string) ([]Article, error) {
	result, err := s.provider.Search(ctx, digestPrompt(s.cfg.Articles, keywords))
	if err != nil {
		metrics.ObserveSearch("digest", "error")
		return nil, fmt.Errorf("digest search: %w", err)
	}
	articles, err := parseArticles(result.Text)
	if err != nil {
		metrics.ObserveSearch("digest", "unparsable")
		s.logger.Warn("digest answer is not parsable",
			zap.Int("answer_chars", len(result.Text)),
			zap.Error(err))
		return nil, fmt.Errorf("parse digest: %w", err)
	}

	kept := articles[:0]
	for _, a := range articles {
		if strings.TrimSpace(a.URL) == "" {
			continue
		}
		if len(a.Tags) > maxTags {
			a.Tags = a.Tags[:maxTags]
		}
		kept = append(kept, a)
	}
	metrics.ObserveSearch("digest", "ok")
	s.logger.Info("digest assembled",
		zap.Int("requested", s.cfg.Articles),
		zap.Int("articles", len(kept)))
	return kept, nil
}

// Send renders the articles as HTML mail. It is a no-op without a notifier
// and returns an error only when delivery itself fails.
func (s *Service) Send(ctx context.Context, articles []Article) error {
	if s.notifier == nil || len(articles) == 0 {
		return nil
	}
	msg := watch.Message{
		Subject: s.cfg.Subject,
		Body:    renderHTML(articles),
		HTML:    true,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		metrics.ObserveNotify("error")
		return fmt.Errorf("send digest: %w", err)
	}
	metrics.ObserveNotify("ok")
	return nil
}

// digestPrompt asks for a strict JSON array so the answer survives parsing.
func digestPrompt(n int, keywords []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compile today's positive-news digest for a reader tracking these topics: %s.\n", strings.Join(keywords, ", "))
	fmt.Fprintf(&b, "Select the %d most encouraging developments published in the last 24 hours.\n", n)
	b.WriteString("Answer STRICTLY as a JSON array where each element has exactly these keys: ")
	b.WriteString(`"title", "summary", "mini_article", "image", "url", "source", "tags", "date".` + "\n")
	b.WriteString(`"summary" is at most two sentences, "mini_article" is a standalone paragraph of 80-120 words, `)
	b.WriteString(`"tags" is an array of exactly 3 short lowercase tags, and "date" is YYYY-MM-DD.` + "\n")
	b.WriteString("Use an empty string for unknown fields. If nothing qualifies, answer [].")
	return b.String()
}

// parseArticles first trusts the provider to have answered with bare JSON,
// then falls back to digging the array out of surrounding prose.
func parseArticles(text string) ([]Article, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	var articles []Article
	if err := json.Unmarshal([]byte(trimmed), &articles); err == nil {
		return articles, nil
	}
	return jsonx.As[[]Article](trimmed)
}
