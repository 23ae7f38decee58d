// Package search talks to a web-search-capable model provider.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/watch"
)

// systemInstruction is sent with every prompt.
const systemInstruction = "You are a monitoring assistant. Answer concisely in the language of the prompt and include inline citations."

// Location approximates where searches originate from.
type Location struct {
	Country string
	City    string
	Region  string
}

// Config controls the provider client.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	ContextSize     string
	Location        Location
	MaxAttempts     int
	InitialDelay    time.Duration
	RequestTimeout  time.Duration
	MaxOutputTokens int64
}

// Client implements watch.Provider on the OpenAI chat completions API with
// web search enabled. The SDK's own retries are disabled; the budget here is
// the only one.
type Client struct {
	api    openai.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client, substituting defaults for zero config values. An
// empty APIKey falls through to the SDK's OPENAI_API_KEY lookup.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-search-preview"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	return &Client{
		api:    openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Search sends one prompt, retrying provider failures with exponential
// delays. After the budget is exhausted it returns the empty result and the
// last error; pipeline operations absorb that into empty values.
func (c *Client) Search(ctx context.Context, prompt string) (watch.SearchResult, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ObserveSearchRetry()
			delay := c.cfg.InitialDelay * time.Duration(1<<(attempt-1))
			if err := sleepContext(ctx, delay); err != nil {
				return watch.SearchResult{}, err
			}
		}
		result, err := c.ask(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.logger.Warn("search attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return watch.SearchResult{}, fmt.Errorf("search exhausted after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

func (c *Client) ask(ctx context.Context, prompt string) (watch.SearchResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(prompt),
		},
		WebSearchOptions: c.webSearchOptions(),
	}
	if c.cfg.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.cfg.MaxOutputTokens)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return watch.SearchResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return watch.SearchResult{}, errors.New("response contained no choices")
	}

	msg := resp.Choices[0].Message
	result := watch.SearchResult{Text: strings.TrimSpace(msg.Content)}
	for _, ann := range msg.Annotations {
		cit := ann.URLCitation
		if cit.URL == "" {
			continue
		}
		result.Citations = append(result.Citations, watch.Citation{
			URL:        cit.URL,
			Title:      cit.Title,
			StartIndex: int(cit.StartIndex),
			EndIndex:   int(cit.EndIndex),
		})
	}
	return result, nil
}

func (c *Client) webSearchOptions() openai.ChatCompletionNewParamsWebSearchOptions {
	opts := openai.ChatCompletionNewParamsWebSearchOptions{}
	switch strings.ToLower(c.cfg.ContextSize) {
	case "low":
		opts.SearchContextSize = "low"
	case "high":
		opts.SearchContextSize = "high"
	default:
		opts.SearchContextSize = "medium"
	}

	loc := c.cfg.Location
	if loc.Country == "" && loc.City == "" && loc.Region == "" {
		return opts
	}
	approx := openai.ChatCompletionNewParamsWebSearchOptionsUserLocationApproximate{}
	if loc.Country != "" {
		approx.Country = openai.String(loc.Country)
	}
	if loc.City != "" {
		approx.City = openai.String(loc.City)
	}
	if loc.Region != "" {
		approx.Region = openai.String(loc.Region)
	}
	opts.UserLocation = openai.ChatCompletionNewParamsWebSearchOptionsUserLocation{
		Approximate: approx,
	}
	return opts
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
