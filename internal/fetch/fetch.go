// Package fetch retrieves single pages over HTTP with bounded retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/watch"
)

// Config controls fetch behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxBodyBytes  int
}

// Client implements watch.Fetcher using the Colly collector. Responses are
// charset-decoded to UTF-8 before they leave this package.
type Client struct {
	cfg           Config
	policy        *RetryPolicy
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []colly.CollectorOption{
		colly.DetectCharset(),
	}
	if !cfg.RespectRobots {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(newHTTPTransport())
	base.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:           cfg,
		policy:        NewRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		baseCollector: base,
		logger:        logger,
	}
}

// Fetch retrieves a page, retrying throttled and transient upstream failures
// up to the configured budget.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*watch.Page, error) {
	var lastErr error
	for retries := 0; ; retries++ {
		page, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetch("ok")
			return page, nil
		}
		lastErr = err
		if !c.policy.ShouldRetry(err, retries) {
			break
		}
		c.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", retries+1),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry()
		if err := sleepContext(ctx, c.policy.Backoff(retries)); err != nil {
			metrics.ObserveFetch("canceled")
			return nil, err
		}
	}
	metrics.ObserveFetch("error")
	return nil, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (*watch.Page, error) {
	collector := c.baseCollector.Clone()

	var (
		page       *watch.Page
		status     int
		handlerErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		body := r.Body
		if c.cfg.MaxBodyBytes > 0 && len(body) > c.cfg.MaxBodyBytes {
			body = body[:c.cfg.MaxBodyBytes]
		}
		page = &watch.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       string(body),
			FetchedAt:  time.Now().UTC(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		handlerErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if status >= 300 {
			return nil, &StatusError{Code: status}
		}
		if visitErr != nil {
			return nil, fmt.Errorf("visit failed: %w", visitErr)
		}
		if handlerErr != nil {
			return nil, fmt.Errorf("response failed: %w", handlerErr)
		}
	}
	if page == nil {
		return nil, errors.New("fetch produced no response")
	}
	return page, nil
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

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
