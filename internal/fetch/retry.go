package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/gocolly/colly/v2"
)

// StatusError reports a non-2xx response that terminated a fetch attempt.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// retryableStatuses are transient server-side conditions worth another try.
var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// RetryPolicy implements jittered exponential backoff with status-aware
// classification: throttling and upstream 5xx failures retry, every other
// HTTP status is terminal.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy, substituting defaults for zero values.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// MaxRetries returns the retry budget after the initial attempt.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry decides whether the error is retryable.
func (p *RetryPolicy) ShouldRetry(err error, retriesUsed int) bool {
	if err == nil {
		return false
	}
	if retriesUsed >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// A robots.txt block never clears on retry.
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatuses[statusErr.Code]
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
