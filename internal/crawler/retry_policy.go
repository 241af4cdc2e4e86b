package crawler

import (
	"time"
)

// Retry defaults applied to crawl jobs.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 5 * time.Second
)

// ExponentialRetryPolicy decides whether a failed job attempt is retried and how
// long to wait before the next one.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy; non-positive values take the defaults.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBackoffBase
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// MaxAttempts is the total number of attempts, including the first.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt follows attempt (1-based).
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if !IsRetryable(err) {
		return false
	}
	return attempt < p.maxAttempts
}

// Backoff returns the wait before the attempt following attempt (1-based):
// base, 2*base, 4*base, ...
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return p.baseDelay * time.Duration(1<<shift)
}
