// Package ratelimit spaces out scraper runs per news source with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
)

// Limiter holds one token bucket per source key.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]Rate
}

// Rate is a token bucket definition. A non-positive PerMinute disables limiting.
type Rate struct {
	PerMinute float64 `mapstructure:"per_minute"`
	Burst     int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	Default Rate `mapstructure:"default"`
	// Sources overrides Default for individual source keys.
	Sources map[string]Rate `mapstructure:"sources"`
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	overrides := make(map[string]Rate, len(cfg.Sources))
	for key, r := range cfg.Sources {
		overrides[strings.ToLower(key)] = r
	}
	r, burst := toLimit(cfg.Default)
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		overrides:    overrides,
	}
}

func toLimit(r Rate) (rate.Limit, int) {
	limit := rate.Inf
	if r.PerMinute > 0 {
		limit = rate.Limit(r.PerMinute / 60)
	}
	burst := r.Burst
	if burst <= 0 {
		burst = 1
	}
	return limit, burst
}

func (l *Limiter) bucket(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[source]
	if !ok {
		r, burst := l.defaultRate, l.defaultBurst
		if override, found := l.overrides[source]; found {
			r, burst = toLimit(override)
		}
		limiter = rate.NewLimiter(r, burst)
		l.limiters[source] = limiter
	}
	return limiter
}

// Wait blocks until source may run another scrape or ctx ends.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	if l == nil {
		return nil
	}
	source = strings.ToLower(source)
	start := time.Now()
	if err := l.bucket(source).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", source, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(source, waited)
	}
	return nil
}
