package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/valter-silva-au/tmsync/pkg/models"
	"golang.org/x/time/rate"
)

// defaultBucket applies to services with no configured limit.
var defaultBucket = models.RateLimitConfig{RequestsPerSecond: 5, Burst: 10}

// RateLimiter holds one token bucket per external service. Buckets refill
// continuously by elapsed time up to their burst capacity.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[string]models.RateLimitConfig
	fallback models.RateLimitConfig
	buckets  map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter from per-service settings. Buckets are
// created lazily on first use.
func NewRateLimiter(limits map[string]models.RateLimitConfig) *RateLimiter {
	cp := make(map[string]models.RateLimitConfig, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &RateLimiter{
		limits:   cp,
		fallback: defaultBucket,
		buckets:  make(map[string]*rate.Limiter),
	}
}

// Wait blocks until service has a token available or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context, service string) error {
	if err := l.bucket(service).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", service, err)
	}
	return nil
}

// allow takes a token without waiting and reports whether one was available.
func (l *RateLimiter) allow(service string) bool {
	return l.bucket(service).Allow()
}

// Tokens returns the tokens currently available to service.
func (l *RateLimiter) Tokens(service string) float64 {
	return l.bucket(service).Tokens()
}

// Services returns the configured service names in sorted order.
func (l *RateLimiter) Services() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.limits))
	for name := range l.limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *RateLimiter) bucket(service string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[service]; ok {
		return b
	}
	cfg, ok := l.limits[service]
	if !ok {
		cfg = l.fallback
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	b := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	l.buckets[service] = b
	return b
}
