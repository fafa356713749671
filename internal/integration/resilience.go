package integration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  time.Minute,
		Multiplier:      2.0,
	}
}

// CircuitBreakerRegistry manages per-service circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	settings models.CircuitBreakerConfig
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a registry whose breakers trip after
// cfg.ConsecutiveFailures failures and stay open for cfg.OpenTimeout.
func NewCircuitBreakerRegistry(cfg models.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerRegistry {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CircuitBreakerRegistry{
		settings: cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for service, creating it on first use.
func (r *CircuitBreakerRegistry) Get(service string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	threshold := r.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "service", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation and client errors say nothing about the
			// service's health.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var perm *backoff.PermanentError
			return errors.As(err, &perm)
		},
	})

	r.breakers[service] = cb
	return cb
}

// doWithRetry runs op through the breaker with exponential backoff. op
// marks non-retryable failures with backoff.Permanent; the permanent
// wrapper is removed from the returned error.
func doWithRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, cfg models.RetryConfig, op func() error) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := cb.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
