// Package resilience wraps outbound collaborator calls with bounded retry,
// exponential backoff, and a per-collaborator circuit breaker. Instances are
// injectable, never process-wide, so tests can assert on breaker state.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned without attempting the call while the breaker
// is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerConfig tunes one collaborator's breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	ResetAfter       time.Duration // open duration before a probe is allowed
}

// DefaultBreakerConfig returns the standard collaborator settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetAfter:       30 * time.Second,
	}
}

// Breaker is a minimal closed/open breaker with a half-open probe after
// ResetAfter.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = DefaultBreakerConfig().ResetAfter
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.cfg.FailureThreshold {
		return true
	}
	// Open: allow a probe once the reset window has elapsed.
	return b.now().Sub(b.openedAt) >= b.cfg.ResetAfter
}

// Success resets the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records one failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.cfg.FailureThreshold {
		b.openedAt = b.now()
	}
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RetryConfig bounds the retry loop around one call.
type RetryConfig struct {
	Attempts    int           // total attempts including the first
	BaseBackoff time.Duration // doubled after each failure
}

// DefaultRetryConfig returns the standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseBackoff: 200 * time.Millisecond}
}

// Do runs fn through the breaker with bounded retries and exponential
// backoff. retryable decides per-error whether another attempt is worthwhile;
// a nil retryable retries every error.
func Do(ctx context.Context, b *Breaker, cfg RetryConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if b != nil && !b.Allow() {
		return ErrBreakerOpen
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetryConfig().Attempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultRetryConfig().BaseBackoff
	}

	var err error
	backoff := cfg.BaseBackoff
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err = fn(ctx)
		if err == nil {
			if b != nil {
				b.Success()
			}
			return nil
		}
		if retryable != nil && !retryable(err) {
			break
		}
	}

	if b != nil {
		b.Failure()
	}
	return err
}
