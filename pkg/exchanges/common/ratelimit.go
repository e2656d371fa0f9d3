package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// Weight-usage thresholds, as a fraction of the venue's window budget.
const (
	weightWarnAt  = 0.80
	weightDelayAt = 0.90
	weightAlarmAt = 0.95
)

// RateLimiter mirrors the venue's own weight accounting. The venue reports
// used weight in response headers; we track it to warn and to back off before
// the ban threshold, not to enforce a budget of our own.
type RateLimiter struct {
	mu       sync.Mutex
	used     int
	budget   int
	window   time.Duration
	windowAt time.Time
}

// NewRateLimiter tracks usage against budget per window (for spot trading,
// 1200 weight per minute).
func NewRateLimiter(budget int, window time.Duration) *RateLimiter {
	return &RateLimiter{budget: budget, window: window, windowAt: time.Now()}
}

// UpdateFromHeader ingests the used-weight header from a venue response.
// Empty or non-numeric values are ignored.
func (rl *RateLimiter) UpdateFromHeader(value string) {
	used, err := strconv.Atoi(value)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rollWindow()
	rl.used = used

	frac := float64(used) / float64(rl.budget)
	switch {
	case frac >= weightAlarmAt:
		log.Printf("rate limit critical: %d/%d (%.0f%%), approaching ban threshold", used, rl.budget, frac*100)
	case frac >= weightWarnAt:
		log.Printf("rate limit warning: %d/%d (%.0f%%)", used, rl.budget, frac*100)
	}
}

// Usage returns the weight used in the current window and the window budget.
func (rl *RateLimiter) Usage() (used, budget int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rollWindow()
	return rl.used, rl.budget
}

// ShouldDelay reports whether the next request ought to wait for the window
// to roll over.
func (rl *RateLimiter) ShouldDelay() bool {
	used, budget := rl.Usage()
	return float64(used) >= float64(budget)*weightDelayAt
}

// rollWindow zeroes the counter once the venue's window has elapsed.
// Callers hold rl.mu.
func (rl *RateLimiter) rollWindow() {
	if time.Since(rl.windowAt) >= rl.window {
		rl.used = 0
		rl.windowAt = time.Now()
	}
}
