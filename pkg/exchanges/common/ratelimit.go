package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces REST requests against a venue weight budget and tracks
// the venue-reported usage from response headers.
type RateLimiter struct {
	limiter *rate.Limiter

	mu         sync.RWMutex
	usedWeight int
	limit      int
	lastReset  time.Time
	window     time.Duration
}

// NewRateLimiter builds a limiter for a weight budget per window
// (e.g. 2400/min for Binance USDM futures, 1200/min for Hyperliquid).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	perSecond := float64(limit) / window.Seconds()
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(perSecond), limit/10+1),
		limit:     limit,
		window:    window,
		lastReset: time.Now(),
	}
}

// Wait blocks until the pacer admits n units of weight.
func (rl *RateLimiter) Wait(ctx context.Context, weight int) error {
	return rl.limiter.WaitN(ctx, weight)
}

// UpdateFromHeader folds the venue-reported used weight back in.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastReset) >= rl.window {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("⚠️ rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", rl.usedWeight, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("⚠️ rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	}
}

// Usage returns the venue-reported usage for the current window.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.window {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay reports whether the caller should hold non-urgent requests.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
