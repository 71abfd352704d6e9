package clients

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter paces outgoing requests to respect external API rate limits.
type RateLimiter interface {
	// Allow reports whether a request may proceed immediately
	Allow() bool
	// Wait blocks until a request may proceed or the context is cancelled
	Wait(ctx context.Context) error
	// Limit returns the configured rate in requests per second
	Limit() float64
	// SetLimit updates the rate
	SetLimit(limit float64)
}

// NewRateLimiter creates a token bucket rate limiter with the specified rate
// (requests per second) and burst size.
func NewRateLimiter(rate float64, burst int) RateLimiter {
	return NewTokenBucketRateLimiter(rate, burst)
}

// TokenBucketRateLimiter implements RateLimiter with a token bucket.
type TokenBucketRateLimiter struct {
	mu     sync.Mutex
	rate   float64 // tokens added per second
	burst  float64 // bucket capacity
	tokens float64
	last   time.Time
}

// NewTokenBucketRateLimiter creates a token bucket limiter. A burst of at
// least 1 is enforced so a zero burst cannot deadlock Wait.
func NewTokenBucketRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// refill adds tokens accrued since the last call. Caller must hold mu.
func (l *TokenBucketRateLimiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}

// Allow reports whether a request may proceed immediately
func (l *TokenBucketRateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is cancelled
func (l *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.refill(now)
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		// Time until the next whole token accrues
		deficit := 1 - l.tokens
		wait := time.Duration(deficit / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Limit returns the configured rate in requests per second
func (l *TokenBucketRateLimiter) Limit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// SetLimit updates the rate
func (l *TokenBucketRateLimiter) SetLimit(limit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = limit
}
