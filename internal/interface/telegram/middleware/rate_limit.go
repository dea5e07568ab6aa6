package middleware

import (
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-chat token bucket in front of the onboarding handlers.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the refill rate per chat.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// IdleTTL - buckets untouched for this long are dropped by Sweep.
	IdleTTL time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		IdleTTL:           10 * time.Minute,
		Now:               time.Now,
	}
}

// RateLimitMessage formats the reply for a limited chat.
func RateLimitMessage(retryAfter time.Duration) string {
	seconds := max(int(retryAfter.Round(time.Second).Seconds()), 1)
	return fmt.Sprintf("⏳ Слишком много запросов!\nПодожди %d сек. и попробуй снова.", seconds)
}

// RateLimiter implements per-chat rate limiting using the token bucket algorithm.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets map[int64]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter. A zero RequestsPerMinute disables limiting.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.BurstSize <= 0 {
		config.BurstSize = def.BurstSize
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	return &RateLimiter{config: config, buckets: make(map[int64]*tokenBucket)}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Check consumes one token for chatID.
func (rl *RateLimiter) Check(chatID int64) RateLimitResult {
	if rl == nil || rl.config.RequestsPerMinute <= 0 {
		return RateLimitResult{Allowed: true}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Now()
	capacity := float64(rl.config.BurstSize)
	rate := float64(rl.config.RequestsPerMinute) / 60.0 // tokens per second

	b, ok := rl.buckets[chatID]
	if !ok {
		b = &tokenBucket{tokens: capacity, lastRefill: now}
		rl.buckets[chatID] = b
	}

	b.tokens = min(capacity, b.tokens+now.Sub(b.lastRefill).Seconds()*rate)
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return RateLimitResult{Allowed: true}
	}

	deficit := 1.0 - b.tokens
	return RateLimitResult{RetryAfter: time.Duration(deficit / rate * float64(time.Second))}
}

// Sweep drops buckets idle for longer than IdleTTL.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Now()
	removed := 0
	for id, b := range rl.buckets {
		if now.Sub(b.lastRefill) > rl.config.IdleTTL {
			delete(rl.buckets, id)
			removed++
		}
	}
	return removed
}

// Reset resets the rate limit state for a chat.
func (rl *RateLimiter) Reset(chatID int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, chatID)
}
