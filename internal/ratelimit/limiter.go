// Package ratelimit provides token bucket rate limiting for turns and
// per-user tool call budgets.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a bucket allowing limit requests per window, with a
// burst of the full limit.
func NewBucket(limit int, window time.Duration) *Bucket {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Bucket{
		tokens:     float64(limit),
		maxTokens:  float64(limit),
		refillRate: float64(limit) / window.Seconds(),
		lastRefill: time.Now(),
	}
}

// Allow checks if a request should be allowed and consumes a token if so.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter gates requests per key. It is the collaborator contract the loop
// and sandbox consume: Allow(key, limit, window) -> bool.
type Limiter interface {
	Allow(key string, limit int, window time.Duration) bool
}

// KeyedLimiter maintains one token bucket per key. Buckets are created
// lazily on first use and share the limit/window passed by the caller, so a
// single limiter instance can serve both turn-level and per-tool budgets
// under distinct key prefixes.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewKeyedLimiter creates an empty keyed limiter.
func NewKeyedLimiter() *KeyedLimiter {
	return &KeyedLimiter{buckets: make(map[string]*Bucket)}
}

// Allow reports whether one more request under key fits within limit
// requests per window, consuming a token if so.
func (l *KeyedLimiter) Allow(key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = NewBucket(limit, window)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

// Reset drops the bucket for key, restoring its full budget.
func (l *KeyedLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
