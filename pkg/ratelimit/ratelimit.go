package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config defines token bucket parameters.
type Config struct {
	// Rate is the sustained refill rate in tokens per second.
	Rate float64
	// Burst is the bucket capacity: how many tokens may be consumed at once.
	Burst int
}

// DefaultConfig returns default rate limit settings.
func DefaultConfig() Config {
	return Config{Rate: 10, Burst: 20}
}

// Limiter implements per-key token bucket rate limiting.
type Limiter struct {
	config  Config
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	if config.Rate <= 0 {
		config.Rate = DefaultConfig().Rate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultConfig().Burst
	}
	return &Limiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token for the key if available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the number of whole tokens currently available.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.refill(key).tokens)
}

// RetryAfter returns how long until one token becomes available. Zero means
// a request would be allowed now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / l.config.Rate * float64(time.Second))
}

// refill must be called with the lock held.
func (l *Limiter) refill(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.config.Burst), lastUpdate: now}
		l.buckets[key] = b
		return b
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.config.Rate
		if b.tokens > float64(l.config.Burst) {
			b.tokens = float64(l.config.Burst)
		}
		b.lastUpdate = now
	}
	return b
}

// Forget drops the bucket for a key so limiter state does not outlive the
// keyed resource (a session, a client address).
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Cleanup removes buckets that have been idle long enough to be full again.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	idle := time.Duration(float64(l.config.Burst)/l.config.Rate*float64(time.Second)) * 2
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > idle {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup starts a background goroutine to cleanup idle buckets.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
