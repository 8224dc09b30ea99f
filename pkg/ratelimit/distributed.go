package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedLimiter implements rate limiting using Redis so limits are
// shared across multiple gateway instances.
type DistributedLimiter struct {
	redis  *redis.Client
	config Config
	prefix string
	window time.Duration
}

// NewDistributedLimiter creates a new Redis-backed rate limiter.
func NewDistributedLimiter(redisClient *redis.Client, config Config, prefix string) *DistributedLimiter {
	if config.Rate <= 0 {
		config.Rate = DefaultConfig().Rate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultConfig().Burst
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		window: time.Second,
	}
}

// Allow checks if a request is allowed using a Redis-backed counter window.
// On Redis errors it fails open (allows the request) to prevent a cache
// outage from blocking all traffic; the error is returned for logging.
func (l *DistributedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	limit := int64(l.config.Rate*l.window.Seconds()) + int64(l.config.Burst)
	return incr.Val() <= limit, nil
}

// Reset clears the counter for a key.
func (l *DistributedLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// DistributedMiddleware provides HTTP rate limiting backed by a
// DistributedLimiter, keyed by client address.
type DistributedMiddleware struct {
	limiter *DistributedLimiter
	onError func(error)
}

// NewDistributedMiddleware creates Redis-backed HTTP rate limiting
// middleware. onError receives Redis failures (the request is allowed
// through); it may be nil.
func NewDistributedMiddleware(limiter *DistributedLimiter, onError func(error)) *DistributedMiddleware {
	return &DistributedMiddleware{limiter: limiter, onError: onError}
}

// Handler wraps an HTTP handler with distributed rate limiting.
func (m *DistributedMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)

		allowed, err := m.limiter.Allow(r.Context(), key)
		if err != nil && m.onError != nil {
			m.onError(err)
		}
		if !allowed {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.limiter.config.Burst))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limit exceeded","retry_after":1}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}
