package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Middleware provides HTTP rate limiting for the admin surface, keyed by
// client address.
type Middleware struct {
	limiter *Limiter
}

// NewMiddleware creates HTTP rate limiting middleware.
func NewMiddleware(config Config) *Middleware {
	return &Middleware{limiter: NewLimiter(config)}
}

// StartCleanup evicts idle per-client buckets in the background so the
// limiter does not grow with every address ever seen.
func (m *Middleware) StartCleanup(ctx context.Context, interval time.Duration) {
	m.limiter.StartCleanup(ctx, interval)
}

// Handler wraps an HTTP handler with rate limiting.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)

		if !m.limiter.Allow(key) {
			m.rateLimitExceeded(w, key)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.limiter.config.Burst))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", m.limiter.Remaining(key)))
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, key string) {
	retryAfter := m.limiter.RetryAfter(key)
	seconds := int(retryAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.limiter.config.Burst))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, seconds)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
