package retry

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayExponential(t *testing.T) {
	p := Policy{
		MaxAttempts:       10,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 1*time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 8*time.Second, p.NextDelay(4))
	assert.Equal(t, 16*time.Second, p.NextDelay(5))
	assert.Equal(t, 30*time.Second, p.NextDelay(6)) // capped
	assert.Equal(t, 30*time.Second, p.NextDelay(7))
}

func TestNextDelayMonotone(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		cur := p.NextDelay(attempt)
		next := p.NextDelay(attempt + 1)
		assert.LessOrEqual(t, cur, next, "attempt %d", attempt)
		assert.LessOrEqual(t, next, p.MaxDelay)
	}
}

func TestNormalize(t *testing.T) {
	p := Policy{}.Normalize()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 1*time.Second, p.InitialDelay)
	assert.Equal(t, 5*time.Minute, p.MaxDelay)
	assert.Equal(t, 2.0, p.BackoffMultiplier)

	// Valid fields survive.
	q := Policy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 1.5}.Normalize()
	assert.Equal(t, 3, q.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, q.InitialDelay)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   Class
	}{
		{"network error", 0, errors.New("connection refused"), Retryable},
		{"no response", 0, nil, Retryable},
		{"200", 200, nil, Success},
		{"204", 204, nil, Success},
		{"500", 500, nil, Retryable},
		{"503", 503, nil, Retryable},
		{"408", 408, nil, Retryable},
		{"429", 429, nil, Retryable},
		{"400", 400, nil, Terminal},
		{"404", 404, nil, Terminal},
		{"410", 410, nil, Terminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, tt.err))
		})
	}
}

func TestShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}.Normalize()

	assert.True(t, p.ShouldRetry(1, Retryable))
	assert.True(t, p.ShouldRetry(2, Retryable))
	assert.False(t, p.ShouldRetry(3, Retryable)) // attempts exhausted
	assert.False(t, p.ShouldRetry(1, Terminal))
	assert.False(t, p.ShouldRetry(1, Success))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), RetryAfter(h))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, RetryAfter(h))

	h.Set("Retry-After", "-5")
	assert.Equal(t, time.Duration(0), RetryAfter(h))

	h.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))
	got := RetryAfter(h)
	assert.Greater(t, got, 5*time.Second)
	assert.LessOrEqual(t, got, 10*time.Second)

	h.Set("Retry-After", "garbage")
	assert.Equal(t, time.Duration(0), RetryAfter(h))
}

func TestDelayForHonorsHint(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2, MaxAttempts: 5}

	// Hint larger than computed wins.
	assert.Equal(t, 45*time.Second, p.DelayFor(1, 45*time.Second))
	// Computed larger than hint wins.
	assert.Equal(t, 4*time.Second, p.DelayFor(3, time.Second))
	// No hint.
	assert.Equal(t, 2*time.Second, p.DelayFor(2, 0))
}
