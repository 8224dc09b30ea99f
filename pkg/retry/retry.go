// Package retry implements the backoff policy for webhook delivery attempts:
// exponential delays capped at a maximum, and the retryable/terminal
// classification of HTTP outcomes.
package retry

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Policy configures retry behavior for a subscription.
type Policy struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Normalize fills invalid fields with defaults, preserving the
// max_attempts >= 1 invariant.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.BackoffMultiplier <= 1.0 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

// NextDelay computes the delay before the given attempt number (1-based):
// initial * multiplier^(attempt-1), capped at MaxDelay. Monotonically
// non-decreasing in the attempt number.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Class is the disposition of a delivery attempt outcome.
type Class int

const (
	// Success: 2xx response, the attempt is complete.
	Success Class = iota
	// Retryable: network error, timeout, 5xx, 408 or 429.
	Retryable
	// Terminal: any other 4xx, the attempt is permanently failed.
	Terminal
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// Classify maps an HTTP status code (or transport error) to a Class.
// status == 0 means the request never produced a response (network error,
// timeout) and is retryable.
func Classify(status int, err error) Class {
	if err != nil || status == 0 {
		return Retryable
	}
	switch {
	case status >= 200 && status < 300:
		return Success
	case status >= 500:
		return Retryable
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return Retryable
	default:
		return Terminal
	}
}

// ShouldRetry reports whether another attempt should be scheduled after the
// given attempt number failed with the given class.
func (p Policy) ShouldRetry(attempt int, class Class) bool {
	if class != Retryable {
		return false
	}
	return attempt < p.MaxAttempts
}

// RetryAfter parses a Retry-After response header, either delta-seconds or
// an HTTP date. Returns zero when absent or unparsable.
func RetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// DelayFor computes the effective delay before the given attempt, honoring a
// server-provided Retry-After hint: max(computed, hint).
func (p Policy) DelayFor(attempt int, hint time.Duration) time.Duration {
	d := p.NextDelay(attempt)
	if hint > d {
		return hint
	}
	return d
}
