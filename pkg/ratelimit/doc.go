// Package ratelimit provides token-bucket admission control, applied per
// gateway session and per admin API client.
//
// The in-memory Limiter keeps one bucket per key with continuous refill. The
// Redis-backed DistributedLimiter shares limits across instances and fails
// open on Redis errors so a cache outage never takes down admission.
package ratelimit
