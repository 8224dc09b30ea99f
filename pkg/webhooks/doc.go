// Package webhooks provides event-driven webhook delivery for platform events.
//
// # Overview
//
// This package manages webhook subscriptions, filtered dispatch, signed HTTP
// delivery with exponential-backoff retries, and delivery monitoring. The
// Dispatcher subscribes to the event bus; every published event is matched
// against each active subscription's event types and filter, and matching
// pairs become delivery attempts drained by a bounded worker pool.
//
// # Usage Example
//
// Register subscription:
//
//	sub := &webhooks.Subscription{
//		URL:        "https://api.example.com/hooks",
//		EventTypes: []string{"chat.completed", "tool.failed"},
//		Secret:     "hook-secret",
//	}
//	dispatcher.Register(sub)
//
// Wire into the bus and start workers:
//
//	b.Subscribe(dispatcher)
//	dispatcher.Start(ctx)
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get("X-EventGate-Signature")
//	if !signature.Verify(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Exponential backoff per subscription, default 1s, 2s, 4s, 8s (max 5
// attempts, capped at 5m). Network errors, 5xx, 408 and 429 retry; any other
// 4xx fails the delivery terminally. 429 responses honor Retry-After.
// Rescheduling is timer-driven through a delay queue, never polled.
//
// # Related Packages
//
//   - pkg/retry: backoff policy and outcome classification
//   - pkg/filter: subscription filter evaluation
//   - pkg/signature: payload signing and verification
package webhooks
