// Package events defines the immutable Event type that flows through the
// distribution layer, its severity ladder, and the canonical wire payload
// used for signing and outbound delivery.
package events
