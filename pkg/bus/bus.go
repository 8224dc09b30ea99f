// Package bus is the process-wide fan-out point for events. Collaborators
// publish; the webhook dispatcher and the WebSocket gateway subscribe.
//
// Subscribers register once at startup and must only enqueue from OnEvent;
// slow work happens on the subscriber's own goroutines, so Publish never
// blocks on a consumer.
package bus

import (
	"context"
	"sync"

	"github.com/eventgate/eventgate/pkg/events"
	"github.com/eventgate/eventgate/pkg/observability"
)

// Subscriber receives every published event. OnEvent must not block beyond
// enqueueing.
type Subscriber interface {
	OnEvent(ctx context.Context, e *events.Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, e *events.Event)

// OnEvent implements Subscriber.
func (f SubscriberFunc) OnEvent(ctx context.Context, e *events.Event) { f(ctx, e) }

// Bus fans published events out to all registered subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *observability.Logger
	onPublish   func(*events.Event)
}

// New creates a bus. The logger may be nil.
func New(logger *observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Bus{logger: logger.WithField("component", "bus")}
}

// SetPublishHook registers a callback invoked once per accepted event,
// before fan-out. Used for metrics.
func (b *Bus) SetPublishHook(fn func(*events.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Subscribe registers a subscriber. Delivery order follows registration
// order; subscribers are expected to register during startup.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish validates the event and delivers it to every subscriber
// synchronously, in registration order. It returns once all subscribers have
// accepted (not necessarily processed) the event. A single publisher's
// successive calls reach each subscriber in call order.
func (b *Bus) Publish(ctx context.Context, e *events.Event) error {
	if err := e.Validate(); err != nil {
		b.logger.WithError(err).Warn("rejected event at publish boundary")
		return err
	}

	b.mu.RLock()
	subs := b.subscribers
	hook := b.onPublish
	b.mu.RUnlock()

	if hook != nil {
		hook(e)
	}
	for _, s := range subs {
		s.OnEvent(ctx, e)
	}
	return nil
}
