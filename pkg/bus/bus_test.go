package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventgate/eventgate/pkg/events"
)

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b := New(nil)

	err := b.Publish(context.Background(), &events.Event{Type: "chat.message"})
	assert.ErrorIs(t, err, events.ErrInvalidEvent)

	err = b.Publish(context.Background(), &events.Event{ID: "evt-1"})
	assert.ErrorIs(t, err, events.ErrInvalidEvent)
}

func TestPublishFansOutInRegistrationOrder(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Subscribe(SubscriberFunc(func(_ context.Context, _ *events.Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}))
	}

	err := b.Publish(context.Background(), events.New("chat.message", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublishPreservesCallOrderPerSubscriber(t *testing.T) {
	b := New(nil)

	var received []string
	b.Subscribe(SubscriberFunc(func(_ context.Context, e *events.Event) {
		received = append(received, e.ID)
	}))

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Publish(context.Background(), &events.Event{ID: id, Type: "t"}))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, received)
}

func TestPublishHook(t *testing.T) {
	b := New(nil)

	var hooked int
	b.SetPublishHook(func(*events.Event) { hooked++ })

	require.NoError(t, b.Publish(context.Background(), events.New("t", nil)))
	require.Error(t, b.Publish(context.Background(), &events.Event{}))
	assert.Equal(t, 1, hooked, "hook fires only for accepted events")
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Publish(context.Background(), events.New("t", nil)))
}

func TestConcurrentPublishers(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	seen := make(map[string]int)
	b.Subscribe(SubscriberFunc(func(_ context.Context, e *events.Event) {
		mu.Lock()
		seen[e.ID]++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = b.Publish(context.Background(), events.New("t", nil))
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 200)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %s delivered %d times", id, n)
	}
}
