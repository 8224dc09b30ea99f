package webhooks

import (
	"io"
	"testing"
	"time"

	"github.com/eventgate/eventgate/pkg/events"
	"github.com/eventgate/eventgate/pkg/filter"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/retry"
)

func testDispatcher() *Dispatcher {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewDispatcher(DefaultConfig(), logger)
}

func TestDispatcher_Register(t *testing.T) {
	d := testDispatcher()

	sub := &Subscription{
		URL:        "https://example.com/hook",
		EventTypes: []string{"chat.completed", "tool.failed"},
	}

	err := d.Register(sub)
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	if sub.ID == "" {
		t.Error("Expected subscription ID to be set")
	}
	if !sub.Active {
		t.Error("Expected subscription to be active")
	}
	if sub.Retry.MaxAttempts < 1 {
		t.Errorf("Expected normalized retry policy, got max_attempts=%d", sub.Retry.MaxAttempts)
	}
}

func TestDispatcher_Register_Validation(t *testing.T) {
	d := testDispatcher()

	t.Run("empty URL", func(t *testing.T) {
		sub := &Subscription{
			EventTypes: []string{"chat.completed"},
		}
		if err := d.Register(sub); err == nil {
			t.Error("Expected error for empty URL")
		}
	})

	t.Run("non-http URL", func(t *testing.T) {
		sub := &Subscription{
			URL:        "ftp://example.com/hook",
			EventTypes: []string{"chat.completed"},
		}
		if err := d.Register(sub); err == nil {
			t.Error("Expected error for non-http URL")
		}
	})

	t.Run("no event types", func(t *testing.T) {
		sub := &Subscription{
			URL: "https://example.com/hook",
		}
		if err := d.Register(sub); err == nil {
			t.Error("Expected error for no event types")
		}
	})

	t.Run("invalid filter regex", func(t *testing.T) {
		sub := &Subscription{
			URL:        "https://example.com/hook",
			EventTypes: []string{"chat.completed"},
			Filter: filter.Spec{
				Clauses: []filter.Clause{
					{Field: "source", Op: filter.OpRegex, Value: "("},
				},
			},
		}
		if err := d.Register(sub); err == nil {
			t.Error("Expected error for invalid regex clause")
		}
	})
}

func TestDispatcher_Unregister(t *testing.T) {
	d := testDispatcher()

	sub := &Subscription{
		URL:        "https://example.com/hook",
		EventTypes: []string{"chat.completed"},
	}
	d.Register(sub)

	if err := d.Unregister(sub.ID); err != nil {
		t.Fatalf("Failed to unregister subscription: %v", err)
	}

	if _, err := d.Get(sub.ID); err == nil {
		t.Error("Expected error getting removed subscription")
	}

	if err := d.Unregister(sub.ID); err == nil {
		t.Error("Expected error unregistering twice")
	}
}

func TestDispatcher_Update(t *testing.T) {
	d := testDispatcher()

	sub := &Subscription{
		URL:        "https://example.com/hook",
		EventTypes: []string{"chat.completed"},
	}
	d.Register(sub)

	updates := &Subscription{
		URL:    "https://example.com/new-hook",
		Secret: "s3cret",
		Retry:  retry.Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2},
	}
	if err := d.Update(sub.ID, updates); err != nil {
		t.Fatalf("Failed to update subscription: %v", err)
	}

	updated, _ := d.Get(sub.ID)
	if updated.URL != "https://example.com/new-hook" {
		t.Errorf("Expected URL to be updated, got %s", updated.URL)
	}
	if updated.Secret != "s3cret" {
		t.Error("Expected secret to be updated")
	}
	if updated.Retry.MaxAttempts != 3 {
		t.Errorf("Expected retry policy to be updated, got max_attempts=%d", updated.Retry.MaxAttempts)
	}
	if len(updated.EventTypes) != 1 || updated.EventTypes[0] != "chat.completed" {
		t.Errorf("Expected event types to be unchanged, got %v", updated.EventTypes)
	}

	if err := d.Update("missing", updates); err == nil {
		t.Error("Expected error updating unknown subscription")
	}
}

func TestDispatcher_ActivateDeactivate(t *testing.T) {
	d := testDispatcher()

	sub := &Subscription{
		URL:        "https://example.com/hook",
		EventTypes: []string{"chat.completed"},
	}
	d.Register(sub)

	if err := d.Deactivate(sub.ID); err != nil {
		t.Fatalf("Failed to deactivate subscription: %v", err)
	}
	got, _ := d.Get(sub.ID)
	if got.Active {
		t.Error("Expected subscription to be inactive")
	}

	if err := d.Activate(sub.ID); err != nil {
		t.Fatalf("Failed to activate subscription: %v", err)
	}
	got, _ = d.Get(sub.ID)
	if !got.Active {
		t.Error("Expected subscription to be active")
	}
}

func TestDispatcher_List(t *testing.T) {
	d := testDispatcher()

	if got := d.List(); len(got) != 0 {
		t.Fatalf("Expected 0 subscriptions initially, got %d", len(got))
	}

	for i := 0; i < 3; i++ {
		sub := &Subscription{
			URL:        "https://example.com/hook",
			EventTypes: []string{"chat.completed"},
		}
		if err := d.Register(sub); err != nil {
			t.Fatalf("Failed to register subscription: %v", err)
		}
	}

	if got := d.List(); len(got) != 3 {
		t.Errorf("Expected 3 subscriptions, got %d", len(got))
	}
}

func TestSubscription_WantsType(t *testing.T) {
	sub := &Subscription{EventTypes: []string{"chat.completed", "tool.failed"}}

	if !sub.wantsType("chat.completed") {
		t.Error("Expected chat.completed to match")
	}
	if sub.wantsType("memory.updated") {
		t.Error("Expected memory.updated not to match")
	}

	wildcard := &Subscription{EventTypes: []string{EventTypeAll}}
	if !wildcard.wantsType("anything.at.all") {
		t.Error("Expected wildcard to match any type")
	}
}

func TestDispatcher_UpdateDoesNotAffectSnapshot(t *testing.T) {
	d := testDispatcher()

	sub := &Subscription{
		URL:        "https://example.com/hook",
		Secret:     "old-secret",
		EventTypes: []string{"chat.completed"},
	}
	d.Register(sub)

	// Simulate the snapshot a worker takes at enqueue time.
	snapshot, _ := d.Get(sub.ID)

	d.Update(sub.ID, &Subscription{Secret: "new-secret"})

	if snapshot.Secret != "old-secret" {
		t.Error("Expected snapshot to keep the secret taken at enqueue time")
	}
	current, _ := d.Get(sub.ID)
	if current.Secret != "new-secret" {
		t.Error("Expected stored subscription to carry the new secret")
	}
}

// sanity check that a wildcard subscription still honors its filter
func TestDispatcher_MatchRespectsFilter(t *testing.T) {
	d := testDispatcher()

	sub := &Subscription{
		URL:        "https://example.com/hook",
		EventTypes: []string{EventTypeAll},
		Filter:     filter.Spec{MinSeverity: events.SeverityWarning},
	}
	if err := d.Register(sub); err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	info := events.New("chat.completed", map[string]interface{}{"severity": "info"})
	warning := events.New("chat.completed", map[string]interface{}{"severity": "warning"})

	stored, _ := d.Get(sub.ID)
	if filter.Matches(&stored.Filter, info) {
		t.Error("Expected info event to be filtered out")
	}
	if !filter.Matches(&stored.Filter, warning) {
		t.Error("Expected warning event to pass the filter")
	}
}
