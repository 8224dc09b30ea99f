package webhooks

import (
	"fmt"
	"testing"
	"time"
)

func newLog(id, subID, eventID string, createdAt time.Time) *DeliveryLog {
	return &DeliveryLog{
		ID:             id,
		SubscriptionID: subID,
		EventID:        eventID,
		EventType:      "chat.completed",
		URL:            "https://example.com/hook",
		Status:         DeliveryStatusPending,
		CreatedAt:      createdAt,
	}
}

func TestDeliveryLogStore_AddAndGet(t *testing.T) {
	store := NewDeliveryLogStore(10)

	log := newLog("d1", "s1", "e1", time.Now())
	store.Add(log)

	got, exists := store.Get("d1")
	if !exists {
		t.Fatal("Expected log to exist")
	}
	if got.SubscriptionID != "s1" || got.EventID != "e1" {
		t.Errorf("Unexpected log: %+v", got)
	}

	// The store hands out copies, mutations must not leak back.
	got.Status = DeliveryStatusSuccess
	again, _ := store.Get("d1")
	if again.Status != DeliveryStatusPending {
		t.Error("Expected stored log to be unaffected by caller mutation")
	}

	if _, exists := store.Get("missing"); exists {
		t.Error("Expected missing log to not exist")
	}
}

func TestDeliveryLogStore_RetryingAndResolve(t *testing.T) {
	store := NewDeliveryLogStore(10)
	store.Add(newLog("d1", "s1", "e1", time.Now()))

	next := time.Now().Add(time.Second)
	store.Retrying("d1", 1, 503, "endpoint returned status 503", next)

	got, _ := store.Get("d1")
	if got.Status != DeliveryStatusRetrying {
		t.Errorf("Expected retrying status, got %s", got.Status)
	}
	if got.Attempts != 1 || got.StatusCode != 503 {
		t.Errorf("Unexpected log: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Errorf("Expected next retry at %v, got %v", next, got.NextRetryAt)
	}

	store.Resolve("d1", DeliveryStatusSuccess, 200, "", 42*time.Millisecond)

	got, _ = store.Get("d1")
	if got.Status != DeliveryStatusSuccess {
		t.Errorf("Expected success status, got %s", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", got.Attempts)
	}
	if got.NextRetryAt != nil {
		t.Error("Expected next retry to be cleared")
	}
	if got.CompletedAt == nil {
		t.Error("Expected completion time to be set")
	}
}

func TestDeliveryLogStore_GetBySubscription(t *testing.T) {
	store := NewDeliveryLogStore(100)

	base := time.Now()
	for i := 0; i < 5; i++ {
		store.Add(newLog(fmt.Sprintf("d%d", i), "s1", fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second)))
	}
	store.Add(newLog("other", "s2", "e9", base))

	logs := store.GetBySubscription("s1", 0)
	if len(logs) != 5 {
		t.Fatalf("Expected 5 logs, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].CreatedAt.After(logs[i-1].CreatedAt) {
			t.Error("Expected logs ordered newest first")
			break
		}
	}

	limited := store.GetBySubscription("s1", 2)
	if len(limited) != 2 {
		t.Errorf("Expected limit of 2, got %d", len(limited))
	}
	if limited[0].ID != "d4" {
		t.Errorf("Expected newest log first, got %s", limited[0].ID)
	}
}

func TestDeliveryLogStore_Eviction(t *testing.T) {
	store := NewDeliveryLogStore(10)

	base := time.Now()
	for i := 0; i < 11; i++ {
		store.Add(newLog(fmt.Sprintf("d%d", i), "s1", fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	// The oldest entry gives way to the newest.
	if _, exists := store.Get("d0"); exists {
		t.Error("Expected oldest log to be evicted")
	}
	if _, exists := store.Get("d10"); !exists {
		t.Error("Expected newest log to be retained")
	}
}

func TestDeliveryLogStore_PruneCompleted(t *testing.T) {
	store := NewDeliveryLogStore(100)

	store.Add(newLog("old", "s1", "e1", time.Now().Add(-2*time.Hour)))
	store.Resolve("old", DeliveryStatusSuccess, 200, "", time.Millisecond)
	// Backdate the completion past the prune horizon.
	store.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	store.logs["old"].CompletedAt = &past
	store.mu.Unlock()

	store.Add(newLog("fresh", "s1", "e2", time.Now()))
	store.Resolve("fresh", DeliveryStatusSuccess, 200, "", time.Millisecond)

	store.Add(newLog("pending", "s1", "e3", time.Now().Add(-2*time.Hour)))

	removed := store.PruneCompleted(time.Hour)
	if removed != 1 {
		t.Errorf("Expected 1 pruned log, got %d", removed)
	}
	if _, exists := store.Get("old"); exists {
		t.Error("Expected old completed log to be pruned")
	}
	if _, exists := store.Get("fresh"); !exists {
		t.Error("Expected fresh log to survive")
	}
	if _, exists := store.Get("pending"); !exists {
		t.Error("Expected unresolved log to survive regardless of age")
	}
}

func TestDeliveryLogStore_GetStats(t *testing.T) {
	store := NewDeliveryLogStore(100)

	store.Add(newLog("d1", "s1", "e1", time.Now()))
	store.Resolve("d1", DeliveryStatusSuccess, 200, "", 10*time.Millisecond)

	store.Add(newLog("d2", "s1", "e2", time.Now()))
	store.Resolve("d2", DeliveryStatusSuccess, 200, "", 30*time.Millisecond)

	store.Add(newLog("d3", "s1", "e3", time.Now()))
	store.Resolve("d3", DeliveryStatusFailed, 404, "endpoint returned status 404", 5*time.Millisecond)

	store.Add(newLog("d4", "s1", "e4", time.Now()))
	store.Retrying("d4", 1, 503, "endpoint returned status 503", time.Now().Add(time.Second))

	stats := store.GetStats("s1")
	if stats.Total != 4 {
		t.Errorf("Expected 4 total, got %d", stats.Total)
	}
	if stats.Successful != 2 || stats.Failed != 1 || stats.Retrying != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("Expected 0.5 success rate, got %f", stats.SuccessRate)
	}
	if stats.AverageDuration != 22500*time.Microsecond {
		t.Errorf("Unexpected average duration: %v", stats.AverageDuration)
	}

	empty := store.GetStats("s2")
	if empty.Total != 0 || empty.SuccessRate != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}
