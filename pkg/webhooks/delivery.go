package webhooks

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus represents the status of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog records the progress of one event's delivery to one
// subscription across all its attempts.
type DeliveryLog struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	URL            string         `json:"url"`
	Status         DeliveryStatus `json:"status"`
	StatusCode     int            `json:"status_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Attempts       int            `json:"attempts"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Duration       time.Duration  `json:"duration,omitempty"`
}

func (l *DeliveryLog) clone() *DeliveryLog {
	c := *l
	if l.NextRetryAt != nil {
		t := *l.NextRetryAt
		c.NextRetryAt = &t
	}
	if l.CompletedAt != nil {
		t := *l.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// DeliveryLogStore keeps a bounded in-memory window of delivery logs. It is
// a diagnostic aid, not a durable audit trail; durability is a deployment
// concern layered on top via the outcome notifications.
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]*DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a store retaining at most maxLogs entries.
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add inserts a new log, evicting the oldest entries when full.
func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[log.ID] = log.clone()
}

// Get retrieves a delivery log by ID.
func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, exists := s.logs[id]
	if !exists {
		return nil, false
	}
	return log.clone(), true
}

// Retrying records a failed attempt that will be retried at next.
func (s *DeliveryLogStore) Retrying(id string, attempt, statusCode int, errMsg string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, exists := s.logs[id]
	if !exists {
		return
	}
	log.Status = DeliveryStatusRetrying
	log.Attempts = attempt
	log.StatusCode = statusCode
	log.ErrorMessage = errMsg
	log.NextRetryAt = &next
}

// Resolve marks a delivery terminally succeeded or failed.
func (s *DeliveryLogStore) Resolve(id string, status DeliveryStatus, statusCode int, errMsg string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, exists := s.logs[id]
	if !exists {
		return
	}
	log.Status = status
	log.Attempts++
	log.StatusCode = statusCode
	log.ErrorMessage = errMsg
	log.Duration = duration
	log.NextRetryAt = nil
	now := time.Now()
	log.CompletedAt = &now
}

// GetBySubscription retrieves delivery logs for a subscription, newest
// first, truncated to limit when positive.
func (s *DeliveryLogStore) GetBySubscription(subscriptionID string, limit int) []*DeliveryLog {
	s.mu.RLock()
	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.SubscriptionID == subscriptionID {
			result = append(result, log.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetByEvent retrieves delivery logs for an event across all subscriptions.
func (s *DeliveryLogStore) GetByEvent(eventID string) []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.EventID == eventID {
			result = append(result, log.clone())
		}
	}
	return result
}

// PruneCompleted removes resolved logs older than maxAge. Returns the
// number of entries removed.
func (s *DeliveryLogStore) PruneCompleted(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, log := range s.logs {
		if log.CompletedAt != nil && log.CompletedAt.Before(cutoff) {
			delete(s.logs, id)
			removed++
		}
	}
	return removed
}

// evictOldest removes the oldest 10% of logs. Caller holds the lock.
func (s *DeliveryLogStore) evictOldest() {
	logs := make([]*DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})

	evictCount := len(logs) / 10
	if evictCount == 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(logs); i++ {
		delete(s.logs, logs[i].ID)
	}
}

// DeliveryStats aggregates delivery outcomes for a subscription.
type DeliveryStats struct {
	SubscriptionID  string        `json:"subscription_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}

// GetStats returns delivery statistics for a subscription.
func (s *DeliveryLogStore) GetStats(subscriptionID string) DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := DeliveryStats{SubscriptionID: subscriptionID}
	for _, log := range s.logs {
		if log.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
		if log.CompletedAt != nil {
			stats.TotalDuration += log.Duration
		}
	}

	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}
