package webhooks

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eventgate/eventgate/pkg/filter"
	"github.com/eventgate/eventgate/pkg/retry"
)

// EventTypeAll subscribes to every event type.
const EventTypeAll = "*"

// Subscription represents a registered webhook endpoint.
type Subscription struct {
	ID          string       `json:"id" yaml:"id"`
	URL         string       `json:"url" yaml:"url"`
	Secret      string       `json:"secret,omitempty" yaml:"secret,omitempty"`
	EventTypes  []string     `json:"event_types" yaml:"event_types"`
	Filter      filter.Spec  `json:"filter" yaml:"filter"`
	Retry       retry.Policy `json:"retry" yaml:"retry"`
	Active      bool         `json:"active" yaml:"active"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"-"`
}

// Validate checks the subscription fields at admission time.
func (s *Subscription) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("subscription URL is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("subscription URL must be a valid http(s) URL")
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	if err := s.Filter.Validate(); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	return nil
}

// wantsType reports whether the subscription covers the given event type,
// either explicitly or via the wildcard.
func (s *Subscription) wantsType(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == EventTypeAll || t == eventType {
			return true
		}
	}
	return false
}

func (s *Subscription) clone() *Subscription {
	c := *s
	c.EventTypes = append([]string(nil), s.EventTypes...)
	return &c
}

// Register admits a new subscription. The ID is assigned here; the retry
// policy is normalized so max_attempts >= 1 always holds.
func (d *Dispatcher) Register(sub *Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	sub.ID = uuid.New().String()
	sub.Retry = sub.Retry.Normalize()
	sub.Active = true
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	d.mu.Lock()
	d.subs[sub.ID] = sub.clone()
	n := len(d.subs)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SubscriptionsActive.Set(float64(n))
	}
	d.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"url":             sub.URL,
		"event_types":     sub.EventTypes,
	}).Info("webhook subscription registered")
	return nil
}

// Unregister removes a subscription. Pending delivery attempts for it are
// dropped when they next surface, not completed.
func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	if _, exists := d.subs[id]; !exists {
		d.mu.Unlock()
		return fmt.Errorf("subscription not found")
	}
	delete(d.subs, id)
	n := len(d.subs)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SubscriptionsActive.Set(float64(n))
	}
	d.logger.WithField("subscription_id", id).Info("webhook subscription removed")
	return nil
}

// Update applies non-zero fields of updates to an existing subscription.
// Attempts already in flight keep the snapshot taken at enqueue time.
func (d *Dispatcher) Update(id string, updates *Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub, exists := d.subs[id]
	if !exists {
		return fmt.Errorf("subscription not found")
	}

	next := sub.clone()
	if updates.URL != "" {
		next.URL = updates.URL
	}
	if len(updates.EventTypes) > 0 {
		next.EventTypes = append([]string(nil), updates.EventTypes...)
	}
	if updates.Secret != "" {
		next.Secret = updates.Secret
	}
	if updates.Retry != (retry.Policy{}) {
		next.Retry = updates.Retry.Normalize()
	}
	if !updates.Filter.IsZero() {
		next.Filter = updates.Filter
	}
	if updates.Description != "" {
		next.Description = updates.Description
	}
	next.UpdatedAt = time.Now()

	if err := next.Validate(); err != nil {
		return err
	}
	d.subs[id] = next
	return nil
}

// Get retrieves a subscription by ID.
func (d *Dispatcher) Get(id string) (*Subscription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, exists := d.subs[id]
	if !exists {
		return nil, fmt.Errorf("subscription not found")
	}
	return sub.clone(), nil
}

// List returns all subscriptions ordered by creation time.
func (d *Dispatcher) List() []*Subscription {
	d.mu.RLock()
	subs := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub.clone())
	}
	d.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	return subs
}

// Activate re-enables delivery for a subscription.
func (d *Dispatcher) Activate(id string) error {
	return d.setActive(id, true)
}

// Deactivate suspends delivery for a subscription without removing it.
func (d *Dispatcher) Deactivate(id string) error {
	return d.setActive(id, false)
}

func (d *Dispatcher) setActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, exists := d.subs[id]
	if !exists {
		return fmt.Errorf("subscription not found")
	}
	next := sub.clone()
	next.Active = active
	next.UpdatedAt = time.Now()
	d.subs[id] = next
	return nil
}
