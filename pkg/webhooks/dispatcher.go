package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventgate/eventgate/pkg/events"
	"github.com/eventgate/eventgate/pkg/filter"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/retry"
	"github.com/eventgate/eventgate/pkg/signature"
)

// Outcome classifies a resolved delivery for notification consumers.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeExhausted      Outcome = "exhausted"
	OutcomeDropped        Outcome = "dropped"
)

// Notification reports the resolution of a delivery attempt. Emitted for
// every attempt so metrics consumers see retries as well as final states.
type Notification struct {
	SubscriptionID string
	EventID        string
	EventType      string
	Outcome        Outcome
	Attempt        int
	StatusCode     int
	Error          string
	Duration       time.Duration
}

// NotifyFunc receives delivery outcome notifications. Called from worker
// goroutines; implementations must be safe for concurrent use.
type NotifyFunc func(Notification)

// DeliveryAttempt is one pending or in-flight delivery of an event to a
// subscription. The url, secret and policy are snapshots taken at enqueue
// time so a concurrent subscription update never alters an attempt already
// in flight.
type DeliveryAttempt struct {
	SubscriptionID string
	EventID        string
	Attempt        int
	ScheduledAt    time.Time
	LastError      string

	url       string
	secret    string
	policy    retry.Policy
	eventType string
	timestamp int64
	payload   []byte
	logID     string
}

// Config bounds the dispatcher's concurrency and queue depths.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	MaxLogs   int
	UserAgent string
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 256,
		Timeout:   10 * time.Second,
		MaxLogs:   1000,
		UserAgent: "eventgate/1.0",
	}
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxLogs <= 0 {
		c.MaxLogs = 1000
	}
	if c.UserAgent == "" {
		c.UserAgent = "eventgate/1.0"
	}
	return c
}

// Dispatcher owns webhook subscriptions and drives delivery: it matches
// published events against subscriptions, enqueues attempts to a bounded
// worker pool and reschedules retryable failures through a delay queue.
// It implements bus.Subscriber.
type Dispatcher struct {
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	client  *http.Client

	mu   sync.RWMutex
	subs map[string]*Subscription

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	queue     chan *DeliveryAttempt
	scheduler *scheduler
	store     *DeliveryLogStore
	notify    NotifyFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a dispatcher. Call Start before publishing events
// through it.
func NewDispatcher(cfg Config, logger *observability.Logger) *Dispatcher {
	cfg = cfg.normalize()
	return &Dispatcher{
		cfg:       cfg,
		logger:    logger.WithField("component", "webhook_dispatcher"),
		client:    &http.Client{Timeout: cfg.Timeout},
		subs:      make(map[string]*Subscription),
		inflight:  make(map[string]struct{}),
		queue:     make(chan *DeliveryAttempt, cfg.QueueSize),
		scheduler: newScheduler(),
		store:     NewDeliveryLogStore(cfg.MaxLogs),
	}
}

// SetNotifyFunc installs the delivery outcome observer. Must be called
// before Start.
func (d *Dispatcher) SetNotifyFunc(fn NotifyFunc) {
	d.notify = fn
}

// SetMetrics attaches Prometheus instrumentation. Must be called before
// Start.
func (d *Dispatcher) SetMetrics(m *observability.Metrics) {
	d.metrics = m
}

// SetHTTPClient overrides the delivery HTTP client. Must be called before
// Start.
func (d *Dispatcher) SetHTTPClient(c *http.Client) {
	d.client = c
}

// Logs returns the in-memory delivery log store.
func (d *Dispatcher) Logs() *DeliveryLogStore {
	return d.store
}

// Start launches the worker pool and the retry scheduling loop. The
// dispatcher stops when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.ctx, d.cancel = context.WithCancel(ctx)
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.scheduler.run(d.ctx, d.resubmit)
		}()
		d.logger.WithField("workers", d.cfg.Workers).Info("webhook dispatcher started")
	})
}

// Stop cancels all workers and waits for them to exit. Attempts still
// queued or scheduled are abandoned.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		d.logger.Info("webhook dispatcher stopped")
	})
}

// OnEvent matches the event against every active subscription and enqueues
// first attempts for the matches. It never blocks the publisher: when the
// delivery queue is full the attempt is dropped and reported, not queued
// unboundedly.
func (d *Dispatcher) OnEvent(ctx context.Context, e *events.Event) {
	payload, err := events.CanonicalPayload(e)
	if err != nil {
		d.logger.WithError(err).WithField("event_id", e.ID).Error("failed to encode event payload")
		return
	}

	d.mu.RLock()
	matched := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if !sub.Active || !sub.wantsType(e.Type) {
			continue
		}
		if !filter.Matches(&sub.Filter, e) {
			continue
		}
		matched = append(matched, sub)
	}
	d.mu.RUnlock()

	for _, sub := range matched {
		d.enqueueFirst(sub, e, payload)
	}
}

func pairKey(subscriptionID, eventID string) string {
	return subscriptionID + "\x00" + eventID
}

// acquire claims the in-flight slot for a (subscription, event) pair.
// Returns false when an attempt for the pair is already queued, scheduled
// or executing.
func (d *Dispatcher) acquire(key string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, exists := d.inflight[key]; exists {
		return false
	}
	d.inflight[key] = struct{}{}
	if d.metrics != nil {
		d.metrics.DeliveriesInFlight.Set(float64(len(d.inflight)))
	}
	return true
}

func (d *Dispatcher) release(key string) {
	d.inflightMu.Lock()
	delete(d.inflight, key)
	n := len(d.inflight)
	d.inflightMu.Unlock()
	if d.metrics != nil {
		d.metrics.DeliveriesInFlight.Set(float64(n))
	}
}

func (d *Dispatcher) enqueueFirst(sub *Subscription, e *events.Event, payload []byte) {
	key := pairKey(sub.ID, e.ID)
	if !d.acquire(key) {
		d.logger.WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"event_id":        e.ID,
		}).Debug("duplicate delivery rejected, attempt already in flight")
		return
	}

	att := &DeliveryAttempt{
		SubscriptionID: sub.ID,
		EventID:        e.ID,
		Attempt:        1,
		ScheduledAt:    time.Now(),
		url:            sub.URL,
		secret:         sub.Secret,
		policy:         sub.Retry,
		eventType:      e.Type,
		timestamp:      e.Timestamp,
		payload:        payload,
	}

	log := &DeliveryLog{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		EventID:        e.ID,
		EventType:      e.Type,
		URL:            sub.URL,
		Status:         DeliveryStatusPending,
		CreatedAt:      time.Now(),
	}
	d.store.Add(log)
	att.logID = log.ID

	select {
	case d.queue <- att:
		if d.metrics != nil {
			d.metrics.DeliveryQueueDepth.Set(float64(len(d.queue)))
		}
	default:
		d.release(key)
		d.store.Resolve(att.logID, DeliveryStatusFailed, 0, "delivery queue full", 0)
		d.emit(att, OutcomeDropped, 0, "delivery queue full", 0)
		d.logger.WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"event_id":        e.ID,
		}).Warn("delivery queue full, attempt dropped")
	}
}

// resubmit hands a scheduled retry back to the worker pool. Returning false
// keeps the attempt in the delay queue for a short deferral instead of
// blocking the scheduling loop on a full queue.
func (d *Dispatcher) resubmit(att *DeliveryAttempt) bool {
	select {
	case d.queue <- att:
		if d.metrics != nil {
			d.metrics.DeliveryQueueDepth.Set(float64(len(d.queue)))
		}
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case att := <-d.queue:
			if d.metrics != nil {
				d.metrics.DeliveryQueueDepth.Set(float64(len(d.queue)))
			}
			d.deliver(att)
		}
	}
}

// deliver executes one attempt and resolves it: discard on success,
// reschedule through the delay queue on retryable failure, terminally fail
// otherwise. Panics are contained to the attempt.
func (d *Dispatcher) deliver(att *DeliveryAttempt) {
	key := pairKey(att.SubscriptionID, att.EventID)
	defer func() {
		if r := recover(); r != nil {
			d.release(key)
			d.store.Resolve(att.logID, DeliveryStatusFailed, 0, fmt.Sprintf("panic: %v", r), 0)
			d.logger.WithFields(map[string]interface{}{
				"subscription_id": att.SubscriptionID,
				"event_id":        att.EventID,
				"panic":           fmt.Sprint(r),
			}).Error("delivery worker panic recovered")
		}
	}()

	// An administratively removed or deactivated subscription drops its
	// pending attempts rather than completing them.
	d.mu.RLock()
	sub, exists := d.subs[att.SubscriptionID]
	active := exists && sub.Active
	d.mu.RUnlock()
	if !active {
		d.release(key)
		d.store.Resolve(att.logID, DeliveryStatusFailed, 0, "subscription removed", 0)
		d.emit(att, OutcomeDropped, 0, "subscription removed", 0)
		return
	}

	start := time.Now()
	status, header, err := d.send(att)
	duration := time.Since(start)
	class := retry.Classify(status, err)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else if class != retry.Success {
		errMsg = fmt.Sprintf("endpoint returned status %d", status)
	}

	if d.metrics != nil {
		d.metrics.DeliveryAttemptsTotal.WithLabelValues(class.String()).Inc()
		d.metrics.DeliveryDuration.WithLabelValues(class.String()).Observe(duration.Seconds())
	}

	switch {
	case class == retry.Success:
		d.release(key)
		d.store.Resolve(att.logID, DeliveryStatusSuccess, status, "", duration)
		d.emit(att, OutcomeSuccess, status, "", duration)
		d.logger.WithFields(map[string]interface{}{
			"subscription_id": att.SubscriptionID,
			"event_id":        att.EventID,
			"attempt":         att.Attempt,
			"status_code":     status,
		}).Debug("webhook delivered")

	case att.policy.ShouldRetry(att.Attempt, class):
		delay := att.policy.DelayFor(att.Attempt, retry.RetryAfter(header))
		next := time.Now().Add(delay)
		d.store.Retrying(att.logID, att.Attempt, status, errMsg, next)
		d.emit(att, OutcomeRetryScheduled, status, errMsg, duration)

		att.Attempt++
		att.ScheduledAt = next
		att.LastError = errMsg
		d.scheduler.schedule(att)
		if d.metrics != nil {
			d.metrics.RetryQueueDepth.Set(float64(d.scheduler.len()))
		}
		d.logger.WithFields(map[string]interface{}{
			"subscription_id": att.SubscriptionID,
			"event_id":        att.EventID,
			"attempt":         att.Attempt,
			"delay":           delay.String(),
			"error":           errMsg,
		}).Debug("webhook delivery retry scheduled")

	default:
		d.release(key)
		d.store.Resolve(att.logID, DeliveryStatusFailed, status, errMsg, duration)
		d.emit(att, OutcomeExhausted, status, errMsg, duration)
		d.logger.WithFields(map[string]interface{}{
			"subscription_id": att.SubscriptionID,
			"event_id":        att.EventID,
			"attempt":         att.Attempt,
			"status_code":     status,
			"error":           errMsg,
		}).Warn("webhook delivery failed terminally")
	}
}

// send performs the HTTP POST. A zero status with a non-nil error means the
// request never produced a response.
func (d *Dispatcher) send(att *DeliveryAttempt) (int, http.Header, error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, att.url, bytes.NewReader(att.payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("X-EventGate-Event", att.eventType)
	req.Header.Set("X-EventGate-Delivery", att.EventID)
	req.Header.Set("X-EventGate-Timestamp", strconv.FormatInt(att.timestamp, 10))
	if att.secret != "" {
		req.Header.Set("X-EventGate-Signature", signature.Sign(att.payload, att.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, resp.Header, nil
}

func (d *Dispatcher) emit(att *DeliveryAttempt, outcome Outcome, status int, errMsg string, duration time.Duration) {
	if d.notify == nil {
		return
	}
	d.notify(Notification{
		SubscriptionID: att.SubscriptionID,
		EventID:        att.EventID,
		EventType:      att.eventType,
		Outcome:        outcome,
		Attempt:        att.Attempt,
		StatusCode:     status,
		Error:          errMsg,
		Duration:       duration,
	})
}
