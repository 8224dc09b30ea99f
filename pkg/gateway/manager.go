package gateway

import (
	"sync"

	"github.com/eventgate/eventgate/pkg/events"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/ratelimit"
)

// OverflowPolicy decides what happens when a session's send queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest non-critical queued frame to admit the
	// new one.
	DropOldest OverflowPolicy = iota
	// CloseSession closes the connection instead of dropping frames.
	CloseSession
)

// ConnectionManager owns the set of live sessions and their send queues. A
// slow consumer fills only its own queue; enqueue never blocks, so one stuck
// session cannot stall broadcast to the others.
type ConnectionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	queueSize int
	policy    OverflowPolicy
	limiter   *ratelimit.Limiter
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewConnectionManager creates a manager with the given per-session queue
// capacity and overflow policy. The limiter provides per-session token
// buckets for both directions.
func NewConnectionManager(queueSize int, policy OverflowPolicy, limiter *ratelimit.Limiter, logger *observability.Logger) *ConnectionManager {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ConnectionManager{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
		policy:    policy,
		limiter:   limiter,
		logger:    logger.WithField("component", "connection_manager"),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (m *ConnectionManager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

func (m *ConnectionManager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(n))
	}
}

func (m *ConnectionManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	// The session's token buckets die with it.
	m.limiter.Forget(id + ":in")
	m.limiter.Forget(id + ":out")

	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(n))
	}
}

// Get returns a live session by ID.
func (m *ConnectionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast enqueues the event to every Active session whose subscription
// set matches its type.
func (m *ConnectionManager) Broadcast(e *events.Event) {
	frame := NewFrame(FrameNotification, map[string]interface{}{
		"event":     e.Type,
		"id":        e.ID,
		"timestamp": e.Timestamp,
		"data":      e.Data,
	})

	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.State() == StateActive && s.wantsEvent(e.Type) {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		m.enqueue(s, frame)
	}
}

// Send enqueues a frame to one session. Returns false when the session is
// unknown, not writable, or the frame was rejected by the overflow policy.
func (m *ConnectionManager) Send(sessionID string, f *Frame) bool {
	s, ok := m.Get(sessionID)
	if !ok {
		return false
	}
	return m.enqueue(s, f)
}

// enqueue admits a frame to the session's bounded queue without ever
// blocking the caller.
func (m *ConnectionManager) enqueue(s *Session, f *Frame) bool {
	switch s.State() {
	case StateActive, StateAuthenticating, StateClosing:
	default:
		return false
	}

	select {
	case s.send <- f:
		return true
	default:
	}

	if m.policy == CloseSession {
		m.logger.WithField("session_id", s.ID).Warn("send queue overflow, closing session")
		m.closeSlow(s)
		return false
	}

	// Drop the oldest queued frame to make room. A critical frame pulled
	// out this way goes back to the tail and the new frame is dropped
	// instead.
	select {
	case old := <-s.send:
		if critical(old) && critical(f) {
			// Both frames carry connection-level signals; losing either
			// would hide one, so give the slot back and close. The writer
			// drains the queue on close.
			select {
			case s.send <- old:
			default:
			}
			m.logger.WithField("session_id", s.ID).Warn("send queue overflow with critical frames, closing session")
			m.closeSlow(s)
			return false
		}
		victim := old
		if critical(old) {
			victim = f
			f = old
		}
		if m.metrics != nil {
			m.metrics.SendQueueDropsTotal.Inc()
		}
		m.logger.WithFields(map[string]interface{}{
			"session_id": s.ID,
			"frame_type": victim.Type,
		}).Debug("send queue full, dropped oldest frame")
	default:
	}

	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

func (m *ConnectionManager) closeSlow(s *Session) {
	if err := s.transition(StateClosing); err == nil {
		s.markClosed()
	}
	m.remove(s.ID)
}

// CloseAll marks every session closed, used during shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.markClosed()
		m.limiter.Forget(s.ID + ":in")
		m.limiter.Forget(s.ID + ":out")
	}
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(0)
	}
}
