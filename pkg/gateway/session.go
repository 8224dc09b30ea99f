package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one authenticated WebSocket connection. All mutation goes
// through the session's own lock; cross-session coordination happens only
// via the manager and the send queue.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn *websocket.Conn

	mu           sync.Mutex
	state        SessionState
	authIdentity string
	subscribed   map[string]bool

	send chan *Frame
	done chan struct{}

	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, queueSize int) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		conn:       conn,
		state:      StateConnecting,
		subscribed: make(map[string]bool),
		send:       make(chan *Frame, queueSize),
		done:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session along the state machine, rejecting edges the
// transition table does not allow.
func (s *Session) transition(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return &ErrIllegalTransition{From: s.state, To: to}
	}
	s.state = to
	return nil
}

// AuthIdentity returns the identity established during the handshake.
func (s *Session) AuthIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authIdentity
}

func (s *Session) setAuthIdentity(identity string) {
	s.mu.Lock()
	s.authIdentity = identity
	s.mu.Unlock()
}

// Subscribe adds event types to the session's subscription set.
func (s *Session) Subscribe(eventTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range eventTypes {
		if t != "" {
			s.subscribed[t] = true
		}
	}
}

// Unsubscribe removes event types from the session's subscription set.
func (s *Session) Unsubscribe(eventTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range eventTypes {
		delete(s.subscribed, t)
	}
}

// SubscribedTypes returns a copy of the subscription set.
func (s *Session) SubscribedTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.subscribed))
	for t := range s.subscribed {
		types = append(types, t)
	}
	return types
}

// wantsEvent reports whether the session subscribed to the event type,
// explicitly or via the wildcard.
func (s *Session) wantsEvent(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed["*"] || s.subscribed[eventType]
}

// markClosed forces the terminal state and releases the writer. Queued but
// unsent frames are discarded; the queue is not a durability guarantee.
func (s *Session) markClosed() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
	})
}
