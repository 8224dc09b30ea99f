package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eventgate/eventgate/pkg/events"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/ratelimit"
)

// Authenticator validates a connection-time credential and resolves it to
// an identity.
type Authenticator interface {
	Authenticate(token string) (identity string, err error)
}

// StaticTokenAuthenticator authenticates against a fixed token-to-identity
// table. Comparison is constant-time over every candidate so lookup timing
// does not leak which tokens exist.
type StaticTokenAuthenticator struct {
	tokens map[string]string
}

// NewStaticTokenAuthenticator creates an authenticator from a token ->
// identity map.
func NewStaticTokenAuthenticator(tokens map[string]string) *StaticTokenAuthenticator {
	copied := make(map[string]string, len(tokens))
	for token, identity := range tokens {
		copied[token] = identity
	}
	return &StaticTokenAuthenticator{tokens: copied}
}

// Authenticate implements Authenticator.
func (a *StaticTokenAuthenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing credential")
	}
	identity := ""
	found := false
	for candidate, id := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			identity = id
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("invalid credential")
	}
	return identity, nil
}

// HandlerFunc receives an inbound frame routed to a collaborator.
type HandlerFunc func(ctx context.Context, sessionID string, f *Frame)

// Config bounds the gateway's per-session resources.
type Config struct {
	QueueSize  int
	Overflow   OverflowPolicy
	AuthGrace  time.Duration
	RateLimit  ratelimit.Config
	WriteWait  time.Duration
	PongWait   time.Duration
	MaxStreams int
	StreamTTL  time.Duration
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:  64,
		Overflow:   DropOldest,
		AuthGrace:  10 * time.Second,
		RateLimit:  ratelimit.DefaultConfig(),
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		MaxStreams: 1024,
		StreamTTL:  5 * time.Minute,
	}
}

func (c Config) normalize() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.AuthGrace <= 0 {
		c.AuthGrace = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit = ratelimit.DefaultConfig()
	}
	return c
}

// Gateway terminates WebSocket connections, authenticates them, decodes the
// frame protocol, routes inbound frames to collaborators and pushes events
// outbound. It implements bus.Subscriber for the outbound side.
type Gateway struct {
	cfg      Config
	auth     Authenticator
	manager  *ConnectionManager
	limiter  *ratelimit.Limiter
	streams  *streamTracker
	logger   *observability.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	handlers map[string]HandlerFunc
}

// NewGateway creates a gateway with the given authenticator.
func NewGateway(cfg Config, auth Authenticator, logger *observability.Logger) *Gateway {
	cfg = cfg.normalize()
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	log := logger.WithField("component", "websocket_gateway")
	return &Gateway{
		cfg:     cfg,
		auth:    auth,
		manager: NewConnectionManager(cfg.QueueSize, cfg.Overflow, limiter, logger),
		limiter: limiter,
		streams: newStreamTracker(cfg.MaxStreams, cfg.StreamTTL),
		logger:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handlers: make(map[string]HandlerFunc),
	}
}

// SetMetrics attaches Prometheus instrumentation. Must be called before
// serving connections.
func (g *Gateway) SetMetrics(m *observability.Metrics) {
	g.metrics = m
	g.manager.SetMetrics(m)
}

// SetHandler registers the collaborator that receives inbound frames of the
// given type (chat_send, tool_call, session_join, command).
func (g *Gateway) SetHandler(frameType string, fn HandlerFunc) {
	g.handlers[frameType] = fn
}

// Manager exposes the connection manager for direct sends.
func (g *Gateway) Manager() *ConnectionManager {
	return g.manager
}

// OnEvent implements bus.Subscriber: matching events are pushed to every
// Active subscribed session.
func (g *Gateway) OnEvent(ctx context.Context, e *events.Event) {
	g.manager.Broadcast(e)
}

// SendStreamChunk pushes one ordered chunk of a streaming response to a
// session. Out-of-order or duplicate sequence numbers are logged and
// dropped, never fatal to the session.
func (g *Gateway) SendStreamChunk(sessionID, streamID, chunk string, sequence int, isComplete bool) error {
	if err := g.streams.advance(streamID, sequence, isComplete); err != nil {
		if g.metrics != nil {
			g.metrics.StreamViolationsTotal.Inc()
		}
		g.logger.WithFields(map[string]interface{}{
			"session_id": sessionID,
			"stream_id":  streamID,
			"sequence":   sequence,
		}).WithError(err).Warn("stream chunk dropped")
		return err
	}
	if !g.manager.Send(sessionID, streamFrame(streamID, chunk, sequence, isComplete)) {
		return fmt.Errorf("session %s not writable", sessionID)
	}
	return nil
}

// HandleWS upgrades the connection and runs the session to completion.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	session := newSession(uuid.New().String(), conn, g.cfg.QueueSize)
	logger := g.logger.WithField("session_id", session.ID)

	if err := session.transition(StateAuthenticating); err != nil {
		conn.Close()
		return
	}

	identity, err := g.authenticate(r, conn)
	if err != nil {
		if g.metrics != nil {
			g.metrics.AuthFailuresTotal.Inc()
		}
		logger.WithError(err).Info("authentication failed")
		g.writeDirect(conn, errorFrame("authentication_failed", err.Error(), http.StatusUnauthorized))
		session.transition(StateClosed)
		conn.Close()
		return
	}

	session.setAuthIdentity(identity)
	if err := session.transition(StateActive); err != nil {
		conn.Close()
		return
	}
	g.manager.add(session)
	logger.WithField("identity", identity).Info("session established")

	g.manager.enqueue(session, NewFrame(FrameConnectionEstablished, map[string]interface{}{
		"session_id": session.ID,
		"identity":   identity,
	}))

	go g.writePump(session, conn)
	g.readPump(r.Context(), session, conn)

	// Read side is done: client close, protocol error or shutdown. Wind
	// down through Closing so the writer can drain, then drop the session.
	session.transition(StateClosing)
	session.markClosed()
	g.manager.remove(session.ID)
	conn.Close()
	logger.Info("session closed")
}

// authenticate resolves the connection credential: query parameter first,
// otherwise an auth frame must arrive within the grace period.
func (g *Gateway) authenticate(r *http.Request, conn *websocket.Conn) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		conn.SetReadDeadline(time.Now().Add(g.cfg.AuthGrace))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("no credential within grace period")
		}
		frame, err := DecodeFrame(data)
		if err != nil || frame.Type != FrameAuth {
			return "", fmt.Errorf("expected auth frame")
		}
		token, _ = frame.Payload["token"].(string)
	}
	return g.auth.Authenticate(token)
}

func (g *Gateway) writeDirect(conn *websocket.Conn, f *Frame) {
	conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
	if err := conn.WriteJSON(f); err != nil {
		g.logger.WithError(err).Debug("direct write failed")
	}
}

func (g *Gateway) readPump(ctx context.Context, session *Session, conn *websocket.Conn) {
	conn.SetReadLimit(MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))

		frame, err := DecodeFrame(data)
		if err != nil {
			// Malformed frames are dropped with a notice; the session
			// survives.
			g.manager.enqueue(session, errorFrame("validation_error", err.Error(), http.StatusBadRequest))
			continue
		}

		key := session.ID + ":in"
		if !g.limiter.Allow(key) {
			if g.metrics != nil {
				g.metrics.RateLimitRejectionsTotal.WithLabelValues("gateway_inbound").Inc()
			}
			g.manager.enqueue(session, rateLimitFrame(frame.ID, g.limiter.RetryAfter(key)))
			continue
		}

		if g.metrics != nil {
			g.metrics.FramesTotal.WithLabelValues(frame.Type, "inbound").Inc()
		}
		g.route(ctx, session, frame)
	}
}

// route dispatches one validated, rate-admitted inbound frame.
func (g *Gateway) route(ctx context.Context, session *Session, frame *Frame) {
	switch frame.Type {
	case FrameSubscribe:
		session.Subscribe(payloadStrings(frame.Payload, "event_types"))
		g.manager.enqueue(session, NewFrame(FrameStatusUpdate, map[string]interface{}{
			"status":      "subscribed",
			"event_types": session.SubscribedTypes(),
		}))
	case FrameUnsubscribe:
		session.Unsubscribe(payloadStrings(frame.Payload, "event_types"))
		g.manager.enqueue(session, NewFrame(FrameStatusUpdate, map[string]interface{}{
			"status":      "subscribed",
			"event_types": session.SubscribedTypes(),
		}))
	case FrameChatSend, FrameToolCall, FrameSessionJoin, FrameCommand:
		handler, ok := g.handlers[frame.Type]
		if !ok {
			g.manager.enqueue(session, errorFrame("unsupported", fmt.Sprintf("no collaborator registered for %s", frame.Type), http.StatusNotImplemented))
			return
		}
		handler(observability.WithSessionID(ctx, session.ID), session.ID, frame)
	case FrameAuth:
		// Already authenticated, nothing to do.
	}
}

func (g *Gateway) writePump(session *Session, conn *websocket.Conn) {
	pingPeriod := g.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-session.done:
			g.drainOnClose(session, conn)
			conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-session.send:
			if !g.writeFrame(session, conn, frame) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame pushes one frame to the wire, deferring non-critical frames
// while the session's outbound bucket is empty. The wait happens on this
// session's writer only; other sessions are unaffected.
func (g *Gateway) writeFrame(session *Session, conn *websocket.Conn, frame *Frame) bool {
	if !critical(frame) {
		key := session.ID + ":out"
		for !g.limiter.Allow(key) {
			if g.metrics != nil {
				g.metrics.RateLimitRejectionsTotal.WithLabelValues("gateway_outbound").Inc()
			}
			wait := g.limiter.RetryAfter(key)
			if wait <= 0 {
				wait = 10 * time.Millisecond
			}
			select {
			case <-session.done:
				return false
			case <-time.After(wait):
			}
		}
	}

	conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		return false
	}
	if g.metrics != nil {
		g.metrics.FramesTotal.WithLabelValues(frame.Type, "outbound").Inc()
	}
	return true
}

// drainOnClose flushes frames already queued at close time, bounded by the
// write deadline per frame.
func (g *Gateway) drainOnClose(session *Session, conn *websocket.Conn) {
	for {
		select {
		case frame := <-session.send:
			conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func payloadStrings(payload map[string]interface{}, key string) []string {
	raw, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
