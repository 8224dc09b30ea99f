package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxFrameBytes bounds a single inbound frame.
const MaxFrameBytes = 64 * 1024

// Inbound frame types.
const (
	FrameChatSend    = "chat_send"
	FrameToolCall    = "tool_call"
	FrameSessionJoin = "session_join"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameCommand     = "command"
)

// Outbound frame types.
const (
	FrameConnectionEstablished = "connection_established"
	FrameConnectionError       = "connection_error"
	FrameChatReceive           = "chat_receive"
	FrameChatStream            = "chat_stream"
	FrameStatusUpdate          = "status_update"
	FrameNotification          = "notification"
	FrameToolResult            = "tool_result"
)

// FrameAuth is the first-frame credential carrier for clients that do not
// pass the token as a query parameter.
const FrameAuth = "auth"

// Frame is the wire unit of the WebSocket protocol, both directions.
type Frame struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewFrame creates an outbound frame with a generated ID and the current
// timestamp.
func NewFrame(frameType string, payload map[string]interface{}) *Frame {
	return &Frame{
		ID:        uuid.New().String(),
		Type:      frameType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
}

var inboundTypes = map[string]bool{
	FrameChatSend:    true,
	FrameToolCall:    true,
	FrameSessionJoin: true,
	FrameSubscribe:   true,
	FrameUnsubscribe: true,
	FrameCommand:     true,
	FrameAuth:        true,
}

// DecodeFrame parses and validates an inbound frame. A failure here is a
// ValidationError disposition: the frame is dropped and an error notice sent
// back, the session survives.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) > MaxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", MaxFrameBytes)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("frame id is required")
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame type is required")
	}
	if !inboundTypes[f.Type] {
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return &f, nil
}

// errorFrame builds a connection_error frame.
func errorFrame(errName, message string, code int) *Frame {
	return NewFrame(FrameConnectionError, map[string]interface{}{
		"error":   errName,
		"message": message,
		"code":    code,
	})
}

// rateLimitFrame builds the notification sent when an inbound frame is
// rejected by the session's token bucket. Rejections are reported, never
// silent.
func rateLimitFrame(rejectedID string, retryAfter time.Duration) *Frame {
	return NewFrame(FrameNotification, map[string]interface{}{
		"notice":      "rate_limit",
		"frame_id":    rejectedID,
		"retry_after": retryAfter.Seconds(),
	})
}

// streamFrame builds one chat_stream chunk.
func streamFrame(streamID, chunk string, sequence int, isComplete bool) *Frame {
	f := NewFrame(FrameChatStream, map[string]interface{}{
		"chunk":       chunk,
		"is_complete": isComplete,
		"sequence":    sequence,
	})
	f.Metadata = map[string]interface{}{"stream_id": streamID}
	return f
}

// critical frames bypass the drop-oldest policy on a full send queue.
func critical(f *Frame) bool {
	return f.Type == FrameConnectionError || f.Type == FrameConnectionEstablished
}
