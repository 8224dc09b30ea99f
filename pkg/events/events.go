package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an event is rejected at the publish boundary.
var ErrInvalidEvent = errors.New("invalid event")

// Event is an immutable fact published by an internal collaborator. Once
// published it is never mutated; consumers receive the same pointer and must
// treat it as read-only.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// New creates an event with a generated ID and the current timestamp.
func New(eventType string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

// Validate checks the fields required at the publish boundary.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return nil
}

// Time returns the event timestamp as a time.Time.
func (e *Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// Severity returns the event's severity, read from data["severity"].
// Events that carry no severity are treated as info.
func (e *Event) Severity() Severity {
	if e.Data == nil {
		return SeverityInfo
	}
	raw, ok := e.Data["severity"].(string)
	if !ok {
		return SeverityInfo
	}
	sev, err := ParseSeverity(raw)
	if err != nil {
		return SeverityInfo
	}
	return sev
}

// Field resolves a dotted path into the event data, e.g. "error.code".
// The second return is false when any path segment is missing.
func (e *Event) Field(path string) (interface{}, bool) {
	if e.Data == nil || path == "" {
		return nil, false
	}
	var cur interface{} = e.Data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Payload is the canonical wire form of an event: the JSON body POSTed to
// webhook subscribers and the bytes covered by the HMAC signature.
// encoding/json sorts map keys, so the encoding is stable for a given event.
type Payload struct {
	Event     string                 `json:"event"`
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// CanonicalPayload serializes the event into its canonical byte encoding.
func CanonicalPayload(e *Event) ([]byte, error) {
	return json.Marshal(Payload{
		Event:     e.Type,
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	})
}

// Severity is the ordered severity ladder used by subscription filters.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityDebug:    "debug",
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "info"
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalJSON encodes the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// MarshalYAML encodes the severity as its lowercase name.
func (s Severity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML decodes a severity name.
func (s *Severity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}
