package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/eventgate/eventgate/pkg/events"
)

// Clause operators.
const (
	OpEquals   = "eq"
	OpContains = "contains"
	OpRegex    = "regex"
)

// Clause is a single content predicate over an event data field.
type Clause struct {
	Field string      `json:"field" yaml:"field"`
	Op    string      `json:"op" yaml:"op"`
	Value interface{} `json:"value" yaml:"value"`
}

// Window restricts matching to a time-of-day range [StartHour, EndHour) in
// the configured timezone. StartHour > EndHour wraps midnight.
type Window struct {
	StartHour int    `json:"start_hour" yaml:"start_hour"`
	EndHour   int    `json:"end_hour" yaml:"end_hour"`
	Timezone  string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Spec is a subscription's declarative filter. The zero value matches
// everything.
type Spec struct {
	Platforms   []string        `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	MinSeverity events.Severity `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
	Clauses     []Clause        `json:"clauses,omitempty" yaml:"clauses,omitempty"`
	Window      *Window         `json:"window,omitempty" yaml:"window,omitempty"`
}

// IsZero reports whether the spec imposes no constraints at all.
func (s *Spec) IsZero() bool {
	return len(s.Platforms) == 0 && s.MinSeverity == 0 &&
		len(s.Clauses) == 0 && s.Window == nil
}

// Validate checks the spec at subscription admission time so that malformed
// clauses are rejected up front instead of failing closed on every event.
func (s *Spec) Validate() error {
	for i, c := range s.Clauses {
		switch c.Op {
		case OpEquals, OpContains:
		case OpRegex:
			pattern, ok := c.Value.(string)
			if !ok {
				return fmt.Errorf("clause %d: regex value must be a string", i)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("clause %d: invalid regex: %w", i, err)
			}
		default:
			return fmt.Errorf("clause %d: unknown operator %q", i, c.Op)
		}
		if c.Field == "" {
			return fmt.Errorf("clause %d: field is required", i)
		}
	}
	if s.Window != nil {
		if s.Window.StartHour < 0 || s.Window.StartHour > 23 ||
			s.Window.EndHour < 0 || s.Window.EndHour > 24 {
			return fmt.Errorf("window hours out of range")
		}
		if s.Window.Timezone != "" {
			if _, err := time.LoadLocation(s.Window.Timezone); err != nil {
				return fmt.Errorf("invalid window timezone: %w", err)
			}
		}
	}
	return nil
}

// Matches reports whether the event passes the spec. Evaluation order:
// platform allow-list, severity threshold, content clauses (AND), time
// window. Pure: no hidden state, same inputs always yield the same result.
func Matches(s *Spec, e *events.Event) bool {
	if s == nil {
		return true
	}
	if len(s.Platforms) > 0 && !platformAllowed(s.Platforms, e) {
		return false
	}
	if e.Severity() < s.MinSeverity {
		return false
	}
	for _, c := range s.Clauses {
		if !clauseMatches(c, e) {
			return false
		}
	}
	if s.Window != nil && !inWindow(s.Window, e.Time()) {
		return false
	}
	return true
}

func platformAllowed(platforms []string, e *events.Event) bool {
	v, ok := e.Field("platform")
	if !ok {
		return false
	}
	platform, ok := v.(string)
	if !ok {
		return false
	}
	for _, p := range platforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}

func clauseMatches(c Clause, e *events.Event) bool {
	v, ok := e.Field(c.Field)
	if !ok {
		// Missing field: no match, never an error.
		return false
	}

	switch c.Op {
	case OpEquals:
		return valuesEqual(v, c.Value)
	case OpContains:
		return valueContains(v, c.Value)
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		str, ok := v.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, str)
		if err != nil {
			return false
		}
		return matched
	default:
		return false
	}
}

// valuesEqual compares loosely enough to survive JSON decoding, where all
// numbers arrive as float64.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func valueContains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(h, n)
	case []interface{}:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range h {
			if item == n {
				return true
			}
		}
		return false
	}
	return false
}

func inWindow(w *Window, ts time.Time) bool {
	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	hour := ts.In(loc).Hour()
	if w.StartHour == w.EndHour {
		// Degenerate window admits everything.
		return true
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// Wrapping midnight: outside the inverse range.
	return hour >= w.StartHour || hour < w.EndHour
}
