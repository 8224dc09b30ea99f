package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name:  "valid",
			event: &Event{ID: "evt-1", Type: "chat.message", Timestamp: 1700000000},
		},
		{
			name:    "missing id",
			event:   &Event{Type: "chat.message"},
			wantErr: true,
		},
		{
			name:    "missing type",
			event:   &Event{ID: "evt-1"},
			wantErr: true,
		},
		{
			name:    "nil event",
			event:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewGeneratesIDAndTimestamp(t *testing.T) {
	e := New("tool.executed", map[string]interface{}{"tool": "search"})
	assert.NotEmpty(t, e.ID)
	assert.NotZero(t, e.Timestamp)
	assert.NoError(t, e.Validate())
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		data map[string]interface{}
		want Severity
	}{
		{map[string]interface{}{"severity": "debug"}, SeverityDebug},
		{map[string]interface{}{"severity": "warning"}, SeverityWarning},
		{map[string]interface{}{"severity": "warn"}, SeverityWarning},
		{map[string]interface{}{"severity": "critical"}, SeverityCritical},
		{map[string]interface{}{"severity": "bogus"}, SeverityInfo},
		{map[string]interface{}{}, SeverityInfo},
		{nil, SeverityInfo},
	}

	for _, tt := range tests {
		e := &Event{ID: "e", Type: "t", Data: tt.data}
		assert.Equal(t, tt.want, e.Severity())
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityDebug < SeverityInfo)
	assert.True(t, SeverityInfo < SeverityWarning)
	assert.True(t, SeverityWarning < SeverityError)
	assert.True(t, SeverityError < SeverityCritical)
}

func TestField(t *testing.T) {
	e := &Event{
		ID:   "e",
		Type: "t",
		Data: map[string]interface{}{
			"platform": "slack",
			"error": map[string]interface{}{
				"code": "timeout",
			},
		},
	}

	v, ok := e.Field("platform")
	require.True(t, ok)
	assert.Equal(t, "slack", v)

	v, ok = e.Field("error.code")
	require.True(t, ok)
	assert.Equal(t, "timeout", v)

	_, ok = e.Field("error.missing")
	assert.False(t, ok)

	_, ok = e.Field("platform.nested")
	assert.False(t, ok)

	_, ok = e.Field("")
	assert.False(t, ok)
}

func TestCanonicalPayloadStable(t *testing.T) {
	e := &Event{
		ID:        "evt-1",
		Type:      "chat.message",
		Timestamp: 1700000000,
		Data: map[string]interface{}{
			"b": 2,
			"a": 1,
			"c": map[string]interface{}{"z": true, "y": false},
		},
	}

	first, err := CanonicalPayload(e)
	require.NoError(t, err)
	second, err := CanonicalPayload(e)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded Payload
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "chat.message", decoded.Event)
	assert.Equal(t, "evt-1", decoded.ID)
	assert.EqualValues(t, 1700000000, decoded.Timestamp)
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(SeverityError)
	require.NoError(t, err)
	assert.Equal(t, `"error"`, string(b))

	var s Severity
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &s))
	assert.Equal(t, SeverityCritical, s)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &s))
}
