package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionState
		to      SessionState
		allowed bool
	}{
		{"connecting to authenticating", StateConnecting, StateAuthenticating, true},
		{"connecting aborted", StateConnecting, StateClosed, true},
		{"authenticating to active", StateAuthenticating, StateActive, true},
		{"authenticating rejected", StateAuthenticating, StateClosed, true},
		{"active to closing", StateActive, StateClosing, true},
		{"active aborted", StateActive, StateClosed, true},
		{"closing to closed", StateClosing, StateClosed, true},
		{"skip authentication", StateConnecting, StateActive, false},
		{"reopen closed", StateClosed, StateActive, false},
		{"closing back to active", StateClosing, StateActive, false},
		{"active back to authenticating", StateActive, StateAuthenticating, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, canTransition(tt.from, tt.to))
		})
	}
}

func TestSessionTransition(t *testing.T) {
	s := newSession("s1", nil, 8)
	require.Equal(t, StateConnecting, s.State())

	require.NoError(t, s.transition(StateAuthenticating))
	require.NoError(t, s.transition(StateActive))

	err := s.transition(StateAuthenticating)
	require.Error(t, err)
	var illegal *ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, StateActive, illegal.From)

	// the failed transition must not change state
	assert.Equal(t, StateActive, s.State())
}

func TestSessionSubscriptions(t *testing.T) {
	s := newSession("s1", nil, 8)

	s.Subscribe([]string{"chat.completed", "tool.failed", ""})
	assert.True(t, s.wantsEvent("chat.completed"))
	assert.True(t, s.wantsEvent("tool.failed"))
	assert.False(t, s.wantsEvent("memory.updated"))
	assert.Len(t, s.SubscribedTypes(), 2)

	s.Unsubscribe([]string{"tool.failed"})
	assert.False(t, s.wantsEvent("tool.failed"))

	s.Subscribe([]string{"*"})
	assert.True(t, s.wantsEvent("memory.updated"))
}

func TestSessionMarkClosedIdempotent(t *testing.T) {
	s := newSession("s1", nil, 8)
	s.markClosed()
	s.markClosed()
	assert.Equal(t, StateClosed, s.State())

	select {
	case <-s.done:
	default:
		t.Fatal("expected done channel to be closed")
	}
}
