package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTracker_InOrder(t *testing.T) {
	tr := newStreamTracker(16, time.Minute)

	require.NoError(t, tr.advance("s1", 0, false))
	require.NoError(t, tr.advance("s1", 1, false))
	require.NoError(t, tr.advance("s1", 2, true))

	// completed streams are retired
	assert.Equal(t, 0, tr.active())
}

func TestStreamTracker_Violations(t *testing.T) {
	tr := newStreamTracker(16, time.Minute)

	require.NoError(t, tr.advance("s1", 0, false))

	t.Run("duplicate", func(t *testing.T) {
		assert.Error(t, tr.advance("s1", 0, false))
	})

	t.Run("out of order", func(t *testing.T) {
		assert.Error(t, tr.advance("s1", 5, false))
	})

	t.Run("violation does not advance", func(t *testing.T) {
		assert.NoError(t, tr.advance("s1", 1, false))
	})

	t.Run("chunk after completion", func(t *testing.T) {
		require.NoError(t, tr.advance("s2", 0, true))
		// the stream id was retired, so a fresh sequence starts over
		assert.NoError(t, tr.advance("s2", 0, false))
		assert.Error(t, tr.advance("s2", 2, false))
	})

	t.Run("empty stream id", func(t *testing.T) {
		assert.Error(t, tr.advance("", 0, false))
	})

	t.Run("negative sequence", func(t *testing.T) {
		assert.Error(t, tr.advance("s3", -1, false))
	})
}

func TestStreamTracker_IndependentStreams(t *testing.T) {
	tr := newStreamTracker(16, time.Minute)

	require.NoError(t, tr.advance("a", 0, false))
	require.NoError(t, tr.advance("b", 0, false))
	require.NoError(t, tr.advance("a", 1, false))
	require.NoError(t, tr.advance("b", 1, false))
	assert.Equal(t, 2, tr.active())
}

func TestStreamTracker_Expiry(t *testing.T) {
	tr := newStreamTracker(16, 50*time.Millisecond)

	require.NoError(t, tr.advance("s1", 0, false))
	time.Sleep(120 * time.Millisecond)

	// the abandoned accumulator aged out, the id starts a fresh stream
	assert.NoError(t, tr.advance("s1", 0, false))
}
