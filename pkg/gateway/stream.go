package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// streamState accumulates one ordered chunk stream.
type streamState struct {
	mu       sync.Mutex
	nextSeq  int
	complete bool
}

// streamTracker enforces the chunk-sequence invariant per stream: sequence
// numbers start at 0 and increase by exactly one, and nothing follows the
// completion marker. Violations are reported to the caller to be logged and
// dropped; they are never fatal to the session. Abandoned streams age out of
// the expirable cache instead of leaking.
type streamTracker struct {
	streams *expirable.LRU[string, *streamState]
}

func newStreamTracker(maxStreams int, ttl time.Duration) *streamTracker {
	if maxStreams <= 0 {
		maxStreams = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &streamTracker{
		streams: expirable.NewLRU[string, *streamState](maxStreams, nil, ttl),
	}
}

// advance validates one chunk. On the completion marker the stream is
// retired and its id may be reused.
func (t *streamTracker) advance(streamID string, sequence int, isComplete bool) error {
	if streamID == "" {
		return fmt.Errorf("stream id is required")
	}
	if sequence < 0 {
		return fmt.Errorf("negative sequence %d", sequence)
	}

	state, ok := t.streams.Get(streamID)
	if !ok {
		state = &streamState{}
		t.streams.Add(streamID, state)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.complete {
		return fmt.Errorf("chunk %d after completion of stream %s", sequence, streamID)
	}
	if sequence < state.nextSeq {
		return fmt.Errorf("duplicate sequence %d for stream %s", sequence, streamID)
	}
	if sequence > state.nextSeq {
		return fmt.Errorf("out-of-order sequence %d for stream %s, expected %d", sequence, streamID, state.nextSeq)
	}

	state.nextSeq++
	if isComplete {
		state.complete = true
		t.streams.Remove(streamID)
	}
	return nil
}

func (t *streamTracker) active() int {
	return t.streams.Len()
}
