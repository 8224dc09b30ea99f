package webhooks

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// resubmitDeferral is how long a ready attempt waits when the worker queue
// is full before the scheduler offers it again.
const resubmitDeferral = 500 * time.Millisecond

// attemptHeap orders pending retries by scheduled time, earliest first.
type attemptHeap []*DeliveryAttempt

func (h attemptHeap) Len() int            { return len(h) }
func (h attemptHeap) Less(i, j int) bool  { return h[i].ScheduledAt.Before(h[j].ScheduledAt) }
func (h attemptHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *attemptHeap) Push(x interface{}) { *h = append(*h, x.(*DeliveryAttempt)) }
func (h *attemptHeap) Pop() interface{} {
	old := *h
	n := len(old)
	att := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return att
}

// scheduler holds retry attempts until their scheduled time and hands ready
// ones to the worker pool. A single timer-driven loop drains the heap; there
// is no periodic polling.
type scheduler struct {
	mu   sync.Mutex
	heap attemptHeap
	wake chan struct{}
}

func newScheduler() *scheduler {
	return &scheduler{
		wake: make(chan struct{}, 1),
	}
}

// schedule enqueues an attempt for its ScheduledAt time and wakes the loop
// so the timer can be re-armed for an earlier deadline.
func (s *scheduler) schedule(att *DeliveryAttempt) {
	s.mu.Lock()
	heap.Push(&s.heap, att)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// run drives the scheduling loop until ctx is cancelled. submit hands a
// ready attempt to the worker pool; when it reports false the attempt is
// re-queued a short deferral later instead of blocking the loop.
func (s *scheduler) run(ctx context.Context, submit func(*DeliveryAttempt) bool) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		armed := false
		if len(s.heap) > 0 {
			wait = time.Until(s.heap[0].ScheduledAt)
			armed = true
		}
		s.mu.Unlock()

		if armed && wait <= 0 {
			s.dispatchReady(submit)
			continue
		}

		if armed {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-timer.C:
				s.dispatchReady(submit)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

// dispatchReady pops every attempt whose time has come and offers it to the
// worker pool.
func (s *scheduler) dispatchReady(submit func(*DeliveryAttempt) bool) {
	now := time.Now()
	var ready []*DeliveryAttempt

	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].ScheduledAt.After(now) {
		ready = append(ready, heap.Pop(&s.heap).(*DeliveryAttempt))
	}
	s.mu.Unlock()

	for _, att := range ready {
		if !submit(att) {
			att.ScheduledAt = time.Now().Add(resubmitDeferral)
			s.schedule(att)
		}
	}
}
