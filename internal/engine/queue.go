package engine

import "sync"

// triggerQueue collects the reasons sync was requested while the run loop
// is busy. The run loop drains every queued reason into a single cycle.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the run loop.
type triggerQueue struct {
	mu      sync.Mutex
	reasons []string
	closed  bool
	signal  chan struct{} // Signals trigger availability (buffered, size 1)
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger reason.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.reasons = append(q.reasons, reason)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Drain removes and returns every queued reason, oldest first.
// Returns nil if the queue is empty.
func (q *triggerQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.reasons) == 0 {
		return nil
	}
	out := q.reasons
	q.reasons = nil
	return out
}

// Wait returns a channel that signals when triggers may be available.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued reasons.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reasons)
}

// Close signals that no more triggers will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
