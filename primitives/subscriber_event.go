package primitives

import "sync"

// SubscriberEvent is a broadcast event with reference-counted
// subscribers, mirroring EventWithSubscribers in the original
// implementation: a worker registers as a subscriber before waiting on
// a session's cancellation, and the worker's per-session registry entry
// is pruned once the last subscriber leaves.
type SubscriberEvent struct {
	mu          sync.Mutex
	set         bool
	done        chan struct{}
	subscribers int
}

// NewSubscriberEvent returns a ready-to-use, unset event.
func NewSubscriberEvent() *SubscriberEvent {
	return &SubscriberEvent{done: make(chan struct{})}
}

// Subscribe registers a subscriber and returns an unsubscribe func that
// must be called exactly once when the subscriber is done waiting.
func (e *SubscriberEvent) Subscribe() (wait <-chan struct{}, unsubscribe func()) {
	e.mu.Lock()
	e.subscribers++
	ch := e.done
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			e.subscribers--
			e.mu.Unlock()
		})
	}
}

// Set marks the event as fired; idempotent, safe to call more than
// once (a duplicate "session cancelled" broadcast is harmless).
func (e *SubscriberEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.done)
	}
}

// IsSet reports whether Set has been called.
func (e *SubscriberEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// SubscriberCount returns the current number of registered subscribers.
func (e *SubscriberEvent) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribers
}
