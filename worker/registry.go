// Package worker binds named handlers to an interactor.Engine through
// the broker's "node ready" callbacks, bounding how many executions run
// concurrently and shutting down gracefully.
//
// Grounded on pulse/async/handler.go's HandlerRegistry and
// pulse/async/worker.go's WorkerPool, adapted from a polling dequeue
// loop to the broker's push-based callback dispatch: Mycelia's broker
// contract has no "poll the queue" operation, so a worker subscribes
// once per registered queue instead of looping a ticker.
package worker

import (
	"sync"

	"github.com/mycelia/mycelia/interactor"
)

// HandlerRegistry maps a queue name to the interactor.Handler that
// processes messages delivered on it. Queue name doubles as the
// dispatch key: a Node declares which queue its calls are routed to
// via callgraph.WithBrokerParams, and a Pool only ever needs to know
// the handler for the queues it subscribes to.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]interactor.Handler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]interactor.Handler{}}
}

// Register binds queue to handler. Panics on a duplicate registration
// for the same queue, matching pulse/async.HandlerRegistry.Register's
// stance that a second registration is a programming error, not a
// runtime condition to recover from.
func (r *HandlerRegistry) Register(queue string, handler interactor.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[queue]; exists {
		panic("worker: handler already registered for queue " + queue)
	}
	r.handlers[queue] = handler
}

// Get retrieves the handler registered for queue, if any.
func (r *HandlerRegistry) Get(queue string) (interactor.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// snapshot returns a point-in-time copy of every (queue, handler) pair,
// used by Pool.Start to subscribe without holding the registry lock
// across broker calls.
func (r *HandlerRegistry) snapshot() map[string]interactor.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]interactor.Handler, len(r.handlers))
	for k, v := range r.handlers {
		out[k] = v
	}
	return out
}
