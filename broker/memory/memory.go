// Package memory is a reference Broker implementation over
// goroutines (no channels), exercised by round-trip tests even though no
// production binary wires it up. broker/wire gives the byte layout a
// real transport would use instead.
//
// Grounded on teranos-QNTX's pulse/async/queue.go (`subscribers []chan
// *Job` + `notifySubscribers`, non-blocking send), adapted from one
// flat subscriber list to two independent topics: "node ready" scoped
// per queue name (decoded from the opaque broker params bytes) and
// "session cancelled" as an unscoped fanout.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mycelia/mycelia/broker"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/errors"
)

var _ broker.Broker = (*Broker)(nil)

type nodeSubscription struct {
	handle broker.CallbackHandle
	queue  string
	cb     broker.NodeEnqueuedCallback
}

type sessionSubscription struct {
	handle broker.CallbackHandle
	cb     broker.SessionCancelledCallback
}

// Broker is an in-process, channel-free (direct-goroutine) reference
// implementation of broker.Broker.
type Broker struct {
	mu          sync.Mutex
	nextHandle  uint64
	nodeSubs    []nodeSubscription
	sessionSubs []sessionSubscription
	closed      bool
	wg          sync.WaitGroup
	logger      *zap.SugaredLogger
}

// New returns an empty in-memory broker. logger may be nil.
func New(logger *zap.SugaredLogger) *Broker {
	return &Broker{logger: logger}
}

func queueName(params []byte) string {
	return string(params)
}

// PublishNodeEnqueued implements broker.Broker. Matching subscribers are
// invoked concurrently, one goroutine each, for parallel fan-out; a
// failed callback is logged and still counts as delivered
// (at-least-once, caller retries via storage state).
func (b *Broker) PublishNodeEnqueued(ctx context.Context, params []byte, node core.EnqueuedNode) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker: publish on shut down broker")
	}
	queue := queueName(params)
	var matched []broker.NodeEnqueuedCallback
	for _, sub := range b.nodeSubs {
		if sub.queue == queue {
			matched = append(matched, sub.cb)
		}
	}
	b.wg.Add(len(matched))
	b.mu.Unlock()

	for _, cb := range matched {
		go func(cb broker.NodeEnqueuedCallback) {
			defer b.wg.Done()
			if err := cb(ctx, node); err != nil && b.logger != nil {
				b.logger.Errorw("node enqueued callback failed", "node_id", node.ID, "error", err)
			}
		}(cb)
	}
	return nil
}

// PublishSessionCancelled implements broker.Broker, fanning the
// broadcast out to every subscriber concurrently.
func (b *Broker) PublishSessionCancelled(ctx context.Context, sessionID uuid.UUID) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker: publish on shut down broker")
	}
	callbacks := make([]broker.SessionCancelledCallback, len(b.sessionSubs))
	for i, sub := range b.sessionSubs {
		callbacks[i] = sub.cb
	}
	b.wg.Add(len(callbacks))
	b.mu.Unlock()

	for _, cb := range callbacks {
		go func(cb broker.SessionCancelledCallback) {
			defer b.wg.Done()
			cb(ctx, sessionID)
		}(cb)
	}
	return nil
}

// AddOnNodeEnqueuedCallback implements broker.Broker.
func (b *Broker) AddOnNodeEnqueuedCallback(params []byte, cb broker.NodeEnqueuedCallback) broker.CallbackHandle {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle := broker.CallbackHandle(atomic.AddUint64(&b.nextHandle, 1))
	b.nodeSubs = append(b.nodeSubs, nodeSubscription{handle: handle, queue: queueName(params), cb: cb})
	return handle
}

// AddOnSessionCancelledCallback implements broker.Broker.
func (b *Broker) AddOnSessionCancelledCallback(cb broker.SessionCancelledCallback) broker.CallbackHandle {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle := broker.CallbackHandle(atomic.AddUint64(&b.nextHandle, 1))
	b.sessionSubs = append(b.sessionSubs, sessionSubscription{handle: handle, cb: cb})
	return handle
}

// RemoveCallback implements broker.Broker.
func (b *Broker) RemoveCallback(handle broker.CallbackHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.nodeSubs {
		if sub.handle == handle {
			b.nodeSubs = append(b.nodeSubs[:i], b.nodeSubs[i+1:]...)
			return
		}
	}
	for i, sub := range b.sessionSubs {
		if sub.handle == handle {
			b.sessionSubs = append(b.sessionSubs[:i], b.sessionSubs[i+1:]...)
			return
		}
	}
}

// Shutdown implements broker.Broker, waiting up to 30s for in-flight
// callback goroutines to finish.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.nodeSubs = nil
	b.sessionSubs = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return errors.New("broker: shutdown timed out waiting for in-flight callbacks")
	case <-ctx.Done():
		return ctx.Err()
	}
}
