// Package broker defines the pub/sub contract: durable,
// per-queue "node ready" delivery and a per-worker "session cancelled"
// fanout. Only the contract and a reference implementation are in
// scope here — the production transport (AMQP, NATS, ...) is
// explicitly out of scope and absent from the entire retrieval
// pack, so no transport library ships in this module; broker/wire
// gives a production backend the exact bytes to put on the wire.
package broker

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/core"
)

// NodeEnqueuedCallback handles one delivered "node ready" message. The
// returned error causes the message to be acknowledged after logging
// (at-least-once delivery; retry is the caller's responsibility via
// storage state).
type NodeEnqueuedCallback func(ctx context.Context, node core.EnqueuedNode) error

// SessionCancelledCallback handles one delivered "session cancelled"
// broadcast.
type SessionCancelledCallback func(ctx context.Context, sessionID uuid.UUID)

// CallbackHandle identifies a registered callback for RemoveCallback.
type CallbackHandle uint64

// Broker is the pub/sub contract every transport implements.
type Broker interface {
	// PublishNodeEnqueued durably routes a "node ready" message using
	// params (opaque per-queue routing/priority bytes).
	PublishNodeEnqueued(ctx context.Context, params []byte, node core.EnqueuedNode) error

	// PublishSessionCancelled fans a cancellation out to every worker.
	PublishSessionCancelled(ctx context.Context, sessionID uuid.UUID) error

	// AddOnNodeEnqueuedCallback subscribes cb to "node ready" messages
	// routed with params.
	AddOnNodeEnqueuedCallback(params []byte, cb NodeEnqueuedCallback) CallbackHandle

	// AddOnSessionCancelledCallback subscribes cb to the cancellation
	// fanout, as a per-worker exclusive queue bound to that fanout in a
	// production transport.
	AddOnSessionCancelledCallback(cb SessionCancelledCallback) CallbackHandle

	// RemoveCallback unsubscribes a previously added callback.
	RemoveCallback(handle CallbackHandle)

	// Shutdown releases the broker's resources. Subsequent publishes
	// fail. The AddOn* methods return no error, so a callback added
	// after Shutdown is never invoked.
	Shutdown(ctx context.Context) error
}
