// Package wire defines the on-the-wire byte layout a production
// message-broker adapter (AMQP, NATS, ...) would publish and consume.
// No transport client ships in this module — AMQP is out of scope and
// no such client appears anywhere in the retrieval pack — so this
// package only proves the message bodies and routing parameters a
// future adapter needs, exercised here by round-trip tests against
// broker/memory's in-process delivery.
//
// Grounded on original_source/src/mycelia/services/broker/rabbitmq.py's
// RabbitMQBroker: a node-ready message body is the concatenation of the
// node id, session id and trace context bytes; a session-cancelled
// message body is just the session id's 16 raw bytes. RabbitMQBrokerParams
// (queue name, prefetch count, exclusivity, max/event priority) is
// reproduced as Params, encoded with codec.EncodeEntity the same way
// the original encodes it as a Codec Entity.
package wire

import (
	"github.com/google/uuid"

	"github.com/mycelia/mycelia/codec"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/errors"
)

const (
	nodeEnqueuedHeaderLen = 16 + 16 // node id + session id
)

// EncodeNodeEnqueued serialises node as node_id(16) || session_id(16) ||
// trace_context(n), matching RabbitMQBroker.publish_node_enqueued's
// message body layout exactly so a future AMQP adapter's wire format
// needs no translation layer of its own.
func EncodeNodeEnqueued(node core.EnqueuedNode) []byte {
	body := make([]byte, 0, nodeEnqueuedHeaderLen+len(node.TraceContext))
	idBytes, _ := node.ID.MarshalBinary()
	sessionBytes, _ := node.SessionID.MarshalBinary()
	body = append(body, idBytes...)
	body = append(body, sessionBytes...)
	body = append(body, node.TraceContext...)
	return body
}

// DecodeNodeEnqueued is the inverse of EncodeNodeEnqueued.
func DecodeNodeEnqueued(body []byte) (core.EnqueuedNode, error) {
	if len(body) < nodeEnqueuedHeaderLen {
		return core.EnqueuedNode{}, errors.Newf("wire: node-enqueued body too short: %d bytes", len(body))
	}
	id, err := uuid.FromBytes(body[:16])
	if err != nil {
		return core.EnqueuedNode{}, errors.Wrap(err, "wire: decode node id")
	}
	sessionID, err := uuid.FromBytes(body[16:32])
	if err != nil {
		return core.EnqueuedNode{}, errors.Wrap(err, "wire: decode session id")
	}
	var traceContext []byte
	if len(body) > nodeEnqueuedHeaderLen {
		traceContext = append([]byte(nil), body[32:]...)
	}
	return core.EnqueuedNode{ID: id, SessionID: sessionID, TraceContext: traceContext}, nil
}

// EncodeSessionCancelled serialises id as its 16 raw bytes, matching
// publish_session_cancelled's message body.
func EncodeSessionCancelled(id uuid.UUID) []byte {
	b, _ := id.MarshalBinary()
	return b
}

// DecodeSessionCancelled is the inverse of EncodeSessionCancelled.
func DecodeSessionCancelled(body []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(body)
	if err != nil {
		return uuid.UUID{}, errors.Wrap(err, "wire: decode session-cancelled body")
	}
	return id, nil
}

// Params is the routing/QoS configuration a queue-based broker adapter
// needs per subscription, reproducing RabbitMQBrokerParams: a durable,
// priority-capable queue bound with a bounded prefetch count.
type Params struct {
	QueueName          string
	QueuePrefetchCount int
	QueueIsExclusive   bool
	QueueMaxPriority   *int
	EventPriority      *int
}

// EncodeParams serialises p the way Entity.to_bytes encodes
// RabbitMQBrokerParams: field order is the wire key, so a renamed field
// never shifts another field's encoding.
func EncodeParams(p Params) ([]byte, error) {
	return codec.EncodeEntity(p)
}

// DecodeParams is the inverse of EncodeParams.
func DecodeParams(data []byte) (Params, error) {
	var p Params
	if err := codec.DecodeEntity(data, &p); err != nil {
		return Params{}, err
	}
	return p, nil
}
