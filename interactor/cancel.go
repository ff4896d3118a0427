package interactor

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/core"
)

// CancelSession cancels id's session in storage, then broadcasts the
// cancellation so every in-flight HandleEnqueued racing against it
// wakes up and abandons its execution. Matches cancel_session: storage
// first, broker second, so a subscriber woken by the broadcast always
// observes the session as already cancelled if it re-checks.
func (e *Engine) CancelSession(ctx context.Context, id uuid.UUID) error {
	if err := e.Storage.CancelSession(ctx, id); err != nil {
		return err
	}
	if err := e.Broker.PublishSessionCancelled(ctx, id); err != nil {
		return err
	}
	return nil
}

// HandleSessionCancelled is the broker.SessionCancelledCallback that
// fires the shared per-session event every HandleEnqueued call for that
// session is racing against. For a session with no currently-subscribed
// executions, sessionEvent creates the event and it is set anyway, so
// any execution that subscribes moments later sees the firing, matching
// on_session_cancelled's "set the event unconditionally" behaviour.
func (e *Engine) HandleSessionCancelled(ctx context.Context, id uuid.UUID) {
	e.sessionEvent(id).Set()
}

// Resume supplies the paused result of nodeID's node and re-enters the
// completion fan-out. The original's resume(session_id, value) takes
// only a session id because its storage model pairs one paused node
// per session at a time; this one takes the node id directly since
// storage.CompleteNode already operates on a node id (which determines
// the owning graph), and a session may have more than one node paused
// concurrently.
func (e *Engine) Resume(ctx context.Context, nodeID uuid.UUID, value []byte) error {
	return e.CompleteNode(ctx, core.CompletedNode{ID: nodeID, Result: value})
}
