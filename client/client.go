// Package client is the thin, synchronous-looking facade a caller
// submits work through: Submit admits a call graph and returns its
// session id, Resume answers a paused node, and Cancel tears a session
// down. It owns no state of its own — every method is a direct
// delegation to an interactor.Engine.
//
// Grounded on pulse/async/queue.go's Queue facade (Enqueue/PauseJob/
// ResumeJob/FailJob as the one place callers touch the job system
// without reaching into the store or the worker pool directly).
package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/callgraph"
	"github.com/mycelia/mycelia/interactor"
)

// Client is the entry point a caller submitting work holds onto. It
// wraps an *interactor.Engine the same way Queue wraps a *Store: all
// the locking and atomicity live one layer down, this layer only
// shapes the calling convention.
type Client struct {
	engine *interactor.Engine
}

// New returns a Client backed by engine.
func New(engine *interactor.Engine) *Client {
	return &Client{engine: engine}
}

// Submit admits call as a new session's root graph and publishes
// whichever of its nodes have no pending dependencies, returning the
// new session id.
func (c *Client) Submit(ctx context.Context, call callgraph.Caller) (uuid.UUID, error) {
	return c.engine.Orchestrate(ctx, call)
}

// Resume answers a node left paused by its handler with value, the
// codec-encoded result the handler was waiting on, fanning out to
// whichever dependents that completion releases.
func (c *Client) Resume(ctx context.Context, nodeID uuid.UUID, value []byte) error {
	return c.engine.Resume(ctx, nodeID, value)
}

// Cancel cancels every non-terminal graph in session and notifies any
// in-flight executions racing the session's cancellation event.
func (c *Client) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	return c.engine.CancelSession(ctx, sessionID)
}
