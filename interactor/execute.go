package interactor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/callgraph"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/errors"
	"github.com/mycelia/mycelia/tracecontext"
)

// HandleEnqueued is the broker callback a worker registers per queue:
// it races executing id's node against the owning session being
// cancelled mid-flight, matching on_node_enqueued's
// asyncio.wait(FIRST_COMPLETED) over the session-cancelled event and
// the handler's own execution.
func (e *Engine) HandleEnqueued(ctx context.Context, enqueued core.EnqueuedNode, handler Handler) error {
	ev := e.sessionEvent(enqueued.SessionID)
	cancelled, unsubscribe := ev.Subscribe()
	defer func() {
		unsubscribe()
		e.pruneSessionEvent(enqueued.SessionID, ev)
	}()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.executeNode(execCtx, enqueued.ID, handler)
	}()

	select {
	case <-cancelled:
		cancel()
		<-done
		return nil
	case err := <-done:
		if err != nil {
			cancelErr := e.CancelSession(ctx, enqueued.SessionID)
			if cancelErr != nil && !errors.Is(cancelErr, core.ErrSessionCancelled) && !errors.Is(cancelErr, core.ErrSessionFinished) {
				e.Logger.Errorw("failed to cancel session after handler error",
					"session_id", enqueued.SessionID, "node_id", enqueued.ID, "error", cancelErr)
			}
			return err
		}
		return nil
	}
}

// executeNode starts id, invokes handler against its materialised
// arguments under id's propagated trace context and optional executor
// timeout, and interprets the outcome: paused leaves the node started,
// completed fans out readiness, spliced admits and links a fresh graph.
func (e *Engine) executeNode(ctx context.Context, id uuid.UUID, handler Handler) error {
	started, err := e.Storage.StartNode(ctx, id)
	if err != nil {
		return err
	}

	sc, err := tracecontext.FromBytes(started.GraphTraceContext)
	if err != nil {
		return err
	}
	ctx = tracecontext.Attach(ctx, sc)

	params, err := decodeExecutorParams(started.ExecutorParams)
	if err != nil {
		return err
	}
	if params.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	rc := RunContext{engine: e, NodeID: started.ID, GraphID: started.GraphID, SessionID: started.SessionID}
	outcome, err := handler.Execute(ctx, rc, started.Arguments)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.ErrExecutionTimeout
		}
		return err
	}

	switch outcome.kind {
	case outcomePaused:
		return nil
	case outcomeCompleted:
		return e.CompleteNode(ctx, core.CompletedNode{ID: started.ID, Result: outcome.result})
	case outcomeSpliced:
		return e.splice(ctx, started, outcome.call)
	default:
		return errors.Newf("interactor: unrecognised outcome kind %d", outcome.kind)
	}
}

// splice admits call's dependency tree as a brand-new graph under the
// node's own session and links it onto the currently-executing node's
// graph via LinkGraphs, so the node's eventual result is whatever the
// spliced graph resolves to. A call that transitively
// depends on the node currently executing would deadlock waiting on
// itself and is rejected as core.ErrCyclicSplice instead.
func (e *Engine) splice(ctx context.Context, started core.StartedNode, call callgraph.Caller) error {
	order := flatten(call)
	for _, desc := range order {
		if desc.ID == started.ID {
			return errors.Wrapf(core.ErrCyclicSplice, "node %s", started.ID)
		}
	}

	ready, err := e.admitTree(ctx, order, started.SessionID, false)
	if err != nil {
		return err
	}
	if err := e.publishReady(ctx, order, ready, started.SessionID); err != nil {
		return err
	}

	root := callgraph.Describe(call)
	linkedReady, cancelledIDs, err := e.Storage.LinkGraphs(ctx, started.GraphID, root.ID)
	if err != nil {
		return err
	}
	if len(cancelledIDs) > 0 {
		e.Logger.Infow("splice link resolved onto an already-cancelled graph",
			"node_id", started.ID, "graph_id", started.GraphID, "spliced_graph_id", root.ID,
			"cancelled_graph_count", len(cancelledIDs))
	}
	return e.publishReadyNodes(ctx, linkedReady)
}
