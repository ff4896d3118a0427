package interactor

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/callgraph"
	"github.com/mycelia/mycelia/codec"
)

// Handler runs one node's business logic against its materialised
// arguments. Choosing the concrete Handler is worker.Pool's job, not
// the Engine's: the pool resolves it by queue name from its Registry,
// and the Engine only needs whichever Handler the caller resolved.
type Handler interface {
	Execute(ctx context.Context, rc RunContext, arguments []byte) (Outcome, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, rc RunContext, arguments []byte) (Outcome, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, rc RunContext, arguments []byte) (Outcome, error) {
	return f(ctx, rc, arguments)
}

// outcomeKind distinguishes the three ways a node's execution can end,
// mirroring __execute_node's three-way match on the handler's return
// value (None / CompletedNode / any other NodeCall).
type outcomeKind int

const (
	outcomePaused outcomeKind = iota
	outcomeCompleted
	outcomeSpliced
)

// Outcome is what a Handler hands back to the Engine: exactly one of
// paused (suspend until Resume or cancellation), completed with a
// result value, or spliced with a further call to admit and link in
// place of a result (the "call(...)" return case).
type Outcome struct {
	kind   outcomeKind
	result []byte
	call   callgraph.Caller
}

// Completed builds the outcome for a handler that finished with result,
// an already codec-encoded value.
func Completed(result []byte) Outcome {
	return Outcome{kind: outcomeCompleted, result: result}
}

// Paused builds the outcome for a handler suspending its node until an
// external Resume call or session cancellation.
func Paused() Outcome {
	return Outcome{kind: outcomePaused}
}

// Spliced builds the outcome for a handler whose result is itself
// another call graph: call is admitted as a new graph under the
// current session and linked back onto the currently-executing node's
// graph via LinkGraphs.
func Spliced(call callgraph.Caller) Outcome {
	return Outcome{kind: outcomeSpliced, call: call}
}

// RunContext is the minimal per-execution handle a Handler receives:
// enough to identify where it's running and to start a fresh,
// independent session (the original's RunContext.start_session). The
// original's run_concurrently overload set (admitting siblings into
// the caller's own graph without blocking for their results) has no
// single, arity-free Go expression and is not provided. Spliced takes
// one callgraph.Caller; a callgraph.Calls group is not a Caller and
// cannot be spliced directly.
type RunContext struct {
	engine *Engine

	NodeID    uuid.UUID
	GraphID   uuid.UUID
	SessionID uuid.UUID
}

// StartSession admits call as a brand-new session and graph, wholly
// independent of the node rc was handed to, and returns the new
// session's id.
func (rc RunContext) StartSession(ctx context.Context, call callgraph.Caller) (uuid.UUID, error) {
	return rc.engine.Orchestrate(ctx, call)
}

// ExecutorParams is the per-call executor configuration a Node can
// carry via callgraph.WithExecutorParams: currently just the optional
// per-node execution timeout from the execution supplement.
type ExecutorParams struct {
	// TimeoutMillis is the handler's wall-clock budget in milliseconds;
	// zero means no deadline is imposed beyond ctx's own.
	TimeoutMillis int64
}

// decodeExecutorParams decodes b into ExecutorParams, treating an empty
// payload as the zero value (no timeout).
func decodeExecutorParams(b []byte) (ExecutorParams, error) {
	var p ExecutorParams
	if len(b) == 0 {
		return p, nil
	}
	if err := codec.DecodeEntity(b, &p); err != nil {
		return ExecutorParams{}, err
	}
	return p, nil
}
