// Package storage defines the durable-state contract: atomic
// admission, atomic completion fan-out, cancellation and the
// dependent-graph back-edge chain. Two implementations live in
// sub-packages: storage/memory (a reference implementation suitable
// for tests and single-process use) and storage/postgres (the
// production SQL backend with row-level locking).
//
// Grounded on original_source/src/mycelia/services/storage/interface.py.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/core"
)

// Storage is the durable-state interface every backend implements. All
// mutating operations are atomic with respect to the following invariants:
// a backend that creates a session/graph/node and its dependency edges
// must commit all of it as one unit, and complete_node's fan-out must
// be indivisible from the graph-result write that triggers it.
type Storage interface {
	// CreateNode admits a node, optionally also a new graph and/or a
	// new session, as a single atomic batch. graph is non-nil when
	// node is a graph root; session is non-nil on the very first
	// admission of the session. Dependency graphs already terminal at
	// admission time are not recorded as pending edges. Returns
	// whether the new node is immediately ready (no pending
	// dependencies, data or ordering-only).
	CreateNode(ctx context.Context, node core.CreatedNode, graph *core.CreatedGraph, session *core.CreatedSession) (ready bool, err error)

	// StartNode atomically sets started_at and returns the node's
	// materialised arguments (data-dependency results substituted in)
	// and its graph's trace context. Returns core.ErrNodeNotFound if no
	// row matched, or core.ErrSessionCancelled if the owning session was
	// already cancelled at read time.
	StartNode(ctx context.Context, id uuid.UUID) (core.StartedNode, error)

	// CompleteNode marks a node finished and, on the first writer to
	// reach a null graph result, decrements pending_dependency_count
	// for every dependent node and returns the ones that reached zero.
	// A second completion of an already-terminal graph marks the node
	// finished and returns an empty fan-out.
	// Returns core.ErrNodeNotFound if no row matched.
	CompleteNode(ctx context.Context, completed core.CompletedNode) ([]core.ReadyNode, error)

	// CancelSession atomically sets cancelled_at if unset and the
	// session still has a non-terminal graph. Returns nil on success,
	// core.ErrSessionNotFound / core.ErrSessionCancelled /
	// core.ErrSessionFinished otherwise.
	CancelSession(ctx context.Context, id uuid.UUID) error

	// LinkGraphs sets dependency's dependent_graph_id to dependent
	// (the dependent_graph_id back-edge), or, if dependency is already terminal,
	// propagates that terminal state immediately: returns the ready
	// nodes released (dependency was completed) or the cancelled graph
	// ids (dependency was cancelled), never both. Returns
	// core.ErrBackEdgeConflict if dependency already has a different
	// back-edge.
	LinkGraphs(ctx context.Context, dependent, dependency uuid.UUID) (ready []core.ReadyNode, cancelled []uuid.UUID, err error)

	// MarkGraphCompleted sets a graph's result (first-writer only, per
	// invariant 2) and returns the nodes released by that graph and,
	// transitively, by any graph chained to it via dependent_graph_id.
	MarkGraphCompleted(ctx context.Context, id uuid.UUID, result []byte) ([]core.ReadyNode, error)

	// MarkGraphCancelled marks a graph (and, transitively, every graph
	// reachable from it via dependent_graph_id or via a dependent
	// node's graph) cancelled, returning every cancelled graph id.
	MarkGraphCancelled(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}
