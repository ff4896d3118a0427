package core

import (
	"github.com/google/uuid"

	"github.com/mycelia/mycelia/errors"
)

// Stable error surface. Callers should
// compare with errors.Is against these sentinels; wrapping preserves the
// identity check.
var (
	// ErrNodeNotFound is returned when an operation targets a node id
	// that storage has no row for.
	ErrNodeNotFound = errors.New("node not found")
	// ErrGraphNotFound is returned when an operation targets a graph id
	// that storage has no row for.
	ErrGraphNotFound = errors.New("graph not found")
	// ErrSessionNotFound is returned when an operation targets a
	// session id that storage has no row for.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCancelled is returned when an operation would mutate a
	// session that has already transitioned to cancelled.
	ErrSessionCancelled = errors.New("session cancelled")
	// ErrSessionFinished is returned when cancelling a session whose
	// graphs are all already terminal.
	ErrSessionFinished = errors.New("session finished")
	// ErrCyclicSplice is returned when a handler's returned NodeCall
	// would transitively depend on the node currently executing.
	ErrCyclicSplice = errors.New("splice would form a dependency cycle")
	// ErrBackEdgeConflict is returned by link_graphs when a graph's
	// dependent_graph_id is already set to a different graph.
	ErrBackEdgeConflict = errors.New("graph already has a different dependent graph")
	// ErrExecutionTimeout is returned when a handler is cancelled because
	// its per-node executor timeout expired before it returned, distinct
	// from an ordinary handler-raised error so a worker can tell "ran out
	// of time" apart from "the handler itself failed".
	ErrExecutionTimeout = errors.New("node execution exceeded its timeout")
)

// NodeNotFound wraps ErrNodeNotFound with the offending id.
func NodeNotFound(id uuid.UUID) error {
	return errors.Wrapf(ErrNodeNotFound, "node %s", id)
}

// GraphNotFound wraps ErrGraphNotFound with the offending id.
func GraphNotFound(id uuid.UUID) error {
	return errors.Wrapf(ErrGraphNotFound, "graph %s", id)
}

// SessionNotFound wraps ErrSessionNotFound with the offending id.
func SessionNotFound(id uuid.UUID) error {
	return errors.Wrapf(ErrSessionNotFound, "session %s", id)
}

// SessionCancelled wraps ErrSessionCancelled with the offending id.
func SessionCancelled(id uuid.UUID) error {
	return errors.Wrapf(ErrSessionCancelled, "session %s", id)
}

// SessionFinished wraps ErrSessionFinished with the offending id.
func SessionFinished(id uuid.UUID) error {
	return errors.Wrapf(ErrSessionFinished, "session %s", id)
}
