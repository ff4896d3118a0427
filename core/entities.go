// Package core defines the data model of sessions, graphs, nodes and
// dependencies that the storage backends, broker and interactor share.
package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/codec"
)

// Session is the top-level isolation unit grouping one or more graphs.
// CancelledAt is monotonic: it transitions at most once from the zero
// time to a set timestamp.
type Session struct {
	ID          uuid.UUID  `json:"id"`
	Retention   time.Duration `json:"retention,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// IsCancelled reports whether the session has been cancelled.
func (s Session) IsCancelled() bool {
	return s.CancelledAt != nil
}

// Graph is one DAG rooted at a specific node; the graph's own ID equals
// the root node's ID. Result is nil until the graph becomes terminal.
type Graph struct {
	ID               uuid.UUID  `json:"id"`
	SessionID        uuid.UUID  `json:"session_id"`
	TraceContext     []byte     `json:"trace_context,omitempty"`
	Result           []byte     `json:"result,omitempty"`
	Cancelled        bool       `json:"cancelled,omitempty"`
	DependentGraphID *uuid.UUID `json:"dependent_graph_id,omitempty"`
}

// IsTerminal reports whether the graph has a result or was cancelled.
func (g Graph) IsTerminal() bool {
	return g.Result != nil || g.Cancelled
}

// Node is one unit of work: one handler invocation.
// PendingDependencyCount is the monotonically non-increasing count of
// dependencies (data and ordering-only alike) whose graphs have not yet
// produced a result; the node becomes ready when it reaches zero.
type Node struct {
	ID                     uuid.UUID  `json:"id"`
	GraphID                uuid.UUID  `json:"graph_id"`
	HandlerName            string     `json:"handler_name"`
	Arguments              []byte     `json:"arguments,omitempty"`
	TraceContext           []byte     `json:"trace_context,omitempty"`
	BrokerParams           []byte     `json:"broker_params,omitempty"`
	ExecutorParams         []byte     `json:"executor_params,omitempty"`
	PendingDependencyCount int        `json:"pending_dependency_count"`
	CreatedAt              time.Time  `json:"created_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	FinishedAt             *time.Time `json:"finished_at,omitempty"`
}

// IsReady reports whether all dependencies, data and ordering-only,
// have resolved.
func (n Node) IsReady() bool {
	return n.PendingDependencyCount == 0
}

// Dependency is a directed edge from a node to the graph it depends on.
// IsData means the dependent node's arguments must be populated with the
// dependency graph's result before execution; otherwise the edge only
// expresses ordering. (NodeID, GraphID) is the primary key.
type Dependency struct {
	NodeID  uuid.UUID `json:"node_id"`
	GraphID uuid.UUID `json:"graph_id"`
	IsData  bool      `json:"is_data"`
}

// CreatedSession is the payload for admitting a brand-new session.
type CreatedSession struct {
	ID uuid.UUID
}

// CreatedGraph is the payload for admitting a new graph root.
type CreatedGraph struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	TraceContext []byte
}

// NotGrouped is the GroupIndex zero value, meaning a data dependency is
// the sole occupant of its ArgKey (an ordinary, non-group Caller). It
// is the zero value on purpose: every DependencyEdge literal predating
// Group/Calls support left GroupIndex unset, and all of those must
// keep meaning "not grouped".
const NotGrouped = 0

// DependencyEdge is one entry of a CreatedNode's dependency set. ArgKey
// is only meaningful when IsData is true: it is the positional key (in
// the codec's declaration-index sense) at which the dependency
// graph's eventual result must be spliced into Arguments. GroupIndex
// distinguishes a plain single-Caller edge (NotGrouped) from one member
// of a Group/Calls fan-in sharing that same ArgKey: a 1-based position
// (1 for the first member, 2 for the second, ...) in the group's result
// tuple, so that the NotGrouped zero value never collides with a real
// member position.
type DependencyEdge struct {
	GraphID    uuid.UUID
	IsData     bool
	ArgKey     int
	GroupIndex int
}

// SpliceArgument writes value into arguments at edge's ArgKey, honoring
// GroupIndex: a NotGrouped edge assigns the scalar directly, while a
// grouped edge accumulates into a positional []any tuple alongside its
// sibling members, preserving whatever placeholder tuple the codec
// already decoded at that key (its length is the group's arity).
func SpliceArgument(arguments map[int]any, edge DependencyEdge, value any) {
	if edge.GroupIndex == NotGrouped {
		arguments[edge.ArgKey] = value
		return
	}

	tuple := groupTuple(arguments[edge.ArgKey])
	position := edge.GroupIndex - 1
	if position >= 0 && position < len(tuple) {
		tuple[position] = value
	}
	arguments[edge.ArgKey] = tuple
}

// groupTuple returns a mutable []any of a group's arity, seeded from
// whatever is already stored at the argument key: the codec's decoded
// DependencyRefs placeholder on first resolution, or a partially
// resolved []any on a later one.
func groupTuple(existing any) []any {
	switch v := existing.(type) {
	case []any:
		return v
	case codec.DependencyRefs:
		return make([]any, len(v))
	default:
		return nil
	}
}

// CreatedNode is the payload for admitting a node and its dependency
// edges in the same atomic batch as any CreatedSession/CreatedGraph.
// Arguments is a codec-encoded positional map (map[int]any) holding
// every argument already known at admission time; a key belonging to a
// data dependency holds the codec.DependencyRef (or, for a group,
// codec.DependencyRefs) placeholder until storage splices the result in.
type CreatedNode struct {
	ID             uuid.UUID
	GraphID        uuid.UUID
	HandlerName    string
	Arguments      []byte
	Dependencies   []DependencyEdge
	TraceContext   []byte
	BrokerParams   []byte
	ExecutorParams []byte
}

// ReadyNode is a node released by a completion fan-out, carrying enough
// information to publish a "node ready" broker message.
type ReadyNode struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	BrokerParams []byte
	TraceContext []byte
}

// StartedNode is the materialised view of a node handed to a worker at
// execution time: arguments with data-dependency results substituted in.
type StartedNode struct {
	ID                uuid.UUID
	GraphID           uuid.UUID
	SessionID         uuid.UUID
	Arguments         []byte
	GraphTraceContext []byte
	ExecutorParams    []byte
}

// CompletedNode is the payload handed to the completion fan-out.
type CompletedNode struct {
	ID     uuid.UUID
	Result []byte
}

// EnqueuedNode is the payload of a "node ready" broker message.
type EnqueuedNode struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	TraceContext []byte
}
