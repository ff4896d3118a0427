package callgraph

import (
	"github.com/google/uuid"

	"github.com/mycelia/mycelia/core"
)

// callRecord is the type-erased representation of a NodeCall. Go has no
// direct equivalent of the original NodeCall's fully dynamic dependency
// set (a set of NodeCall objects carrying arbitrary, distinct result
// types); callRecord plays that role so a dedup map keyed by id and a
// dependency set can hold calls of differing Result types side by side
// — exactly what the original's untyped `set[NodeCall]` does via duck
// typing.
type callRecord struct {
	id               uuid.UUID
	handler          string
	arguments        []byte
	dataDependencies []core.DependencyEdge
	// dependencies is the merged set of every distinct call this one
	// depends on, whether discovered as a Then ordering edge or as a
	// data dependency inside arguments — the walk set the interactor
	// needs to admit dependencies before the dependent.
	dependencies   map[uuid.UUID]*callRecord
	storageParams  []byte
	brokerParams   []byte
	executorParams []byte
}

func (r *callRecord) addDependency(dep *callRecord) {
	r.dependencies[dep.id] = dep
}

// Caller is implemented by anything that can be depended on: a single
// NodeCall. Calls (a group) is deliberately not a Caller — a group is
// only ever valid as a fan-in argument value or as the left-hand side of
// Then, never as a single dependency edge's target.
type Caller interface {
	record() *callRecord
}

// recordCaller recovers a Caller handle from a bare *callRecord, used
// internally whenever a dependency needs to be exposed back out through
// the Caller interface (e.g. in a Descriptor) without knowing its
// original Result type.
type recordCaller struct{ rec *callRecord }

func (r recordCaller) record() *callRecord { return r.rec }

// NodeCall is one pending invocation of a Node, carrying a builder-
// assigned identifier, its encoded arguments, and the dependency edges
// discovered within them. Constructing NodeCall `c` once and reusing it
// in multiple positions is safe: every use shares the same id, so the
// interactor's dedup map admits it exactly once.
type NodeCall[Result any] struct {
	*callRecord
}

// ID returns the identifier assigned at construction. It doubles as the
// graph id once this call is admitted as a graph root.
func (c *NodeCall[Result]) ID() uuid.UUID { return c.id }

func (c *NodeCall[Result]) record() *callRecord { return c.callRecord }

// Calls is a fan-out group: either the result of Then with more than one
// callee, or an explicit Group. As an argument field it becomes a
// positional tuple data dependency (codec.DependencyRefs); on its own it
// is just an ordered list of independent calls.
type Calls []Caller

// IDs returns the identifiers of every call in the group, in order.
func (cs Calls) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(cs))
	for i, c := range cs {
		ids[i] = c.record().id
	}
	return ids
}

// Descriptor is the exported, type-erased view of a NodeCall the
// interactor consumes to admit it: enough to write a CreatedNode and to
// recurse into its dependency set before admitting the call itself.
type Descriptor struct {
	ID                  uuid.UUID
	Handler             string
	Arguments           []byte
	DataDependencies    []core.DependencyEdge
	Dependencies        []Caller
	StorageParams       []byte
	BrokerParams        []byte
	ExecutorParams      []byte
}

// Describe exposes c's admission-relevant state without requiring the
// caller to know c's Result type.
func Describe(c Caller) Descriptor {
	rec := c.record()
	deps := make([]Caller, 0, len(rec.dependencies))
	for _, dep := range rec.dependencies {
		deps = append(deps, recordCaller{dep})
	}
	return Descriptor{
		ID:               rec.id,
		Handler:          rec.handler,
		Arguments:        rec.arguments,
		DataDependencies: append([]core.DependencyEdge(nil), rec.dataDependencies...),
		Dependencies:     deps,
		StorageParams:    rec.storageParams,
		BrokerParams:     rec.brokerParams,
		ExecutorParams:   rec.executorParams,
	}
}
