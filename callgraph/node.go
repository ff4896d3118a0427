// Package callgraph lets a client build a call-graph tree of NodeCalls
// prior to submission: Node[Args, Result] is a typed handler descriptor,
// Call constructs a NodeCall carrying a fresh id, its encoded
// arguments, and the dependency edges discovered in those arguments.
// Then/Group/Pause mirror the ordering and fan-in combinators.
//
// Grounded on dshills-langgraph-go/graph/node.go's generic
// Node[S]/NodeFunc[S] pattern, adapted from "one node type parameterized
// over shared workflow state" to "one node type parameterized over its
// argument and result types, producing a dependency-typed NodeCall", and
// on original_source/src/mycelia/interface/common.py's Node/NodeCall/
// NodeCalls/group/pause for the exact combinator semantics.
package callgraph

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/codec"
	"github.com/mycelia/mycelia/core"
)

// Node is a handler descriptor: the registry name the worker dispatches
// execution to, plus per-call storage/broker/executor parameter
// templates carried verbatim into every NodeCall it produces.
type Node[Args, Result any] struct {
	handler        string
	storageParams  []byte
	brokerParams   []byte
	executorParams []byte
}

// Option configures a Node at construction time.
type Option func(*nodeOptions)

type nodeOptions struct {
	storageParams  []byte
	brokerParams   []byte
	executorParams []byte
}

// WithStorageParams attaches opaque per-call storage routing bytes.
func WithStorageParams(b []byte) Option { return func(o *nodeOptions) { o.storageParams = b } }

// WithBrokerParams attaches opaque per-call broker routing bytes (queue
// name / priority).
func WithBrokerParams(b []byte) Option { return func(o *nodeOptions) { o.brokerParams = b } }

// WithExecutorParams attaches opaque per-call executor parameters (the
// execution supplement's per-call timeout override lives here).
func WithExecutorParams(b []byte) Option { return func(o *nodeOptions) { o.executorParams = b } }

// NewNode declares a handler by its registry name.
func NewNode[Args, Result any](handler string, opts ...Option) Node[Args, Result] {
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return Node[Args, Result]{
		handler:        handler,
		storageParams:  o.storageParams,
		brokerParams:   o.brokerParams,
		executorParams: o.executorParams,
	}
}

// Call constructs a NodeCall with a fresh identifier, encoding args into
// the wire format and recording a data dependency for every field that
// is itself a Caller (a NodeCall) or a Calls group — mirroring
// NodeCall.__init__'s argument normalisation in common.py.
func (n Node[Args, Result]) Call(args Args) *NodeCall[Result] {
	arguments, edges, refs := encodeArguments(args)
	rec := &callRecord{
		id:               uuid.New(),
		handler:          n.handler,
		arguments:        arguments,
		dataDependencies: edges,
		dependencies:     map[uuid.UUID]*callRecord{},
		storageParams:    n.storageParams,
		brokerParams:     n.brokerParams,
		executorParams:   n.executorParams,
	}
	for _, ref := range refs {
		rec.addDependency(ref.record())
	}
	return &NodeCall[Result]{callRecord: rec}
}

var callerType = reflect.TypeOf((*Caller)(nil)).Elem()

// encodeArguments walks args's exported fields by declaration index
// (matching codec.EncodeEntity's positional convention), replacing any
// field holding a Caller with an unresolved codec.DependencyRef and any
// field holding a Calls group with a codec.DependencyRefs tuple, and
// recording the corresponding data DependencyEdge for storage to splice
// a resolved value back into later. A Calls group's members all share
// one ArgKey (the field they're assigned to) but carry distinct
// GroupIndex values, so storage can accumulate their results into one
// positional tuple instead of overwriting each other.
func encodeArguments(args any) ([]byte, []core.DependencyEdge, []Caller) {
	rv := reflect.ValueOf(args)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, nil, nil
	}

	var edges []core.DependencyEdge
	var refs []Caller
	remapped := make(map[int]any, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Type().Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)

		if fv.Type().Implements(callerType) && !fv.IsNil() {
			caller := fv.Interface().(Caller)
			rec := caller.record()
			edges = append(edges, core.DependencyEdge{GraphID: rec.id, IsData: true, ArgKey: i, GroupIndex: core.NotGrouped})
			refs = append(refs, caller)
			remapped[i] = codec.DependencyRef(rec.id)
			continue
		}

		if calls, ok := fv.Interface().(Calls); ok {
			ids := make([]uuid.UUID, len(calls))
			for j, c := range calls {
				rec := c.record()
				ids[j] = rec.id
				edges = append(edges, core.DependencyEdge{GraphID: rec.id, IsData: true, ArgKey: i, GroupIndex: j + 1})
				refs = append(refs, c)
			}
			remapped[i] = codec.DependencyRefs(ids)
			continue
		}

		remapped[i] = fv.Interface()
	}

	data, err := codec.Encode(remapped)
	if err != nil {
		panic(err)
	}
	return data, edges, refs
}
