package interactor

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/callgraph"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/tracecontext"
)

// frame is one level of the iterative post-order walk used to flatten a
// call's dependency tree into admission order (dependencies strictly
// before dependents). Recursion would mirror invoke_node's structure
// more directly, but an explicit worklist keeps an arbitrarily deep
// call graph from exhausting the goroutine stack.
type frame struct {
	desc   callgraph.Descriptor
	depIdx int
}

// flatten walks root's full dependency tree (root included) and returns
// every reachable Descriptor in dependency-first order, each appearing
// exactly once even if reached through more than one path — mirroring
// invoke_node's dedup-by-id context map.
func flatten(root callgraph.Caller) []callgraph.Descriptor {
	visited := map[uuid.UUID]bool{}
	var order []callgraph.Descriptor

	rootDesc := callgraph.Describe(root)
	stack := []frame{{desc: rootDesc}}
	visited[rootDesc.ID] = true

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.depIdx < len(top.desc.Dependencies) {
			dep := top.desc.Dependencies[top.depIdx]
			top.depIdx++
			depDesc := callgraph.Describe(dep)
			if visited[depDesc.ID] {
				continue
			}
			visited[depDesc.ID] = true
			stack = append(stack, frame{desc: depDesc})
			continue
		}
		order = append(order, top.desc)
		stack = stack[:len(stack)-1]
	}
	return order
}

// buildEdges returns the full dependency-edge set for desc: its data
// dependencies as recorded, plus one ordering-only edge (ArgKey 0, per
// the "only meaningful when IsData" contract) for every dependency not
// already represented as a data edge. desc.Dependencies is the merged
// superset NodeCall.addDependency accumulates from both Then and
// argument-discovered edges, so this is a set-difference by graph id,
// not a fresh walk.
func buildEdges(desc callgraph.Descriptor) []core.DependencyEdge {
	edges := append([]core.DependencyEdge(nil), desc.DataDependencies...)

	dataIDs := make(map[uuid.UUID]bool, len(desc.DataDependencies))
	for _, e := range desc.DataDependencies {
		dataIDs[e.GraphID] = true
	}
	for _, dep := range desc.Dependencies {
		id := callgraph.Describe(dep).ID
		if dataIDs[id] {
			continue
		}
		edges = append(edges, core.DependencyEdge{GraphID: id, IsData: false, ArgKey: 0})
	}
	return edges
}

// admitTree admits every descriptor in order as its own graph root
// under sessionID (creating the session row only on firstSession),
// returning the ids that came back immediately ready. Each descriptor
// becomes graph_id == node_id: a call reached as a dependency is
// independently schedulable, not folded into its dependent's graph.
func (e *Engine) admitTree(ctx context.Context, order []callgraph.Descriptor, sessionID uuid.UUID, firstSession bool) ([]uuid.UUID, error) {
	trace := tracecontext.ToBytes(tracecontext.Current(ctx))

	var ready []uuid.UUID
	for i, desc := range order {
		var session *core.CreatedSession
		if firstSession && i == 0 {
			session = &core.CreatedSession{ID: sessionID}
		}
		graph := &core.CreatedGraph{ID: desc.ID, SessionID: sessionID, TraceContext: trace}
		node := core.CreatedNode{
			ID:             desc.ID,
			GraphID:        desc.ID,
			HandlerName:    desc.Handler,
			Arguments:      desc.Arguments,
			Dependencies:   buildEdges(desc),
			TraceContext:   trace,
			BrokerParams:   desc.BrokerParams,
			ExecutorParams: desc.ExecutorParams,
		}
		isReady, err := e.Storage.CreateNode(ctx, node, graph, session)
		if err != nil {
			return nil, err
		}
		if isReady {
			ready = append(ready, desc.ID)
		}
	}
	return ready, nil
}

// Orchestrate admits call's entire dependency tree as a fresh session:
// every descriptor in the flattened order becomes its own graph, and
// any immediately-ready nodes (no pending dependencies) are
// published to the broker so a worker can pick them up. Mirrors
// invoke_node's top-level entry (is_first_node defaulting true) fanned
// out over the whole tree instead of one node at a time.
func (e *Engine) Orchestrate(ctx context.Context, call callgraph.Caller) (uuid.UUID, error) {
	sessionID := uuid.New()
	order := flatten(call)

	ready, err := e.admitTree(ctx, order, sessionID, true)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.publishReady(ctx, order, ready, sessionID); err != nil {
		return uuid.Nil, err
	}
	return sessionID, nil
}

// publishReady looks up each ready id's broker params among the
// just-admitted descriptors and publishes a "node enqueued" message for
// it.
func (e *Engine) publishReady(ctx context.Context, order []callgraph.Descriptor, readyIDs []uuid.UUID, sessionID uuid.UUID) error {
	if len(readyIDs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]callgraph.Descriptor, len(order))
	for _, d := range order {
		byID[d.ID] = d
	}
	trace := tracecontext.ToBytes(tracecontext.Current(ctx))
	for _, id := range readyIDs {
		desc := byID[id]
		enqueued := core.EnqueuedNode{ID: id, SessionID: sessionID, TraceContext: trace}
		if err := e.Broker.PublishNodeEnqueued(ctx, desc.BrokerParams, enqueued); err != nil {
			return err
		}
	}
	return nil
}
