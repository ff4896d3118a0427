// Package memory is a reference Storage implementation over in-process
// maps, guarded by a single mutex. It is suitable for tests and
// single-process hosts; storage/postgres is the production backend
// with real row-level locking.
//
// Grounded on original_source/src/mycelia/services/storage/local.py's
// LocalStorage, rewritten from recursive cancellation fan-out to an
// explicit worklist to bound stack depth on a wide dependent-graph
// chain, and extended with the Session/pending_dependency_count
// bookkeeping that original_source left for a later milestone.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mycelia/mycelia/codec"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/storage"
)

var _ storage.Storage = (*Storage)(nil)

type graphRecord struct {
	id               uuid.UUID
	sessionID        uuid.UUID
	traceContext     []byte
	result           []byte
	resultSet        bool
	cancelled        bool
	dependentGraphID *uuid.UUID
	dependentNodeIDs map[uuid.UUID]struct{}
}

func (g *graphRecord) terminal() bool {
	return g.resultSet || g.cancelled
}

type nodeRecord struct {
	id             uuid.UUID
	graphID        uuid.UUID
	handlerName    string
	arguments      map[int]any
	pending        map[uuid.UUID]core.DependencyEdge // dependency graph id -> edge, unresolved only
	traceContext   []byte
	brokerParams   []byte
	executorParams []byte
	createdAt      time.Time
	startedAt      *time.Time
	finishedAt     *time.Time
}

// Storage is an in-memory Storage implementation.
type Storage struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*core.Session
	graphs   map[uuid.UUID]*graphRecord
	nodes    map[uuid.UUID]*nodeRecord
}

// New returns an empty in-memory store.
func New() *Storage {
	return &Storage{
		sessions: map[uuid.UUID]*core.Session{},
		graphs:   map[uuid.UUID]*graphRecord{},
		nodes:    map[uuid.UUID]*nodeRecord{},
	}
}

func idLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// CreateNode implements storage.Storage.
func (s *Storage) CreateNode(ctx context.Context, node core.CreatedNode, graph *core.CreatedGraph, session *core.CreatedSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session != nil {
		if _, exists := s.sessions[session.ID]; !exists {
			s.sessions[session.ID] = &core.Session{ID: session.ID}
		}
	}

	if graph != nil {
		if _, exists := s.graphs[graph.ID]; !exists {
			s.graphs[graph.ID] = &graphRecord{
				id:               graph.ID,
				sessionID:        graph.SessionID,
				traceContext:     graph.TraceContext,
				dependentNodeIDs: map[uuid.UUID]struct{}{},
			}
		}
	}

	if _, ok := s.graphs[node.GraphID]; !ok {
		return false, core.GraphNotFound(node.GraphID)
	}

	arguments := map[int]any{}
	if len(node.Arguments) > 0 {
		if err := codec.Decode(node.Arguments, &arguments); err != nil {
			return false, err
		}
	}

	// Dependency graphs are touched id-ascending (deadlock-avoidance
	// rule). A single store-wide mutex makes true lock ordering moot here,
	// but the sort keeps iteration order deterministic for tests and
	// mirrors the rule the Postgres backend enforces for real.
	edges := append([]core.DependencyEdge(nil), node.Dependencies...)
	sort.Slice(edges, func(i, j int) bool { return idLess(edges[i].GraphID, edges[j].GraphID) })

	pending := map[uuid.UUID]core.DependencyEdge{}
	for _, edge := range edges {
		depGraph, ok := s.graphs[edge.GraphID]
		if !ok {
			return false, core.GraphNotFound(edge.GraphID)
		}

		switch {
		case depGraph.cancelled:
			return false, core.SessionCancelled(depGraph.sessionID)
		case depGraph.resultSet:
			if edge.IsData {
				value, err := decodeAny(depGraph.result)
				if err != nil {
					return false, err
				}
				core.SpliceArgument(arguments, edge, value)
			}
		default:
			pending[edge.GraphID] = edge
		}
	}

	s.nodes[node.ID] = &nodeRecord{
		id:             node.ID,
		graphID:        node.GraphID,
		handlerName:    node.HandlerName,
		arguments:      arguments,
		pending:        pending,
		traceContext:   node.TraceContext,
		brokerParams:   node.BrokerParams,
		executorParams: node.ExecutorParams,
		createdAt:      time.Now(),
	}

	for graphID := range pending {
		s.graphs[graphID].dependentNodeIDs[node.ID] = struct{}{}
	}

	return len(pending) == 0, nil
}

// StartNode implements storage.Storage.
func (s *Storage) StartNode(ctx context.Context, id uuid.UUID) (core.StartedNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.nodes[id]
	if !ok {
		return core.StartedNode{}, core.NodeNotFound(id)
	}
	graph, ok := s.graphs[record.graphID]
	if !ok {
		return core.StartedNode{}, core.GraphNotFound(record.graphID)
	}
	if session, ok := s.sessions[graph.sessionID]; ok && session.IsCancelled() {
		return core.StartedNode{}, core.SessionCancelled(graph.sessionID)
	}

	now := time.Now()
	record.startedAt = &now

	encodedArgs, err := codec.Encode(record.arguments)
	if err != nil {
		return core.StartedNode{}, err
	}

	return core.StartedNode{
		ID:                record.id,
		GraphID:           record.graphID,
		SessionID:         graph.sessionID,
		Arguments:         encodedArgs,
		GraphTraceContext: graph.traceContext,
		ExecutorParams:    record.executorParams,
	}, nil
}

// CompleteNode implements storage.Storage.
func (s *Storage) CompleteNode(ctx context.Context, completed core.CompletedNode) ([]core.ReadyNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.nodes[completed.ID]
	if !ok {
		return nil, core.NodeNotFound(completed.ID)
	}
	now := time.Now()
	record.finishedAt = &now

	return s.markGraphCompletedLocked(record.graphID, completed.Result)
}

// CancelSession implements storage.Storage.
func (s *Storage) CancelSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return core.SessionNotFound(id)
	}
	if session.IsCancelled() {
		return core.SessionCancelled(id)
	}

	var nonTerminal []uuid.UUID
	for gid, g := range s.graphs {
		if g.sessionID == id && !g.terminal() {
			nonTerminal = append(nonTerminal, gid)
		}
	}
	if len(nonTerminal) == 0 {
		return core.SessionFinished(id)
	}

	now := time.Now()
	session.CancelledAt = &now

	for _, gid := range nonTerminal {
		s.markGraphCancelledLocked(gid)
	}
	return nil
}

// LinkGraphs implements storage.Storage.
func (s *Storage) LinkGraphs(ctx context.Context, dependent, dependency uuid.UUID) ([]core.ReadyNode, []uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depGraph, ok := s.graphs[dependency]
	if !ok {
		return nil, nil, core.GraphNotFound(dependency)
	}

	if depGraph.cancelled {
		return nil, s.markGraphCancelledLocked(dependent), nil
	}
	if depGraph.resultSet {
		ready, err := s.markGraphCompletedLocked(dependent, depGraph.result)
		return ready, nil, err
	}

	if depGraph.dependentGraphID != nil && *depGraph.dependentGraphID != dependent {
		return nil, nil, core.ErrBackEdgeConflict
	}
	depGraph.dependentGraphID = &dependent
	return nil, nil, nil
}

// MarkGraphCompleted implements storage.Storage.
func (s *Storage) MarkGraphCompleted(ctx context.Context, id uuid.UUID, result []byte) ([]core.ReadyNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markGraphCompletedLocked(id, result)
}

// MarkGraphCancelled implements storage.Storage.
func (s *Storage) MarkGraphCancelled(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markGraphCancelledLocked(id), nil
}

// markGraphCompletedLocked sets id's result on first write only: the
// second writer, including a literal retry of the same completion, is a
// no-op returning an empty fan-out. Releases dependents across the
// dependent_graph_id chain rooted at id.
func (s *Storage) markGraphCompletedLocked(id uuid.UUID, result []byte) ([]core.ReadyNode, error) {
	graph, ok := s.graphs[id]
	if !ok {
		return nil, core.GraphNotFound(id)
	}
	if graph.terminal() {
		return nil, nil
	}
	graph.result = result
	graph.resultSet = true

	value, err := decodeAny(result)
	if err != nil {
		return nil, err
	}

	chain := s.dependentGraphChainLocked(id)

	var ready []core.ReadyNode
	for _, dependentID := range s.dependentNodeIDsLocked(chain) {
		record := s.nodes[dependentID]
		if !s.resolveEdgesLocked(record, chain, true, value) {
			continue
		}
		if len(record.pending) == 0 {
			owner := s.graphs[record.graphID]
			ready = append(ready, core.ReadyNode{
				ID:           record.id,
				SessionID:    owner.sessionID,
				BrokerParams: record.brokerParams,
				TraceContext: record.traceContext,
			})
		}
	}

	s.clearDependentsLocked(chain)
	return ready, nil
}

// markGraphCancelledLocked cancels id and every graph transitively
// reachable from it via dependent_graph_id or via a dependent node's own
// graph, using an explicit worklist instead of recursion.
func (s *Storage) markGraphCancelledLocked(id uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	worklist := []uuid.UUID{id}
	var order []uuid.UUID

	for len(worklist) > 0 {
		gid := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if _, visited := seen[gid]; visited {
			continue
		}
		seen[gid] = struct{}{}
		order = append(order, gid)

		graph, ok := s.graphs[gid]
		if !ok {
			continue
		}
		if !graph.terminal() {
			graph.cancelled = true
		}
		if graph.dependentGraphID != nil {
			worklist = append(worklist, *graph.dependentGraphID)
		}
		for nodeID := range graph.dependentNodeIDs {
			if record, ok := s.nodes[nodeID]; ok {
				worklist = append(worklist, record.graphID)
			}
		}
		graph.dependentNodeIDs = map[uuid.UUID]struct{}{}
	}
	return order
}

// dependentGraphChainLocked walks the dependent_graph_id back-edge chain
// starting at id, returning id followed by every graph it defers to.
func (s *Storage) dependentGraphChainLocked(id uuid.UUID) []uuid.UUID {
	chain := []uuid.UUID{id}
	cursor := id
	for {
		graph, ok := s.graphs[cursor]
		if !ok || graph.dependentGraphID == nil {
			return chain
		}
		cursor = *graph.dependentGraphID
		chain = append(chain, cursor)
	}
}

func (s *Storage) dependentNodeIDsLocked(chain []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for _, gid := range chain {
		graph, ok := s.graphs[gid]
		if !ok {
			continue
		}
		for nodeID := range graph.dependentNodeIDs {
			if _, ok := seen[nodeID]; ok {
				continue
			}
			seen[nodeID] = struct{}{}
			ids = append(ids, nodeID)
		}
	}
	return ids
}

// resolveEdgesLocked removes every edge in record.pending that targets a
// graph in chain, splicing value into record.arguments for data edges.
// A Group/Calls member (GroupIndex != core.NotGrouped) is accumulated
// into a positional tuple at its ArgKey alongside its sibling members
// rather than overwriting them; see core.SpliceArgument. Reports
// whether any edge was resolved.
func (s *Storage) resolveEdgesLocked(record *nodeRecord, chain []uuid.UUID, isData bool, value any) bool {
	resolved := false
	for _, gid := range chain {
		edge, ok := record.pending[gid]
		if !ok {
			continue
		}
		if isData && edge.IsData {
			core.SpliceArgument(record.arguments, edge, value)
		}
		delete(record.pending, gid)
		resolved = true
	}
	return resolved
}

func (s *Storage) clearDependentsLocked(chain []uuid.UUID) {
	for _, gid := range chain {
		if graph, ok := s.graphs[gid]; ok {
			graph.dependentNodeIDs = map[uuid.UUID]struct{}{}
		}
	}
}

func decodeAny(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value any
	if err := codec.Decode(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
