package postgres

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mycelia/mycelia/codec"
	"github.com/mycelia/mycelia/core"
	"github.com/mycelia/mycelia/errors"
	"github.com/mycelia/mycelia/storage"
)

var _ storage.Storage = (*Storage)(nil)

// Storage is the Postgres-backed storage.Storage implementation.
type Storage struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// New wraps an already-migrated *sql.DB. logger may be nil.
func New(db *sql.DB, logger *zap.SugaredLogger) *Storage {
	return &Storage{db: db, logger: logger}
}

func idLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CreateNode implements storage.Storage.
func (s *Storage) CreateNode(ctx context.Context, node core.CreatedNode, graph *core.CreatedGraph, session *core.CreatedSession) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin create_node tx")
	}
	defer tx.Rollback()

	if session != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, session.ID,
		); err != nil {
			return false, errors.Wrap(err, "insert session")
		}
	}

	if graph != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graphs (id, session_id, trace_context) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			graph.ID, graph.SessionID, graph.TraceContext,
		); err != nil {
			return false, errors.Wrap(err, "insert graph")
		}
	}

	// Dependency graphs are locked id-ascending to avoid
	// deadlocking against a concurrent admission that touches the same
	// graphs in a different order.
	edges := append([]core.DependencyEdge(nil), node.Dependencies...)
	sort.Slice(edges, func(i, j int) bool { return idLess(edges[i].GraphID, edges[j].GraphID) })

	arguments := map[int]any{}
	if len(node.Arguments) > 0 {
		if err := codec.Decode(node.Arguments, &arguments); err != nil {
			return false, err
		}
	}

	pending := make([]core.DependencyEdge, 0, len(edges))
	for _, edge := range edges {
		var result []byte
		var cancelled bool
		err := tx.QueryRowContext(ctx,
			`SELECT result, cancelled FROM graphs WHERE id = $1 FOR UPDATE`, edge.GraphID,
		).Scan(&result, &cancelled)
		if err == sql.ErrNoRows {
			return false, core.GraphNotFound(edge.GraphID)
		}
		if err != nil {
			return false, errors.Wrap(err, "lock dependency graph")
		}

		switch {
		case cancelled:
			return false, core.ErrSessionCancelled
		case result != nil:
			if edge.IsData {
				var value any
				if err := codec.Decode(result, &value); err != nil {
					return false, err
				}
				core.SpliceArgument(arguments, edge, value)
			}
		default:
			pending = append(pending, edge)
		}
	}

	encodedArgs, err := codec.Encode(arguments)
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, graph_id, handler_name, arguments, trace_context, broker_params, executor_params, pending_dependency_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		node.ID, node.GraphID, node.HandlerName, encodedArgs, node.TraceContext, node.BrokerParams, node.ExecutorParams, len(pending),
	); err != nil {
		return false, errors.Wrap(err, "insert node")
	}

	for _, edge := range pending {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dependencies (node_id, graph_id, is_data, arg_key, group_index) VALUES ($1, $2, $3, $4, $5)`,
			node.ID, edge.GraphID, edge.IsData, edge.ArgKey, edge.GroupIndex,
		); err != nil {
			return false, errors.Wrap(err, "insert dependency")
		}
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit create_node tx")
	}
	return len(pending) == 0, nil
}

// StartNode implements storage.Storage.
func (s *Storage) StartNode(ctx context.Context, id uuid.UUID) (core.StartedNode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StartedNode{}, errors.Wrap(err, "begin start_node tx")
	}
	defer tx.Rollback()

	var graphID, sessionID uuid.UUID
	var arguments, executorParams, graphTraceContext []byte
	err = tx.QueryRowContext(ctx,
		`UPDATE nodes SET started_at = now()
		 WHERE id = $1 AND started_at IS NULL
		 RETURNING graph_id, arguments, executor_params`, id,
	).Scan(&graphID, &arguments, &executorParams)
	if err == sql.ErrNoRows {
		return core.StartedNode{}, core.NodeNotFound(id)
	}
	if err != nil {
		return core.StartedNode{}, errors.Wrap(err, "start node")
	}

	var cancelledAt sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT s.id, s.cancelled_at, g.trace_context
		 FROM graphs g JOIN sessions s ON s.id = g.session_id
		 WHERE g.id = $1`, graphID,
	).Scan(&sessionID, &cancelledAt, &graphTraceContext); err != nil {
		return core.StartedNode{}, errors.Wrap(err, "load owning graph")
	}
	if cancelledAt.Valid {
		return core.StartedNode{}, core.SessionCancelled(sessionID)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT arg_key, group_index, resolved_graph_result(graph_id)
		 FROM dependencies WHERE node_id = $1 AND is_data = true`, id,
	)
	if err != nil {
		return core.StartedNode{}, errors.Wrap(err, "load data dependencies")
	}
	defer rows.Close()

	decodedArgs := map[int]any{}
	if len(arguments) > 0 {
		if err := codec.Decode(arguments, &decodedArgs); err != nil {
			return core.StartedNode{}, err
		}
	}
	for rows.Next() {
		var argKey, groupIndex int
		var result []byte
		if err := rows.Scan(&argKey, &groupIndex, &result); err != nil {
			return core.StartedNode{}, errors.Wrap(err, "scan data dependency")
		}
		if result == nil {
			continue
		}
		var value any
		if err := codec.Decode(result, &value); err != nil {
			return core.StartedNode{}, err
		}
		core.SpliceArgument(decodedArgs, core.DependencyEdge{ArgKey: argKey, GroupIndex: groupIndex}, value)
	}
	if err := rows.Err(); err != nil {
		return core.StartedNode{}, errors.Wrap(err, "iterate data dependencies")
	}

	encodedArgs, err := codec.Encode(decodedArgs)
	if err != nil {
		return core.StartedNode{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.StartedNode{}, errors.Wrap(err, "commit start_node tx")
	}

	return core.StartedNode{
		ID:                id,
		GraphID:           graphID,
		SessionID:         sessionID,
		Arguments:         encodedArgs,
		GraphTraceContext: graphTraceContext,
		ExecutorParams:    executorParams,
	}, nil
}

// CompleteNode implements storage.Storage, delegating the fan-out to the
// server-side complete_node function.
func (s *Storage) CompleteNode(ctx context.Context, completed core.CompletedNode) ([]core.ReadyNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ready_node_id, ready_session_id, ready_broker_params, ready_trace_context
		 FROM complete_node($1, $2)`, completed.ID, completed.Result,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == nodeNotFoundErrCode {
			return nil, core.NodeNotFound(completed.ID)
		}
		return nil, errors.Wrap(err, "complete_node")
	}
	defer rows.Close()

	var ready []core.ReadyNode
	for rows.Next() {
		var r core.ReadyNode
		if err := rows.Scan(&r.ID, &r.SessionID, &r.BrokerParams, &r.TraceContext); err != nil {
			return nil, errors.Wrap(err, "scan ready node")
		}
		ready = append(ready, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate ready nodes")
	}
	return ready, nil
}

// CancelSession implements storage.Storage.
func (s *Storage) CancelSession(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin cancel_session tx")
	}
	defer tx.Rollback()

	var cancelledAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT cancelled_at FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&cancelledAt)
	if err == sql.ErrNoRows {
		return core.SessionNotFound(id)
	}
	if err != nil {
		return errors.Wrap(err, "lock session")
	}
	if cancelledAt.Valid {
		return core.SessionCancelled(id)
	}

	var hasNonTerminal bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM graphs WHERE session_id = $1 AND result IS NULL AND NOT cancelled)`, id,
	).Scan(&hasNonTerminal); err != nil {
		return errors.Wrap(err, "check non-terminal graphs")
	}
	if !hasNonTerminal {
		return core.SessionFinished(id)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET cancelled_at = now() WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "cancel session")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE graphs SET cancelled = true WHERE session_id = $1 AND result IS NULL AND NOT cancelled`, id,
	); err != nil {
		return errors.Wrap(err, "cancel session graphs")
	}

	return errors.Wrap(tx.Commit(), "commit cancel_session tx")
}

// LinkGraphs implements storage.Storage.
func (s *Storage) LinkGraphs(ctx context.Context, dependent, dependency uuid.UUID) ([]core.ReadyNode, []uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin link_graphs tx")
	}
	defer tx.Rollback()

	var result []byte
	var cancelled bool
	var existingDependent uuid.NullUUID
	err = tx.QueryRowContext(ctx,
		`SELECT result, cancelled, dependent_graph_id FROM graphs WHERE id = $1 FOR UPDATE`, dependency,
	).Scan(&result, &cancelled, &existingDependent)
	if err == sql.ErrNoRows {
		return nil, nil, core.GraphNotFound(dependency)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "lock dependency graph")
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, "commit link_graphs read")
	}

	switch {
	case cancelled:
		cancelledIDs, err := s.MarkGraphCancelled(ctx, dependent)
		return nil, cancelledIDs, err
	case result != nil:
		ready, err := s.MarkGraphCompleted(ctx, dependent, result)
		return ready, nil, err
	}

	if existingDependent.Valid && existingDependent.UUID != dependent {
		return nil, nil, core.ErrBackEdgeConflict
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE graphs SET dependent_graph_id = $1 WHERE id = $2 AND dependent_graph_id IS NULL`, dependent, dependency,
	); err != nil {
		return nil, nil, errors.Wrap(err, "set dependent_graph_id")
	}
	return nil, nil, nil
}

// MarkGraphCompleted implements storage.Storage by driving complete_node
// against the graph's own root node, since graph id and root node id
// coincide.
func (s *Storage) MarkGraphCompleted(ctx context.Context, id uuid.UUID, result []byte) ([]core.ReadyNode, error) {
	return s.CompleteNode(ctx, core.CompletedNode{ID: id, Result: result})
}

// MarkGraphCancelled implements storage.Storage, cascading through
// dependent_graph_id and dependent nodes' own graphs with an explicit
// worklist rather than a recursive query.
func (s *Storage) MarkGraphCancelled(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin mark_graph_cancelled tx")
	}
	defer tx.Rollback()

	seen := map[uuid.UUID]struct{}{}
	worklist := []uuid.UUID{id}
	var order []uuid.UUID

	for len(worklist) > 0 {
		gid := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if _, ok := seen[gid]; ok {
			continue
		}
		seen[gid] = struct{}{}
		order = append(order, gid)

		var result []byte
		var dependentGraphID uuid.NullUUID
		err := tx.QueryRowContext(ctx,
			`UPDATE graphs SET cancelled = true
			 WHERE id = $1 AND result IS NULL AND NOT cancelled
			 RETURNING result, dependent_graph_id`, gid,
		).Scan(&result, &dependentGraphID)
		if err == sql.ErrNoRows {
			if err := tx.QueryRowContext(ctx,
				`SELECT result, dependent_graph_id FROM graphs WHERE id = $1`, gid,
			).Scan(&result, &dependentGraphID); err != nil {
				continue
			}
		} else if err != nil {
			return nil, errors.Wrap(err, "cancel graph")
		}
		if dependentGraphID.Valid {
			worklist = append(worklist, dependentGraphID.UUID)
		}

		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT n.graph_id FROM dependencies d JOIN nodes n ON n.id = d.node_id WHERE d.graph_id = $1`, gid)
		if err != nil {
			return nil, errors.Wrap(err, "load dependent graphs")
		}
		var dependentGraphIDs []uuid.UUID
		for rows.Next() {
			var dgid uuid.UUID
			if err := rows.Scan(&dgid); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scan dependent graph")
			}
			dependentGraphIDs = append(dependentGraphIDs, dgid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "iterate dependent graphs")
		}
		worklist = append(worklist, dependentGraphIDs...)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit mark_graph_cancelled tx")
	}
	return order, nil
}
