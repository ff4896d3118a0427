package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelia/mycelia/codec"
	"github.com/mycelia/mycelia/core"
)

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Encode(v)
	require.NoError(t, err)
	return data
}

func TestCreateNode_RootWithNoDependenciesIsReady(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID, graphID := uuid.New(), uuid.New()
	ready, err := s.CreateNode(ctx,
		core.CreatedNode{ID: graphID, GraphID: graphID, HandlerName: "sum"},
		&core.CreatedGraph{ID: graphID, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestCreateNode_DataDependencyBlocksReadiness(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	depGraphID, nodeID := uuid.New(), uuid.New()

	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: depGraphID, GraphID: depGraphID, HandlerName: "rand"},
		&core.CreatedGraph{ID: depGraphID, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: nodeID, GraphID: nodeID, HandlerName: "sum",
			Dependencies: []core.DependencyEdge{{GraphID: depGraphID, IsData: true, ArgKey: 0}},
		},
		&core.CreatedGraph{ID: nodeID, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestCreateNode_DependencyAlreadyCompletedFoldsIntoArguments(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	depGraphID, nodeID := uuid.New(), uuid.New()

	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: depGraphID, GraphID: depGraphID, HandlerName: "rand"},
		&core.CreatedGraph{ID: depGraphID, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	_, err = s.MarkGraphCompleted(ctx, depGraphID, encode(t, 7))
	require.NoError(t, err)

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: nodeID, GraphID: nodeID, HandlerName: "sum",
			Dependencies: []core.DependencyEdge{{GraphID: depGraphID, IsData: true, ArgKey: 0}},
		},
		&core.CreatedGraph{ID: nodeID, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	assert.True(t, ready, "dependency already completed at admission time must not be recorded as pending")

	started, err := s.StartNode(ctx, nodeID)
	require.NoError(t, err)
	var args map[int]any
	require.NoError(t, codec.Decode(started.Arguments, &args))
	assert.EqualValues(t, 7, args[0])
}

func TestMarkGraphCompleted_ReleasesReadyDependents(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	depGraphID, nodeID := uuid.New(), uuid.New()

	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: depGraphID, GraphID: depGraphID, HandlerName: "rand"},
		&core.CreatedGraph{ID: depGraphID, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: nodeID, GraphID: nodeID, HandlerName: "sum",
			BrokerParams: []byte("queue-a"),
			Dependencies: []core.DependencyEdge{{GraphID: depGraphID, IsData: true, ArgKey: 0}},
		},
		&core.CreatedGraph{ID: nodeID, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	require.False(t, ready)

	released, err := s.MarkGraphCompleted(ctx, depGraphID, encode(t, 42))
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, nodeID, released[0].ID)
	assert.Equal(t, sessionID, released[0].SessionID)
	assert.Equal(t, []byte("queue-a"), released[0].BrokerParams)
}

func TestMarkGraphCompleted_NonDataDependencyGatesWithoutSplicingArguments(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	a, b := uuid.New(), uuid.New()

	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: a, GraphID: a, HandlerName: "A"},
		&core.CreatedGraph{ID: a, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: b, GraphID: b, HandlerName: "B",
			Dependencies: []core.DependencyEdge{{GraphID: a, IsData: false}},
		},
		&core.CreatedGraph{ID: b, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	require.False(t, ready)

	released, err := s.MarkGraphCompleted(ctx, a, encode(t, 1))
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, b, released[0].ID)

	started, err := s.StartNode(ctx, b)
	require.NoError(t, err)
	var args map[int]any
	require.NoError(t, codec.Decode(started.Arguments, &args))
	assert.Empty(t, args, "ordering-only dependency must not populate arguments")
}

func TestCompleteNode_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID, rootID := uuid.New(), uuid.New()
	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: rootID, GraphID: rootID, HandlerName: "A"},
		&core.CreatedGraph{ID: rootID, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	first, err := s.CompleteNode(ctx, core.CompletedNode{ID: rootID, Result: encode(t, 1)})
	require.NoError(t, err)
	assert.Empty(t, first)

	second, err := s.CompleteNode(ctx, core.CompletedNode{ID: rootID, Result: encode(t, 2)})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestCompleteNode_UnknownNodeIsNotFound(t *testing.T) {
	s := New()
	_, err := s.CompleteNode(context.Background(), core.CompletedNode{ID: uuid.New()})
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
}

func TestLinkGraphs_PropagatesAlreadyCompletedDependency(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	dependency, dependent, downstream := uuid.New(), uuid.New(), uuid.New()

	for _, id := range []uuid.UUID{dependency, dependent} {
		_, err := s.CreateNode(ctx,
			core.CreatedNode{ID: id, GraphID: id, HandlerName: "h"},
			&core.CreatedGraph{ID: id, SessionID: sessionID},
			nil,
		)
		require.NoError(t, err)
	}

	_, err := s.MarkGraphCompleted(ctx, dependency, encode(t, "value"))
	require.NoError(t, err)

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: downstream, GraphID: downstream, HandlerName: "h",
			Dependencies: []core.DependencyEdge{{GraphID: dependent, IsData: true, ArgKey: 0}},
		},
		&core.CreatedGraph{ID: downstream, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	require.False(t, ready)

	released, cancelled, err := s.LinkGraphs(ctx, dependent, dependency)
	require.NoError(t, err)
	assert.Empty(t, cancelled)
	require.Len(t, released, 1)
	assert.Equal(t, downstream, released[0].ID)
}

func TestLinkGraphs_PropagatesAlreadyCancelledDependency(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	dependency, dependent := uuid.New(), uuid.New()

	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: dependency, GraphID: dependency, HandlerName: "h"},
		&core.CreatedGraph{ID: dependency, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)
	_, err = s.MarkGraphCancelled(ctx, dependency)
	require.NoError(t, err)

	_, err = s.CreateNode(ctx,
		core.CreatedNode{ID: dependent, GraphID: dependent, HandlerName: "h"},
		&core.CreatedGraph{ID: dependent, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)

	_, cancelled, err := s.LinkGraphs(ctx, dependent, dependency)
	require.NoError(t, err)
	assert.Contains(t, cancelled, dependent)
}

func TestLinkGraphs_RejectsConflictingBackEdge(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	dependency, a, b := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{dependency, a, b} {
		_, err := s.CreateNode(ctx,
			core.CreatedNode{ID: id, GraphID: id, HandlerName: "h"},
			&core.CreatedGraph{ID: id, SessionID: sessionID},
			nil,
		)
		require.NoError(t, err)
	}

	_, _, err := s.LinkGraphs(ctx, a, dependency)
	require.NoError(t, err)

	_, _, err = s.LinkGraphs(ctx, b, dependency)
	assert.ErrorIs(t, err, core.ErrBackEdgeConflict)
}

func TestCancelSession_CascadesToNonTerminalGraphsAndDependents(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID, root, child := uuid.New(), uuid.New(), uuid.New()
	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: root, GraphID: root, HandlerName: "A"},
		&core.CreatedGraph{ID: root, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	_, err = s.CreateNode(ctx,
		core.CreatedNode{
			ID: child, GraphID: child, HandlerName: "B",
			Dependencies: []core.DependencyEdge{{GraphID: root, IsData: false}},
		},
		&core.CreatedGraph{ID: child, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)

	require.NoError(t, s.CancelSession(ctx, sessionID))

	_, err = s.StartNode(ctx, root)
	assert.ErrorIs(t, err, core.ErrSessionCancelled)

	_, err = s.StartNode(ctx, child)
	assert.ErrorIs(t, err, core.ErrSessionCancelled)

	err = s.CancelSession(ctx, sessionID)
	assert.ErrorIs(t, err, core.ErrSessionCancelled)
}

func TestCancelSession_UnknownSessionIsNotFound(t *testing.T) {
	s := New()
	err := s.CancelSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestCancelSession_AllGraphsTerminalIsFinished(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID, root := uuid.New(), uuid.New()
	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: root, GraphID: root, HandlerName: "A"},
		&core.CreatedGraph{ID: root, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)
	_, err = s.MarkGraphCompleted(ctx, root, encode(t, 1))
	require.NoError(t, err)

	err = s.CancelSession(ctx, sessionID)
	assert.ErrorIs(t, err, core.ErrSessionFinished)
}

func TestStartNode_UnknownNodeIsNotFound(t *testing.T) {
	s := New()
	_, err := s.StartNode(context.Background(), uuid.New())
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
}

func TestDeduplication_GroupOfSameCallSharesOneDependencyEdge(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	randID, sumID := uuid.New(), uuid.New()

	_, err := s.CreateNode(ctx,
		core.CreatedNode{ID: randID, GraphID: randID, HandlerName: "rand"},
		&core.CreatedGraph{ID: randID, SessionID: sessionID},
		&core.CreatedSession{ID: sessionID},
	)
	require.NoError(t, err)

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: sumID, GraphID: sumID, HandlerName: "sum",
			Dependencies: []core.DependencyEdge{{GraphID: randID, IsData: true, ArgKey: 0}},
		},
		&core.CreatedGraph{ID: sumID, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	assert.False(t, ready)

	released, err := s.MarkGraphCompleted(ctx, randID, encode(t, 5))
	require.NoError(t, err)
	require.Len(t, released, 1, "one dependency edge must release sum exactly once")
}

// TestGroupFanIn_EachMemberOccupiesItsOwnPositionInTheArgumentTuple
// admits a sum node depending on three distinct Group members sharing
// one ArgKey, completes one dependency before admission and the other
// two after, and asserts the final argument tuple preserves each
// member's GroupIndex position rather than collapsing to one scalar.
func TestGroupFanIn_EachMemberOccupiesItsOwnPositionInTheArgumentTuple(t *testing.T) {
	ctx := context.Background()
	s := New()

	sessionID := uuid.New()
	a, b, c, sumID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	for _, id := range []uuid.UUID{a, b, c} {
		_, err := s.CreateNode(ctx,
			core.CreatedNode{ID: id, GraphID: id, HandlerName: "rand"},
			&core.CreatedGraph{ID: id, SessionID: sessionID},
			&core.CreatedSession{ID: sessionID},
		)
		require.NoError(t, err)
	}

	// a resolves before sum is even admitted; b and c resolve after.
	_, err := s.MarkGraphCompleted(ctx, a, encode(t, 2))
	require.NoError(t, err)

	// Arguments carries the same codec.DependencyRefs placeholder
	// encodeArguments would have produced at arg key 0, so storage knows
	// the group's arity (3) before any member resolves.
	placeholderArgs := encode(t, map[int]any{0: codec.DependencyRefs{a, b, c}})

	ready, err := s.CreateNode(ctx,
		core.CreatedNode{
			ID: sumID, GraphID: sumID, HandlerName: "sum", Arguments: placeholderArgs,
			Dependencies: []core.DependencyEdge{
				{GraphID: a, IsData: true, ArgKey: 0, GroupIndex: 1},
				{GraphID: b, IsData: true, ArgKey: 0, GroupIndex: 2},
				{GraphID: c, IsData: true, ArgKey: 0, GroupIndex: 3},
			},
		},
		&core.CreatedGraph{ID: sumID, SessionID: sessionID},
		nil,
	)
	require.NoError(t, err)
	assert.False(t, ready)

	released, err := s.MarkGraphCompleted(ctx, b, encode(t, 3))
	require.NoError(t, err)
	assert.Empty(t, released, "sum must still be blocked on c")

	released, err = s.MarkGraphCompleted(ctx, c, encode(t, 5))
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, sumID, released[0].ID)

	started, err := s.StartNode(ctx, sumID)
	require.NoError(t, err)
	var args map[int]any
	require.NoError(t, codec.Decode(started.Arguments, &args))
	tuple, ok := args[0].([]any)
	require.Truef(t, ok, "expected arg key 0 to decode as a positional tuple, got %T", args[0])
	require.Len(t, tuple, 3)
	assert.EqualValues(t, 2, tuple[0])
	assert.EqualValues(t, 3, tuple[1])
	assert.EqualValues(t, 5, tuple[2])
}
