package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toolmem/toolmem/memory/errs"
	"github.com/toolmem/toolmem/memory/graph"
)

func TestStoreUpsertAndGetNode(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, "wf-1", "tool_result_TR-1", "first", `{"a":1}`))
	n, err := s.GetNode(ctx, "wf-1", "tool_result_TR-1")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, n.Content)

	_, err = s.GetNode(ctx, "wf-1", "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.GetNode(ctx, "other-workflow", "tool_result_TR-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStoreListNodesSortedByKey(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, "wf-1", "tool_result_TR-2", "", "{}"))
	require.NoError(t, s.UpsertNode(ctx, "wf-1", "tool_result_TR-1", "", "{}"))

	nodes, err := s.ListNodes(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, "tool_result_TR-1", nodes[0].Key)
	require.Equal(t, "tool_result_TR-2", nodes[1].Key)
}

func TestStoreDeleteNodeCascadesEdges(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, "wf-1", "tool_result_TR-1", "", "{}"))
	require.NoError(t, s.UpsertNode(ctx, "wf-1", "summary_TR-1", "", "{}"))
	require.NoError(t, s.UpsertEdge(ctx, "wf-1", graph.Edge{
		SourceKey: "tool_result_TR-1", TargetKey: "summary_TR-1", Relation: graph.RelationSummarizes,
	}))

	require.NoError(t, s.DeleteNode(ctx, "wf-1", "tool_result_TR-1", true))

	_, err := s.GetNode(ctx, "wf-1", "tool_result_TR-1")
	require.Error(t, err)

	nodes, err := s.ListNodes(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
}

func TestStoreResetWorkflow(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, "wf-1", "tool_result_TR-1", "", "{}"))
	require.NoError(t, s.ResetWorkflow(ctx, "wf-1"))

	nodes, err := s.ListNodes(ctx, "wf-1")
	require.NoError(t, err)
	require.Empty(t, nodes)
}
