package coherence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/toolmem/toolmem/memory/episode"
	"github.com/toolmem/toolmem/memory/fingerprint"
	"github.com/toolmem/toolmem/memory/graph/inmem"
)

func newTestEngine() *Engine {
	store := episode.NewStore(inmem.New(), nil, nil)
	return New(store, nil, nil, nil, nil)
}

// Scenario 1: duplicate read hits and renders "[REUSED TR-1]".
func TestScenarioDuplicateReadHits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	action := fingerprint.Action{"command": "aws s3 ls --recursive s3://B"}
	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "execute_command", Action: action,
		Result: episode.Result{Status: "success", Output: "…"}, Timestamp: time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)

	hit, err := e.Preflight(ctx, "wf-1", "execute_command", action)
	require.NoError(t, err)
	require.NotNil(t, hit)
	require.Equal(t, "TR-1", hit.ToolID)
	require.Contains(t, hit.Rendered, "[REUSED TR-1]")
}

// Scenario 2: read then write then read invalidates.
func TestScenarioWriteInvalidatesPriorRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	readAction := fingerprint.Action{"file_path": "app/database.py"}
	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents", Action: readAction,
		Result: episode.Result{Status: "success", Output: "…"}, Timestamp: time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)

	_, err = e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "create_file", Action: fingerprint.Action{"file_path": "app/database.py"},
		Result: episode.Result{Status: "success"}, Timestamp: time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)

	hit, err := e.Preflight(ctx, "wf-1", "read_file_contents", readAction)
	require.NoError(t, err)
	require.Nil(t, hit)

	_, err = e.store.GetEpisode(ctx, "wf-1", "TR-1")
	require.Error(t, err)
}

// Scenario 3: unrelated write does not invalidate.
func TestScenarioUnrelatedWriteDoesNotInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	readAction := fingerprint.Action{"file_path": "app/a.py"}
	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents", Action: readAction,
		Result: episode.Result{Status: "success"}, Timestamp: time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)

	_, err = e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "create_file", Action: fingerprint.Action{"file_path": "app/b.py"},
		Result: episode.Result{Status: "success"}, Timestamp: time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)

	hit, err := e.Preflight(ctx, "wf-1", "read_file_contents", readAction)
	require.NoError(t, err)
	require.NotNil(t, hit)
	require.Equal(t, "TR-1", hit.ToolID)
}

// Scenario 4: normalization collapse — file order doesn't change tool_key.
func TestScenarioNormalizationCollapse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "modify_code", Action: fingerprint.Action{"files": []any{"b", "a"}},
		Result: episode.Result{Status: "success"}, Timestamp: time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)

	hit, err := e.Preflight(ctx, "wf-1", "modify_code", fingerprint.Action{"files": []any{"a", "b"}})
	require.NoError(t, err)
	require.NotNil(t, hit)
}

// Scenario 6: an error-status episode is never a preflight hit.
func TestScenarioErrorStatusNeverHits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	action := fingerprint.Action{"file_path": "a.txt"}
	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents", Action: action,
		Result: episode.Result{Status: "error", Error: "boom"}, Timestamp: time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)

	hit, err := e.Preflight(ctx, "wf-1", "read_file_contents", action)
	require.NoError(t, err)
	require.Nil(t, hit)
}

func TestPreflightDedupCorrectnessReturnsLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	action := fingerprint.Action{"file_path": "a.txt"}
	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents", Action: action,
		Result: episode.Result{Status: "success"}, Timestamp: time.Unix(1, 0).UTC(),
	})
	require.NoError(t, err)
	_, err = e.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents", Action: action,
		Result: episode.Result{Status: "success"}, Timestamp: time.Unix(2, 0).UTC(),
	})
	require.NoError(t, err)

	hit, err := e.Preflight(ctx, "wf-1", "read_file_contents", action)
	require.NoError(t, err)
	require.Equal(t, "TR-2", hit.ToolID)
}

func TestCompressGroupKeyCollisionIsCallerError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine()

	_, err := e.AddEpisode(ctx, "wf-1", episode.Input{ActionType: "read_file_contents", Result: episode.Result{Status: "success"}})
	require.NoError(t, err)
	_, err = e.AddEpisode(ctx, "wf-1", episode.Input{ActionType: "read_file_contents", Result: episode.Result{Status: "success"}})
	require.NoError(t, err)

	_, err = e.Compress(ctx, "wf-1", []string{"TR-1", "TR-2"})
	require.NoError(t, err)

	group := episode.CompressionGroup{GroupKey: "TR-1-TR-2", ToolIDs: []string{"TR-1"}, Summary: "different"}
	err = e.store.PutCompressionGroup(ctx, "wf-1", group)
	require.Error(t, err)
}
