package summarizer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolmem/toolmem/memory/episode"
	"github.com/toolmem/toolmem/memory/graph/inmem"
)

type fakeProvider struct {
	response string
	err      error
}

func (f fakeProvider) Complete(context.Context, string, string) (string, error) {
	return f.response, f.err
}

func newTestStore() *episode.Store {
	return episode.NewStore(inmem.New(), nil, nil)
}

func TestGenerateSummaryParsesStructuredSalientData(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ep, err := store.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "execute_command",
		Action:     map[string]any{"command": "aws iam list-groups-for-user"},
		Result:     episode.Result{Status: "success", Output: "..."},
	})
	require.NoError(t, err)

	provider := fakeProvider{response: `{"summary": "Listed IAM groups.", "salient_data": {"GroupName": "Admins"}}`}
	adapter := New(provider, store, nil, nil, Options{})

	sum, err := adapter.GenerateSummary(ctx, "wf-1", ep.ToolID)
	require.NoError(t, err)
	require.Equal(t, "Listed IAM groups.", sum.SummaryContent)
	require.Equal(t, map[string]any{"GroupName": "Admins"}, sum.SalientData)
	require.Positive(t, sum.TokenCount)

	stored, err := store.GetSummary(ctx, "wf-1", ep.ToolID)
	require.NoError(t, err)
	require.Equal(t, sum.SummaryContent, stored.SummaryContent)
}

func TestGenerateSummaryToleratesProseWrappedJSON(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ep, err := store.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents",
		Action:     map[string]any{"file_path": "a.txt"},
		Result:     episode.Result{Status: "success"},
	})
	require.NoError(t, err)

	provider := fakeProvider{response: "Here you go:\n```json\n{\"summary\": \"Read a.txt.\", \"salient_data\": null}\n```"}
	adapter := New(provider, store, nil, nil, Options{})

	sum, err := adapter.GenerateSummary(ctx, "wf-1", ep.ToolID)
	require.NoError(t, err)
	require.Equal(t, "Read a.txt.", sum.SummaryContent)
	require.Nil(t, sum.SalientData)
}

func TestGenerateSummaryDegradesOnProviderError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ep, err := store.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents",
		Result:     episode.Result{Status: "success"},
	})
	require.NoError(t, err)

	adapter := New(fakeProvider{err: fmt.Errorf("provider unavailable")}, store, nil, nil, Options{})

	sum, err := adapter.GenerateSummary(ctx, "wf-1", ep.ToolID)
	require.NoError(t, err)
	require.Contains(t, sum.SummaryContent, "Summary generation failed")
	require.Nil(t, sum.SalientData)
}

func TestGenerateSummaryDegradesOnUnparseableResponse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ep, err := store.AddEpisode(ctx, "wf-1", episode.Input{
		ActionType: "read_file_contents",
		Result:     episode.Result{Status: "success"},
	})
	require.NoError(t, err)

	adapter := New(fakeProvider{response: "no json here"}, store, nil, nil, Options{})

	sum, err := adapter.GenerateSummary(ctx, "wf-1", ep.ToolID)
	require.NoError(t, err)
	require.Contains(t, sum.SummaryContent, "Summary generation failed")
}
