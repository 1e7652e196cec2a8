package coherence

import (
	"context"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/toolmem/toolmem/memory/episode"
	"github.com/toolmem/toolmem/memory/fingerprint"
)

// TestDedupCorrectnessProperty verifies Property P2 (dedup correctness):
// two successful episodes with the same (action_type, tool_key) and no
// intervening write touching their resources must hit on the later one.
func TestDedupCorrectnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("preflight returns the later of two identical successful episodes", prop.ForAll(
		func(filePath string, gapSeconds int) bool {
			ctx := context.Background()
			e := newTestEngine()
			action := fingerprint.Action{"file_path": filePath}

			first, err := e.AddEpisode(ctx, "wf-1", episode.Input{
				ActionType: "read_file_contents", Action: action,
				Result: episode.Result{Status: "success"}, Timestamp: time.Unix(1, 0).UTC(),
			})
			if err != nil || first == nil {
				return false
			}
			second, err := e.AddEpisode(ctx, "wf-1", episode.Input{
				ActionType: "read_file_contents", Action: action,
				Result: episode.Result{Status: "success"}, Timestamp: time.Unix(int64(1+gapSeconds+1), 0).UTC(),
			})
			if err != nil || second == nil {
				return false
			}

			hit, err := e.Preflight(ctx, "wf-1", "read_file_contents", action)
			if err != nil || hit == nil {
				return false
			}
			return hit.ToolID == second.ToolID
		},
		genNonEmptyAlphaString(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// TestWriteInvalidationProperty verifies Property P3 (write invalidation):
// a write touching resource r at t_w must invalidate any prior candidate
// whose timestamp predates t_w, deleting its Episode and Summary.
func TestWriteInvalidationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a write invalidates a prior read of the same resource", prop.ForAll(
		func(filePath string) bool {
			ctx := context.Background()
			e := newTestEngine()
			readAction := fingerprint.Action{"file_path": filePath}

			read, err := e.AddEpisode(ctx, "wf-1", episode.Input{
				ActionType: "read_file_contents", Action: readAction,
				Result: episode.Result{Status: "success"}, Timestamp: time.Unix(1, 0).UTC(),
			})
			if err != nil || read == nil {
				return false
			}
			if err := e.store.PutSummary(ctx, "wf-1", episode.Summary{ToolID: read.ToolID, SummaryContent: "s"}); err != nil {
				return false
			}

			_, err = e.AddEpisode(ctx, "wf-1", episode.Input{
				ActionType: "create_file", Action: fingerprint.Action{"file_path": filePath},
				Result: episode.Result{Status: "success"}, Timestamp: time.Unix(2, 0).UTC(),
			})
			if err != nil {
				return false
			}

			hit, err := e.Preflight(ctx, "wf-1", "read_file_contents", readAction)
			if err != nil || hit != nil {
				return false
			}
			if _, err := e.store.GetEpisode(ctx, "wf-1", read.ToolID); err == nil {
				return false
			}
			if _, err := e.store.GetSummary(ctx, "wf-1", read.ToolID); err == nil {
				return false
			}
			return true
		},
		genNonEmptyAlphaString(),
	))

	properties.TestingRun(t)
}

// TestMonotonicToolIDProperty verifies Property P4 (monotonic TR-N):
// across any sequence of add_episode calls, allocated ids form a
// contiguous ascending sequence beginning at TR-1.
func TestMonotonicToolIDProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("tool_id allocation is contiguous starting at TR-1", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			e := newTestEngine()
			for i := 1; i <= n; i++ {
				ep, err := e.AddEpisode(ctx, "wf-1", episode.Input{
					ActionType: "read_file_contents",
					Result:     episode.Result{Status: "success"},
				})
				if err != nil {
					return false
				}
				want := "TR-" + strconv.Itoa(i)
				if ep.ToolID != want {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

// TestSummaryIdempotenceProperty verifies Property P6: calling put_summary
// twice for the same tool_id leaves exactly one Summary node whose
// content reflects the second call.
func TestSummaryIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("put_summary is idempotent in identity, last-write-wins in content", prop.ForAll(
		func(first, second string) bool {
			ctx := context.Background()
			e := newTestEngine()
			ep, err := e.AddEpisode(ctx, "wf-1", episode.Input{ActionType: "read_file_contents", Result: episode.Result{Status: "success"}})
			if err != nil {
				return false
			}
			if err := e.store.PutSummary(ctx, "wf-1", episode.Summary{ToolID: ep.ToolID, SummaryContent: first}); err != nil {
				return false
			}
			if err := e.store.PutSummary(ctx, "wf-1", episode.Summary{ToolID: ep.ToolID, SummaryContent: second}); err != nil {
				return false
			}
			sum, err := e.store.GetSummary(ctx, "wf-1", ep.ToolID)
			if err != nil {
				return false
			}
			return sum.SummaryContent == second
		},
		genNonEmptyAlphaString(),
		genNonEmptyAlphaString(),
	))

	properties.TestingRun(t)
}

func genNonEmptyAlphaString() gopter.Gen {
	return gen.IntRange(1, 20).FlatMap(func(length any) gopter.Gen {
		return gen.SliceOfN(length.(int), gen.AlphaChar()).Map(func(chars []rune) string {
			return string(chars)
		})
	}, reflect.TypeOf(""))
}
