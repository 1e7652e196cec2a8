// Package summarizer generates compact summaries and salient-data extracts
// for stored episodes, on top of a pluggable completion Provider.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/toolmem/toolmem/memory/episode"
	"github.com/toolmem/toolmem/memory/errs"
	"github.com/toolmem/toolmem/memory/telemetry"
	"github.com/toolmem/toolmem/memory/tokenizer"
)

// SystemPrompt instructs the model to describe a tool execution concisely
// and extract any data worth keeping around after the full result is
// dropped from context.
const SystemPrompt = `You summarize the result of a single tool execution for an agent's working memory.

Given the tool's action and result, respond with a JSON object of exactly this shape:
{"summary": "one or two sentences describing what happened and the outcome", "salient_data": <object, string, or null>}

Rules:
- summary must mention success or failure and the concrete outcome, not just the action name.
- salient_data holds anything worth keeping after the full output is discarded: file paths, resource ids, ARNs, URLs, counts. Use an object for structured data, a string for a short unstructured fact, or null when nothing is worth keeping.
- Keep summary under 100 words. Do not include anything outside the JSON object.`

// Provider issues a single completion call given a system prompt and a
// user payload, returning the raw model text.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPayload string) (string, error)
}

// Options configures an Adapter.
type Options struct {
	// RatePerSecond caps outbound completion calls. Zero disables limiting.
	RatePerSecond float64
	// Burst is the limiter's burst size. Defaults to 1 when RatePerSecond
	// is set and Burst is zero.
	Burst int
}

// Adapter implements coherence.SummaryGenerator on top of a Provider and
// an episode.Store, matching the SummaryGenerator interface structurally
// so coherence need not import this package.
type Adapter struct {
	provider Provider
	store    *episode.Store
	tok      tokenizer.Tokenizer
	log      telemetry.Logger
	limiter  *rate.Limiter
}

// New constructs an Adapter. tok and log may be nil.
func New(provider Provider, store *episode.Store, tok tokenizer.Tokenizer, log telemetry.Logger, opts Options) *Adapter {
	if tok == nil {
		tok = tokenizer.NewHeuristic()
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return &Adapter{provider: provider, store: store, tok: tok, log: log, limiter: limiter}
}

type completionPayload struct {
	Summary     string `json:"summary"`
	SalientData any    `json:"salient_data"`
}

// GenerateSummary fetches the stored episode, asks the provider to
// summarize it, and persists the result. A provider or parse failure is
// never returned to the caller: it degrades to a placeholder summary so
// compression and dashboard rendering keep working.
func (a *Adapter) GenerateSummary(ctx context.Context, workflowID, toolID string) (*episode.Summary, error) {
	ep, err := a.store.GetEpisode(ctx, workflowID, toolID)
	if err != nil {
		return nil, fmt.Errorf("summarizer: load episode %s: %w", toolID, err)
	}

	summaryText, salientData := a.complete(ctx, ep)

	countSrc := summaryText
	switch v := salientData.(type) {
	case nil:
	case string:
		countSrc += v
	default:
		if data, err := json.Marshal(v); err == nil {
			countSrc += string(data)
		}
	}

	summary := episode.Summary{
		ToolID:         toolID,
		SummaryContent: summaryText,
		SalientData:    salientData,
		TokenCount:     a.tok.Count(countSrc),
		Timestamp:      time.Now().UTC(),
	}
	if err := a.store.PutSummary(ctx, workflowID, summary); err != nil {
		return nil, fmt.Errorf("summarizer: store summary for %s: %w", toolID, err)
	}
	a.log.Info(ctx, "summary generated", "workflow_id", workflowID, "tool_id", toolID)
	return &summary, nil
}

func (a *Adapter) complete(ctx context.Context, ep *episode.Episode) (string, any) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Sprintf("Summary generation failed: %s", err), nil
		}
	}

	payload, err := json.Marshal(map[string]any{
		"action_type": ep.ActionType,
		"action":      ep.Action,
		"result":      ep.Result,
		"context":     ep.Context,
	})
	if err != nil {
		return fmt.Sprintf("Summary generation failed: %s", err), nil
	}

	raw, err := a.provider.Complete(ctx, SystemPrompt, string(payload))
	if err != nil {
		return fmt.Sprintf("Summary generation failed: %s", err), nil
	}

	parsed, err := extractJSONObject(raw)
	if err != nil {
		perr := errs.NewSummarizerParseError(raw, err)
		return fmt.Sprintf("Summary generation failed: %s", perr), nil
	}
	return parsed.Summary, parsed.SalientData
}

// extractJSONObject tolerates a response wrapped in prose or markdown
// fences by locating the outermost {...} span before decoding.
func extractJSONObject(raw string) (completionPayload, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return completionPayload{}, errors.New("no JSON object found in completion")
	}
	var out completionPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return completionPayload{}, fmt.Errorf("decode completion: %w", err)
	}
	return out, nil
}
