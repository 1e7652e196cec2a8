// Package coherence decides cache reuse (Preflight) and enforces
// write-driven freshness (post-write housekeeping). It composes
// memory/episode.Store with memory/fingerprint, serializing the two
// operations against each other per workflow via a lock.WorkflowLock so
// a preflight never observes a tombstoned episode as live.
package coherence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/toolmem/toolmem/memory/episode"
	"github.com/toolmem/toolmem/memory/errs"
	"github.com/toolmem/toolmem/memory/fingerprint"
	"github.com/toolmem/toolmem/memory/lock"
	"github.com/toolmem/toolmem/memory/lock/inproc"
	"github.com/toolmem/toolmem/memory/notify"
	"github.com/toolmem/toolmem/memory/telemetry"
	"github.com/toolmem/toolmem/memory/validate"
)

// inputValidator is the lazily compiled, process-wide Episode input
// schema validator shared by every Engine's AddEpisodeFromJSON: the
// schema is static, so compiling it once per process is sufficient.
var (
	inputValidatorOnce sync.Once
	inputValidator     *validate.EpisodeInputValidator
	inputValidatorErr  error
)

func loadInputValidator() (*validate.EpisodeInputValidator, error) {
	inputValidatorOnce.Do(func() {
		inputValidator, inputValidatorErr = validate.NewEpisodeInputValidator()
	})
	return inputValidator, inputValidatorErr
}

// Hit is the outcome of a successful Preflight: a cached episode may be
// reused in place of invoking the tool again.
type Hit struct {
	ToolID   string
	Rendered string
}

// SummaryGenerator synthesizes a Summary for an episode that doesn't have
// one yet. It is satisfied by summarizer.Adapter; Engine depends only on
// this narrow interface so coherence never imports a vendor SDK.
type SummaryGenerator interface {
	GenerateSummary(ctx context.Context, workflowID, toolID string) (*episode.Summary, error)
}

// Engine composes an episode.Store with the fingerprinter to implement
// cache reuse and write-driven invalidation.
type Engine struct {
	store      *episode.Store
	locks      lock.WorkflowLock
	bus        notify.Bus
	log        telemetry.Logger
	metric     telemetry.Metrics
	summarizer SummaryGenerator
}

// SetSummarizer wires a SummaryGenerator used by Compress to fill in
// missing per-episode summaries on demand. Optional: without one,
// Compress falls back to a placeholder line for episodes lacking a
// summary.
func (e *Engine) SetSummarizer(s SummaryGenerator) {
	e.summarizer = s
}

// New constructs an Engine. locks, bus, log, and metric may each be nil;
// an in-process lock, a no-op bus, a no-op logger, and no-op metrics are
// substituted respectively.
func New(store *episode.Store, locks lock.WorkflowLock, bus notify.Bus, log telemetry.Logger, metric telemetry.Metrics) *Engine {
	if locks == nil {
		locks = inproc.New()
	}
	if bus == nil {
		bus = notify.NewNoop()
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metric == nil {
		metric = telemetry.NewNoopMetrics()
	}
	return &Engine{store: store, locks: locks, bus: bus, log: log, metric: metric}
}

// AddEpisode persists the episode via the underlying Store and, if the
// action classifies as a write, runs post-write housekeeping for every
// resource it touches — the causal-order and per-workflow-serialization
// guarantees spec.md §5 requires between add_episode and its
// housekeeping.
func (e *Engine) AddEpisode(ctx context.Context, workflowID string, in episode.Input) (*episode.Episode, error) {
	unlock, err := e.locks.Lock(ctx, workflowID)
	if err != nil {
		return nil, errs.NewTransientBackendError("add_episode", err)
	}
	defer unlock()

	ep, err := e.store.AddEpisode(ctx, workflowID, in)
	if err != nil {
		return nil, err
	}
	e.metric.IncCounter(telemetry.EventEpisodeAdded, 1, "workflow_id", workflowID)

	if ep.Cache.OpType == "write" {
		for _, resourceID := range ep.Cache.ResourceIDs {
			if err := e.postWriteHousekeeping(ctx, workflowID, resourceID, ep.Timestamp); err != nil {
				return ep, err
			}
		}
	}
	return ep, nil
}

// jsonInput is the wire shape add_episode accepts from an external
// caller, matching the Episode input schema validate.EpisodeInputValidator
// enforces.
type jsonInput struct {
	Timestamp  time.Time          `json:"timestamp"`
	ActionType string             `json:"action_type"`
	Action     fingerprint.Action `json:"action"`
	Result     episode.Result     `json:"result"`
	Context    *episode.Context   `json:"context"`
}

// AddEpisodeFromJSON is the system boundary for add_episode: raw is
// validated against the Episode input schema before being decoded, so a
// malformed request is rejected as an *errs.ValidationError before it
// ever reaches the store. Internal callers that already hold a typed
// episode.Input should call AddEpisode directly.
func (e *Engine) AddEpisodeFromJSON(ctx context.Context, workflowID string, raw []byte) (*episode.Episode, error) {
	v, err := loadInputValidator()
	if err != nil {
		return nil, fmt.Errorf("coherence: load input validator: %w", err)
	}
	if err := v.Validate(raw); err != nil {
		return nil, err
	}

	var in jsonInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errs.NewValidationError("body", err.Error())
	}
	return e.AddEpisode(ctx, workflowID, episode.Input{
		Timestamp:  in.Timestamp,
		ActionType: in.ActionType,
		Action:     in.Action,
		Result:     in.Result,
		Context:    in.Context,
	})
}

// postWriteHousekeeping upserts the resource's last-write timestamp
// (monotonically, never decreasing) and tombstones every cached read
// episode that touches resourceID and predates the write.
func (e *Engine) postWriteHousekeeping(ctx context.Context, workflowID, resourceID string, writeTS time.Time) error {
	if existing, err := e.store.GetResource(ctx, workflowID, resourceID); err == nil {
		if existing.LastWriteTS.After(writeTS) {
			writeTS = existing.LastWriteTS
		}
	} else if !errs.IsNotFound(err) {
		return err
	}
	if err := e.store.UpsertResource(ctx, workflowID, resourceID, writeTS); err != nil {
		return err
	}

	episodes, err := e.store.ListEpisodes(ctx, workflowID)
	if err != nil {
		return err
	}

	purged := 0
	for _, ep := range episodes {
		if !fingerprint.ReadTypes[ep.ActionType] {
			continue
		}
		if ep.Status != "success" {
			continue
		}
		if !containsString(ep.Cache.ResourceIDs, resourceID) {
			continue
		}
		if !ep.Timestamp.IsZero() && !ep.Timestamp.Before(writeTS) {
			continue
		}
		if err := e.store.DeleteEpisode(ctx, workflowID, ep.ToolID); err != nil {
			return err
		}
		purged++
		e.metric.IncCounter(telemetry.EventEpisodeInvalidated, 1, "workflow_id", workflowID)
		e.bus.Publish(ctx, notify.Event{
			Kind:       notify.EventInvalidated,
			WorkflowID: workflowID,
			ToolID:     ep.ToolID,
			ResourceID: resourceID,
		})
	}
	if purged > 0 {
		e.log.Info(ctx, "purged stale cached reads", "workflow_id", workflowID, "resource_id", resourceID, "count", purged)
	}
	return nil
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// Preflight looks up a reusable cached result for actionType/action. It
// never returns an error for a cache miss — only for an empty workflowID
// or actionType (*errs.ValidationError), a lock failure, or a backend
// failure while reading episodes or resources; a miss is signaled by a
// nil *Hit.
func (e *Engine) Preflight(ctx context.Context, workflowID, actionType string, action fingerprint.Action) (*Hit, error) {
	if workflowID == "" {
		return nil, errs.NewValidationError("workflow_id", "must not be empty")
	}
	if actionType == "" {
		return nil, errs.NewValidationError("action_type", "must not be empty")
	}

	unlock, err := e.locks.Lock(ctx, workflowID)
	if err != nil {
		return nil, errs.NewTransientBackendError("preflight", err)
	}
	defer unlock()

	norm := fingerprint.Normalize(action)
	toolKey := fingerprint.ToolKey(actionType, norm)

	episodes, err := e.store.ListEpisodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var candidate *episode.Episode
	for _, ep := range episodes {
		if ep.ActionType != actionType || ep.Cache.ToolKey != toolKey || ep.Status != "success" {
			continue
		}
		if candidate == nil || ep.Timestamp.After(candidate.Timestamp) {
			candidate = ep
		}
	}
	if candidate == nil {
		e.metric.IncCounter(telemetry.EventPreflightMiss, 1, "workflow_id", workflowID)
		return nil, nil
	}

	resourceIDs := fingerprint.ExtractResourceIDs(actionType, norm)
	for _, resourceID := range resourceIDs {
		res, err := e.store.GetResource(ctx, workflowID, resourceID)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if res.LastWriteTS.After(candidate.Timestamp) {
			e.metric.IncCounter(telemetry.EventPreflightMiss, 1, "workflow_id", workflowID)
			return nil, nil
		}
	}

	rendered := e.renderHit(ctx, workflowID, candidate)
	e.metric.IncCounter(telemetry.EventPreflightHit, 1, "workflow_id", workflowID)
	return &Hit{ToolID: candidate.ToolID, Rendered: rendered}, nil
}

// renderHit builds the one-line reuse rendering, preferring a Summary
// with salient data, then the Summary text alone, then a generic
// fallback, wrapped in the "[REUSED TR-N] ... [FROM CACHE]" format.
func (e *Engine) renderHit(ctx context.Context, workflowID string, ep *episode.Episode) string {
	line := fmt.Sprintf("Reused prior result for %s", ep.ActionType)
	if sum, err := e.store.GetSummary(ctx, workflowID, ep.ToolID); err == nil {
		line = RenderSummaryLine(sum)
	}
	return fmt.Sprintf("[REUSED %s] %s [FROM CACHE]", ep.ToolID, line)
}

// RenderSummaryLine folds a Summary's salient data into its summary
// text, matching the original knowledge-graph service's
// retrieve_tool_result_with_salient_data rendering: a map renders as
// sorted "key: value" pairs with each value truncated to 50 characters,
// a string appends verbatim, and a list joins its elements untruncated.
func RenderSummaryLine(sum *episode.Summary) string {
	if sum.SalientData == nil {
		return sum.SummaryContent
	}
	switch v := sum.SalientData.(type) {
	case map[string]any:
		if len(v) == 0 {
			return sum.SummaryContent
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, truncate(fmt.Sprint(v[k]), 50)))
		}
		return fmt.Sprintf("%s (%s)", sum.SummaryContent, strings.Join(parts, ", "))
	case string:
		if strings.TrimSpace(v) == "" {
			return sum.SummaryContent
		}
		return fmt.Sprintf("%s (%s)", sum.SummaryContent, v)
	case []any:
		if len(v) == 0 {
			return sum.SummaryContent
		}
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return fmt.Sprintf("%s (%s)", sum.SummaryContent, strings.Join(parts, ", "))
	default:
		return sum.SummaryContent
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Compress builds a CompressionGroup from toolIDs, generating any missing
// per-episode summary on demand before concatenating them. group_key
// collisions are surfaced as errs.ErrGroupCollision (spec.md §9).
func (e *Engine) Compress(ctx context.Context, workflowID string, toolIDs []string) (*episode.CompressionGroup, error) {
	if len(toolIDs) == 0 {
		return nil, errs.NewValidationError("tool_ids", "must not be empty")
	}

	var parts []string
	for _, toolID := range toolIDs {
		sum, err := e.store.GetSummary(ctx, workflowID, toolID)
		if err != nil && !errs.IsNotFound(err) {
			return nil, err
		}
		if err != nil && e.summarizer != nil {
			sum, err = e.summarizer.GenerateSummary(ctx, workflowID, toolID)
		}
		if err != nil || sum == nil {
			parts = append(parts, fmt.Sprintf("[%s] summary not available", toolID))
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", toolID, sum.SummaryContent))
	}

	group := episode.CompressionGroup{
		ToolIDs:   toolIDs,
		Summary:   strings.Join(parts, " "),
		Timestamp: time.Now().UTC(),
	}
	if err := e.store.PutCompressionGroup(ctx, workflowID, group); err != nil {
		return nil, err
	}
	return &group, nil
}
