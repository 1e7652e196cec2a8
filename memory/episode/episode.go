// Package episode persists and enumerates episodes, summaries,
// compression groups, and resources atop a graph.Backend. The store is a
// thin contract: it does not decide cache reuse or trigger invalidation
// itself (memory/coherence composes Store with the fingerprinter to do
// that) — see Store.AddEpisode for the one exception, tool_id allocation,
// which must live here because it is the only state the backend owns
// that every caller needs serialized access to.
package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toolmem/toolmem/memory/errs"
	"github.com/toolmem/toolmem/memory/fingerprint"
	"github.com/toolmem/toolmem/memory/graph"
	"github.com/toolmem/toolmem/memory/telemetry"
	"github.com/toolmem/toolmem/memory/tokenizer"
)

// Result is the outcome of a tool invocation.
type Result struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Cache is the fingerprinter-derived metadata attached to every episode.
type Cache struct {
	ToolKey     string   `json:"tool_key"`
	ResourceIDs []string `json:"resource_ids"`
	OpType      string   `json:"op_type"`
}

// Context carries the optional agent reasoning/description supplied at
// invocation time; consumed as extra context by the summarizer.
type Context struct {
	Reasoning   string `json:"reasoning,omitempty"`
	Description string `json:"description,omitempty"`
}

// Episode is one persisted record of a tool invocation.
type Episode struct {
	ToolID     string             `json:"tool_id"`
	ActionType string             `json:"action_type"`
	Action     fingerprint.Action `json:"action"`
	Result     Result             `json:"result"`
	Timestamp  time.Time          `json:"timestamp"`
	TokenCount int                `json:"token_count"`
	Status     string             `json:"status"`
	Cache      Cache              `json:"cache"`
	Context    *Context           `json:"context,omitempty"`
}

// Summary is the zero-or-one LLM-produced description of an episode.
type Summary struct {
	ToolID         string    `json:"tool_id"`
	SummaryContent string    `json:"summary_content"`
	SalientData    any       `json:"salient_data,omitempty"`
	TokenCount     int       `json:"token_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// CompressionGroup is an explicit grouping of episodes collapsed together
// in the dashboard.
type CompressionGroup struct {
	GroupKey  string    `json:"group_key"`
	ToolIDs   []string  `json:"tool_ids"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// Resource tracks the most recent write timestamp observed against a
// resource id.
type Resource struct {
	ResourceID  string    `json:"resource_id"`
	LastWriteTS time.Time `json:"last_write_ts"`
}

// Input is the episode input schema consumed by AddEpisode.
type Input struct {
	Timestamp  time.Time
	ActionType string
	Action     fingerprint.Action
	Result     Result
	Context    *Context
}

const (
	nodePrefixTool    = "tool_result_"
	nodePrefixSummary = "summary_"
	nodePrefixGroup   = "compression_"
)

// Store persists episodes, summaries, compression groups, and resources
// on top of a graph.Backend.
type Store struct {
	backend graph.Backend
	tok     tokenizer.Tokenizer
	log     telemetry.Logger

	mu       sync.Mutex
	counters map[string]int64
}

// NewStore constructs a Store. tok and log may be nil; a heuristic
// tokenizer and a no-op logger are substituted respectively.
func NewStore(backend graph.Backend, tok tokenizer.Tokenizer, log telemetry.Logger) *Store {
	if tok == nil {
		tok = tokenizer.NewHeuristic()
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Store{backend: backend, tok: tok, log: log, counters: make(map[string]int64)}
}

// nextCounter allocates the next tool_id for workflowID, recovering the
// current maximum from the backend on first use for that workflow and
// falling back to zero if the scan fails (original behavior: a recovery
// failure logs a warning rather than blocking startup).
func (s *Store) nextCounter(ctx context.Context, workflowID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[workflowID]; !ok {
		max, err := s.scanMaxCounter(ctx, workflowID)
		if err != nil {
			s.log.Warn(ctx, "could not determine next tool counter, starting from zero", "workflow_id", workflowID, "error", err)
			max = 0
		}
		s.counters[workflowID] = max
	}
	s.counters[workflowID]++
	return s.counters[workflowID], nil
}

func (s *Store) scanMaxCounter(ctx context.Context, workflowID string) (int64, error) {
	nodes, err := s.backend.ListNodes(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, n := range nodes {
		if !strings.HasPrefix(n.Key, nodePrefixTool) {
			continue
		}
		n, err := toolCounterFromKey(n.Key)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

func toolCounterFromKey(key string) (int64, error) {
	toolID := strings.TrimPrefix(key, nodePrefixTool)
	parts := strings.SplitN(toolID, "-", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed tool id %q", toolID)
	}
	return strconv.ParseInt(parts[1], 10, 64)
}

// AddEpisode allocates the next tool_id, normalizes action, computes the
// cache metadata (tool_key, resource_ids, op_type), and persists the
// episode. It does not run post-write housekeeping; callers that need
// write-driven invalidation go through coherence.Engine.AddEpisode, which
// composes this method with the housekeeping algorithm.
func (s *Store) AddEpisode(ctx context.Context, workflowID string, in Input) (*Episode, error) {
	if workflowID == "" {
		return nil, errs.NewValidationError("workflow_id", "must not be empty")
	}
	if in.ActionType == "" {
		return nil, errs.NewValidationError("action_type", "must not be empty")
	}
	if in.Result.Status != "success" && in.Result.Status != "error" {
		return nil, errs.NewValidationError("result.status", fmt.Sprintf("must be success or error, got %q", in.Result.Status))
	}

	n, err := s.nextCounter(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	toolID := fmt.Sprintf("TR-%d", n)

	norm := fingerprint.Normalize(in.Action)
	ep := &Episode{
		ToolID:     toolID,
		ActionType: in.ActionType,
		Action:     norm,
		Result:     in.Result,
		Timestamp:  in.Timestamp,
		Status:     in.Result.Status,
		Cache: Cache{
			ToolKey:     fingerprint.ToolKey(in.ActionType, norm),
			ResourceIDs: fingerprint.ExtractResourceIDs(in.ActionType, norm),
			OpType:      fingerprint.ClassifyOp(in.ActionType, norm),
		},
		Context: in.Context,
	}

	unsized, err := json.Marshal(ep)
	if err != nil {
		return nil, errs.NewValidationError("action", "action is not JSON-serializable")
	}
	ep.TokenCount = s.tok.Count(string(unsized))

	content, err := json.Marshal(ep)
	if err != nil {
		return nil, errs.NewValidationError("action", "action is not JSON-serializable")
	}
	summary := fmt.Sprintf("%s - %s", ep.ActionType, strings.ToUpper(ep.Status))
	if err := s.backend.UpsertNode(ctx, workflowID, nodePrefixTool+toolID, summary, string(content)); err != nil {
		return nil, errs.NewTransientBackendError("add_episode", err)
	}
	s.log.Info(ctx, "added episode", "workflow_id", workflowID, "tool_id", toolID, "op_type", ep.Cache.OpType)
	return ep, nil
}

// GetEpisode fetches the episode identified by toolID.
func (s *Store) GetEpisode(ctx context.Context, workflowID, toolID string) (*Episode, error) {
	node, err := s.backend.GetNode(ctx, workflowID, nodePrefixTool+toolID)
	if err != nil {
		return nil, err
	}
	var ep Episode
	if err := json.Unmarshal([]byte(node.Content), &ep); err != nil {
		return nil, errs.NewTransientBackendError("get_episode", err)
	}
	return &ep, nil
}

// ListEpisodes returns every episode in workflowID, sorted by ascending
// tool_id N.
func (s *Store) ListEpisodes(ctx context.Context, workflowID string) ([]*Episode, error) {
	nodes, err := s.backend.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, errs.NewTransientBackendError("list_episodes", err)
	}
	var out []*Episode
	for _, n := range nodes {
		if !strings.HasPrefix(n.Key, nodePrefixTool) {
			continue
		}
		var ep Episode
		if err := json.Unmarshal([]byte(n.Content), &ep); err != nil {
			continue
		}
		out = append(out, &ep)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := toolCounterFromKey(nodePrefixTool + out[i].ToolID)
		nj, _ := toolCounterFromKey(nodePrefixTool + out[j].ToolID)
		return ni < nj
	})
	return out, nil
}

// DeleteEpisode removes the episode identified by toolID and cascades to
// its Summary, if any.
func (s *Store) DeleteEpisode(ctx context.Context, workflowID, toolID string) error {
	if err := s.DeleteSummary(ctx, workflowID, toolID); err != nil && !errs.IsNotFound(err) {
		return err
	}
	if err := s.backend.DeleteNode(ctx, workflowID, nodePrefixTool+toolID, true); err != nil {
		return errs.NewTransientBackendError("delete_episode", err)
	}
	return nil
}

// PutSummary upserts the summary node and its SUMMARIZES edge from the
// episode. Calling PutSummary twice for the same tool_id replaces the
// prior summary in place (Property P6).
func (s *Store) PutSummary(ctx context.Context, workflowID string, sum Summary) error {
	content, err := json.Marshal(sum)
	if err != nil {
		return errs.NewValidationError("summary", "not JSON-serializable")
	}
	if err := s.backend.UpsertNode(ctx, workflowID, nodePrefixSummary+sum.ToolID, "summary "+sum.ToolID, string(content)); err != nil {
		return errs.NewTransientBackendError("put_summary", err)
	}
	edge := graph.Edge{
		SourceKey: nodePrefixTool + sum.ToolID,
		TargetKey: nodePrefixSummary + sum.ToolID,
		Relation:  graph.RelationSummarizes,
	}
	if err := s.backend.UpsertEdge(ctx, workflowID, edge); err != nil {
		return errs.NewTransientBackendError("put_summary", err)
	}
	return nil
}

// GetSummary fetches the summary for toolID.
func (s *Store) GetSummary(ctx context.Context, workflowID, toolID string) (*Summary, error) {
	node, err := s.backend.GetNode(ctx, workflowID, nodePrefixSummary+toolID)
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal([]byte(node.Content), &sum); err != nil {
		return nil, errs.NewTransientBackendError("get_summary", err)
	}
	return &sum, nil
}

// DeleteSummary removes the summary for toolID, if present.
func (s *Store) DeleteSummary(ctx context.Context, workflowID, toolID string) error {
	if err := s.backend.DeleteNode(ctx, workflowID, nodePrefixSummary+toolID, true); err != nil {
		return errs.NewTransientBackendError("delete_summary", err)
	}
	return nil
}

// PutCompressionGroup upserts the compression group and a COMPRESSES edge
// to every member episode. An empty group_key is derived from the ordered
// tool_ids; calling with a group_key that already names a different
// tool_ids set is a caller error (spec.md §9's preserved literal
// behavior), reported as errs.ErrGroupCollision.
func (s *Store) PutCompressionGroup(ctx context.Context, workflowID string, group CompressionGroup) error {
	if group.GroupKey == "" {
		group.GroupKey = strings.Join(group.ToolIDs, "-")
	}
	key := nodePrefixGroup + group.GroupKey
	if existing, err := s.backend.GetNode(ctx, workflowID, key); err == nil {
		var prior CompressionGroup
		if err := json.Unmarshal([]byte(existing.Content), &prior); err == nil {
			if !sameToolIDs(prior.ToolIDs, group.ToolIDs) {
				return errs.ErrGroupCollision
			}
		}
	}
	content, err := json.Marshal(group)
	if err != nil {
		return errs.NewValidationError("compression_group", "not JSON-serializable")
	}
	if err := s.backend.UpsertNode(ctx, workflowID, key, "compression group", string(content)); err != nil {
		return errs.NewTransientBackendError("put_compression_group", err)
	}
	for _, toolID := range group.ToolIDs {
		edge := graph.Edge{SourceKey: key, TargetKey: nodePrefixTool + toolID, Relation: graph.RelationCompresses}
		if err := s.backend.UpsertEdge(ctx, workflowID, edge); err != nil {
			return errs.NewTransientBackendError("put_compression_group", err)
		}
	}
	return nil
}

func sameToolIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UpsertResource records the most recent write timestamp observed against
// resourceID. Callers (coherence.Engine) are responsible for the
// monotonic-non-decreasing invariant; this method performs a plain
// upsert.
func (s *Store) UpsertResource(ctx context.Context, workflowID, resourceID string, lastWriteTS time.Time) error {
	res := Resource{ResourceID: resourceID, LastWriteTS: lastWriteTS}
	content, err := json.Marshal(res)
	if err != nil {
		return errs.NewValidationError("resource_id", "not JSON-serializable")
	}
	key := fingerprint.ResourceNodeID(resourceID)
	if err := s.backend.UpsertNode(ctx, workflowID, key, "resource "+resourceID, string(content)); err != nil {
		return errs.NewTransientBackendError("upsert_resource", err)
	}
	return nil
}

// GetResource fetches the last recorded write for resourceID, or
// errs.ErrNotFound if the resource has never been written.
func (s *Store) GetResource(ctx context.Context, workflowID, resourceID string) (*Resource, error) {
	node, err := s.backend.GetNode(ctx, workflowID, fingerprint.ResourceNodeID(resourceID))
	if err != nil {
		return nil, err
	}
	var res Resource
	if err := json.Unmarshal([]byte(node.Content), &res); err != nil {
		return nil, errs.NewTransientBackendError("get_resource", err)
	}
	return &res, nil
}

// ResetWorkflow wipes all nodes/edges for workflowID and resets its
// tool_id counter to zero.
func (s *Store) ResetWorkflow(ctx context.Context, workflowID string) error {
	if err := s.backend.ResetWorkflow(ctx, workflowID); err != nil {
		return errs.NewTransientBackendError("reset_workflow", err)
	}
	s.mu.Lock()
	delete(s.counters, workflowID)
	s.mu.Unlock()
	return nil
}
