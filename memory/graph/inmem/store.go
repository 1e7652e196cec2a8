// Package inmem implements graph.Backend as a mutex-guarded map of
// workflows to node/edge maps, in the style of
// runtime/agent/session/inmem's clone-on-read store.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/toolmem/toolmem/memory/errs"
	"github.com/toolmem/toolmem/memory/graph"
)

type workflowState struct {
	nodes map[string]graph.Node
	edges []graph.Edge
}

// Store is an in-process graph.Backend. The zero value is not usable;
// construct with New.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*workflowState
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{workflows: make(map[string]*workflowState)}
}

func (s *Store) workflow(workflowID string) *workflowState {
	wf, ok := s.workflows[workflowID]
	if !ok {
		wf = &workflowState{nodes: make(map[string]graph.Node)}
		s.workflows[workflowID] = wf
	}
	return wf
}

// UpsertNode creates or replaces the node keyed key in workflowID.
func (s *Store) UpsertNode(_ context.Context, workflowID, key, summary, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf := s.workflow(workflowID)
	wf.nodes[key] = graph.Node{Key: key, Summary: summary, Content: content}
	return nil
}

// GetNode returns a clone of the node keyed key, or errs.ErrNotFound.
func (s *Store) GetNode(_ context.Context, workflowID, key string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	n, ok := wf.nodes[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	clone := n
	return &clone, nil
}

// ListNodes returns every node in workflowID, sorted by key for
// deterministic iteration order.
func (s *Store) ListNodes(_ context.Context, workflowID string) ([]*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	out := make([]*graph.Node, 0, len(wf.nodes))
	for _, n := range wf.nodes {
		clone := n
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteNode removes the node keyed key and any edge touching it.
func (s *Store) DeleteNode(_ context.Context, workflowID, key string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil
	}
	delete(wf.nodes, key)
	kept := wf.edges[:0]
	for _, e := range wf.edges {
		if e.SourceKey != key && e.TargetKey != key {
			kept = append(kept, e)
		}
	}
	wf.edges = kept
	return nil
}

// UpsertEdge appends edge, replacing any prior edge with the same
// (source, target, relation) triple.
func (s *Store) UpsertEdge(_ context.Context, workflowID string, edge graph.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf := s.workflow(workflowID)
	for i, e := range wf.edges {
		if e.SourceKey == edge.SourceKey && e.TargetKey == edge.TargetKey && e.Relation == edge.Relation {
			wf.edges[i] = edge
			return nil
		}
	}
	wf.edges = append(wf.edges, edge)
	return nil
}

// ResetWorkflow drops every node and edge for workflowID.
func (s *Store) ResetWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, workflowID)
	return nil
}
