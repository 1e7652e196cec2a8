// Package graph defines the minimal keyed node/edge storage contract the
// episode store is built on. Two implementations exist: inmem (tests,
// demos, single-process deployments) and mongo (durable multi-process
// deployments). Neither the episode store nor anything above it imports
// a storage driver directly.
package graph

import "context"

// Node is a single persisted record scoped to a workflow. Content holds
// the JSON-serialized payload (an episode, summary, compression group, or
// resource record); Summary is a short human-readable label used by
// backends that want it for debugging or search indexing.
type Node struct {
	Key     string
	Summary string
	Content string
}

// Edge links two nodes within the same workflow. Relation is one of the
// fixed relation tags this module uses ("SUMMARIZES", "COMPRESSES").
type Edge struct {
	SourceKey   string
	TargetKey   string
	Relation    string
	Description string
}

// Backend is the minimal graph storage contract: keyed upsert, keyed
// fetch, enumeration by workflow, and cascading delete. Every node and
// edge operation is scoped to a single workflow id; backends never need
// to reason about cross-workflow state.
type Backend interface {
	UpsertNode(ctx context.Context, workflowID, key, summary, content string) error
	GetNode(ctx context.Context, workflowID, key string) (*Node, error)
	ListNodes(ctx context.Context, workflowID string) ([]*Node, error)
	// DeleteNode removes the node keyed by key. If force is false and the
	// node has outgoing edges, implementations may choose to refuse
	// deletion; this module always calls with force=true since cascading
	// delete (episode + its summary) is handled by the caller explicitly.
	DeleteNode(ctx context.Context, workflowID, key string, force bool) error
	UpsertEdge(ctx context.Context, workflowID string, edge Edge) error
	// ResetWorkflow removes every node and edge scoped to workflowID.
	ResetWorkflow(ctx context.Context, workflowID string) error
}

const (
	// RelationSummarizes tags the edge from an episode node to its summary node.
	RelationSummarizes = "SUMMARIZES"
	// RelationCompresses tags the edge from a compression group node to a member episode node.
	RelationCompresses = "COMPRESSES"
)
