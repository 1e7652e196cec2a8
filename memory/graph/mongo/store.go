// Package mongo implements graph.Backend atop go.mongodb.org/mongo-driver/v2,
// one document per node keyed by (workflow_id, key) and one document per
// edge keyed by (workflow_id, source_key, target_key, relation), for
// durable multi-process deployments.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/toolmem/toolmem/memory/errs"
	"github.com/toolmem/toolmem/memory/graph"
)

const (
	defaultNodesCollection = "toolmem_nodes"
	defaultEdgesCollection = "toolmem_edges"
	defaultTimeout         = 5 * time.Second
)

// Options configures the Mongo-backed graph.Backend.
type Options struct {
	Client          *mongodriver.Client
	Database        string
	NodesCollection string
	EdgesCollection string
	Timeout         time.Duration
}

// Store is a graph.Backend backed by MongoDB.
type Store struct {
	nodes   *mongodriver.Collection
	edges   *mongodriver.Collection
	timeout time.Duration
}

// New constructs a Store and ensures the unique indexes backing keyed
// upsert exist. The client connection itself is the caller's
// responsibility; config.Load supplies only the URI and database name.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	nodesName := opts.NodesCollection
	if nodesName == "" {
		nodesName = defaultNodesCollection
	}
	edgesName := opts.EdgesCollection
	if edgesName == "" {
		edgesName = defaultEdgesCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	nodes := db.Collection(nodesName)
	edges := db.Collection(edgesName)

	if _, err := nodes.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "workflow_id", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	if _, err := edges.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "workflow_id", Value: 1},
			{Key: "source_key", Value: 1},
			{Key: "target_key", Value: 1},
			{Key: "relation", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}

	return &Store{nodes: nodes, edges: edges, timeout: timeout}, nil
}

type nodeDocument struct {
	WorkflowID string `bson:"workflow_id"`
	Key        string `bson:"key"`
	Summary    string `bson:"summary"`
	Content    string `bson:"content"`
}

type edgeDocument struct {
	WorkflowID  string `bson:"workflow_id"`
	SourceKey   string `bson:"source_key"`
	TargetKey   string `bson:"target_key"`
	Relation    string `bson:"relation"`
	Description string `bson:"description"`
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// UpsertNode creates or replaces the node keyed key in workflowID.
func (s *Store) UpsertNode(ctx context.Context, workflowID, key, summary, content string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"workflow_id": workflowID, "key": key}
	update := bson.M{"$set": nodeDocument{WorkflowID: workflowID, Key: key, Summary: summary, Content: content}}
	_, err := s.nodes.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return errs.NewTransientBackendError("upsert_node", err)
	}
	return nil
}

// GetNode fetches the node keyed key, or errs.ErrNotFound.
func (s *Store) GetNode(ctx context.Context, workflowID, key string) (*graph.Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc nodeDocument
	err := s.nodes.FindOne(ctx, bson.M{"workflow_id": workflowID, "key": key}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.NewTransientBackendError("get_node", err)
	}
	return &graph.Node{Key: doc.Key, Summary: doc.Summary, Content: doc.Content}, nil
}

// ListNodes returns every node scoped to workflowID, sorted by key.
func (s *Store) ListNodes(ctx context.Context, workflowID string) ([]*graph.Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.nodes.Find(ctx, bson.M{"workflow_id": workflowID}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, errs.NewTransientBackendError("list_nodes", err)
	}
	defer cur.Close(ctx)

	var out []*graph.Node
	for cur.Next(ctx) {
		var doc nodeDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.NewTransientBackendError("list_nodes", err)
		}
		out = append(out, &graph.Node{Key: doc.Key, Summary: doc.Summary, Content: doc.Content})
	}
	if err := cur.Err(); err != nil {
		return nil, errs.NewTransientBackendError("list_nodes", err)
	}
	return out, nil
}

// DeleteNode removes the node keyed key and any edge touching it.
func (s *Store) DeleteNode(ctx context.Context, workflowID, key string, _ bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.nodes.DeleteOne(ctx, bson.M{"workflow_id": workflowID, "key": key}); err != nil {
		return errs.NewTransientBackendError("delete_node", err)
	}
	touching := bson.M{
		"workflow_id": workflowID,
		"$or":         bson.A{bson.M{"source_key": key}, bson.M{"target_key": key}},
	}
	if _, err := s.edges.DeleteMany(ctx, touching); err != nil {
		return errs.NewTransientBackendError("delete_node", err)
	}
	return nil
}

// UpsertEdge creates or replaces the edge identified by (source, target, relation).
func (s *Store) UpsertEdge(ctx context.Context, workflowID string, edge graph.Edge) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"workflow_id": workflowID,
		"source_key":  edge.SourceKey,
		"target_key":  edge.TargetKey,
		"relation":    edge.Relation,
	}
	update := bson.M{"$set": edgeDocument{
		WorkflowID: workflowID, SourceKey: edge.SourceKey, TargetKey: edge.TargetKey,
		Relation: edge.Relation, Description: edge.Description,
	}}
	_, err := s.edges.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return errs.NewTransientBackendError("upsert_edge", err)
	}
	return nil
}

// ResetWorkflow removes every node and edge scoped to workflowID.
func (s *Store) ResetWorkflow(ctx context.Context, workflowID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.nodes.DeleteMany(ctx, bson.M{"workflow_id": workflowID}); err != nil {
		return errs.NewTransientBackendError("reset_workflow", err)
	}
	if _, err := s.edges.DeleteMany(ctx, bson.M{"workflow_id": workflowID}); err != nil {
		return errs.NewTransientBackendError("reset_workflow", err)
	}
	return nil
}
