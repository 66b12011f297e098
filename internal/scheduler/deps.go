package scheduler

import (
	"context"

	"pibrain/internal/domain"
	"pibrain/internal/store"
)

// JobEnqueuer is the subset of the job queue the reanalysis job needs —
// the same narrow pair the watcher depends on (dedup-check, enqueue).
type JobEnqueuer interface {
	HasExistingJob(sessionFile, startEntryID, endEntryID string) (bool, error)
	Enqueue(job domain.Job) (string, error)
}

// GraphStore is the subset of the graph store the consolidation jobs
// need: node selection/retrieval, relevance/archive bookkeeping, edge
// writes, and the derived-aggregate upserts, plus semantic search for
// connection discovery and creative association.
type GraphStore interface {
	ListNodeIDs(q store.NodeQuery) ([]string, error)
	GetNode(id string) (domain.Node, error)
	EdgeStats(nodeID string) (count int, meanConfidence float64, err error)
	UpdateRelevance(nodeID string, relevance float64, archived bool) error
	IsArchived(nodeID string) (bool, error)
	InsertEdge(e domain.Edge) error
	UpsertInsight(in store.Insight) error
	UpsertFailurePattern(pattern, tool string) error
	UpsertModelStats(model string, success bool) error
	SearchSemantic(queryVector []float32, k int, excludeIDs []string, minSimilarity float64) ([]store.SemanticMatch, error)
}

// Embedder produces a query vector for a node's summary text, so
// connection discovery and creative association can find semantic
// neighbors without reading a stored vector back out of the vector
// index (sqlite-vec exposes no confirmed deserialize operation in the
// retrieval pack — re-embedding the summary text is the grounded path
// this module already uses for newly analyzed nodes in internal/worker).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Deps bundles everything the scheduler's jobs need, passed explicitly
// per spec.md §5's "no hidden singletons" rather than embedded in the
// Scheduler struct — all four jobs share the same dependencies, but
// keeping them out of Config lets tests swap fakes in without touching
// cron wiring.
type Deps struct {
	Queue    JobEnqueuer
	Store    GraphStore
	Embedder Embedder
}
