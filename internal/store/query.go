package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pibrain/internal/domain"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// GetNode returns the node's current content, read from its blob (the
// source of truth; the relational row is a projection).
func (s *Store) GetNode(id string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blobPath string
	err := s.db.QueryRow(`SELECT blob_path FROM nodes WHERE id = ?`, id).Scan(&blobPath)
	if err == sql.ErrNoRows {
		return domain.Node{}, domain.NewNotFound("GetNode", fmt.Errorf("node %q not found", id))
	}
	if err != nil {
		return domain.Node{}, domain.NewInternal("GetNode", err)
	}

	node, err := readBlob(blobPath)
	if err != nil {
		return domain.Node{}, domain.NewInternal("GetNode.readBlob", err)
	}
	return node, nil
}

// Filter selects nodes by project, type, outcome, observed-at date range,
// tag, and topic — the six dimensions the Graph Store's "by filter"
// operation supports. Tag and Topic match against the structured
// node_tags/node_topics facets, not node_fts's free-text tags column.
type Filter struct {
	Project  string
	TaskType string
	Outcome  string
	Tag      string
	Topic    string
	DateFrom time.Time
	DateTo   time.Time
	Archived *bool
	Limit    int
	Offset   int
}

// SearchByFilter returns node ids matching filter, most recently updated
// first, paged by Limit/Offset.
func (s *Store) SearchByFilter(f Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []interface{}
	if f.Project != "" {
		conds = append(conds, "project = ?")
		args = append(args, f.Project)
	}
	if f.TaskType != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, f.TaskType)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.Archived != nil {
		conds = append(conds, "archived = ?")
		args = append(args, *f.Archived)
	}
	if !f.DateFrom.IsZero() {
		conds = append(conds, "observed_at >= ?")
		args = append(args, f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		conds = append(conds, "observed_at <= ?")
		args = append(args, f.DateTo)
	}
	if f.Tag != "" {
		conds = append(conds, "id IN (SELECT node_id FROM node_tags WHERE tag = ?)")
		args = append(args, f.Tag)
	}
	if f.Topic != "" {
		conds = append(conds, "id IN (SELECT node_id FROM node_topics WHERE topic = ?)")
		args = append(args, f.Topic)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT id FROM nodes %s ORDER BY updated_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, domain.NewInternal("SearchByFilter", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewInternal("SearchByFilter.scan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FTSMatch is one full-text search hit.
type FTSMatch struct {
	NodeID  string
	Snippet string
}

// SearchFTS runs query against node_fts and returns ranked matches with
// snippets.
func (s *Store) SearchFTS(query string, limit int) ([]FTSMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT node_id, snippet(node_fts, 1, '[', ']', '...', 10)
		FROM node_fts WHERE node_fts MATCH ? ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, domain.NewInternal("SearchFTS", err)
	}
	defer rows.Close()

	var out []FTSMatch
	for rows.Next() {
		var m FTSMatch
		if err := rows.Scan(&m.NodeID, &m.Snippet); err != nil {
			return nil, domain.NewInternal("SearchFTS.scan", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SemanticMatch is one nearest-neighbor hit.
type SemanticMatch struct {
	NodeID     string
	Similarity float64
}

// SearchSemantic returns the k nearest neighbors of queryVector, excluding
// excludeIDs, with similarity >= minSimilarity. Fails UNAVAILABLE if the
// vector index was not built (sqlite-vec missing); callers may fall back
// to SearchFTS.
func (s *Store) SearchSemantic(queryVector []float32, k int, excludeIDs []string, minSimilarity float64) ([]SemanticMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.vecAvailable {
		return nil, domain.NewUnavailable("SearchSemantic", fmt.Errorf("vector index not built"))
	}
	if k <= 0 {
		k = 10
	}

	buf, err := vec.SerializeFloat32(queryVector)
	if err != nil {
		return nil, domain.NewInternal("SearchSemantic.serialize", err)
	}

	exclude := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = true
	}

	rows, err := s.db.Query(`
		SELECT ne.node_id, vi.distance
		FROM vec_index vi
		JOIN node_embeddings ne ON ne.id = vi.rowid
		WHERE vi.embedding MATCH ? AND k = ?
		ORDER BY vi.distance
	`, buf, k+len(excludeIDs))
	if err != nil {
		return nil, domain.NewInternal("SearchSemantic", err)
	}
	defer rows.Close()

	var out []SemanticMatch
	for rows.Next() {
		var nodeID string
		var distance float64
		if err := rows.Scan(&nodeID, &distance); err != nil {
			return nil, domain.NewInternal("SearchSemantic.scan", err)
		}
		if exclude[nodeID] {
			continue
		}
		similarity := clamp01(1 - distance)
		if similarity < minSimilarity {
			continue
		}
		out = append(out, SemanticMatch{NodeID: nodeID, Similarity: similarity})
		if len(out) >= k {
			break
		}
	}
	return out, rows.Err()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Subgraph is the induced subgraph a graph traversal returns.
type Subgraph struct {
	NodeIDs []string
	Edges   []domain.Edge
}

// GraphTraversal performs a breadth-first expansion from seedID, bounded
// by depth and maxNodes, per spec.md §4.3.
func (s *Store) GraphTraversal(seedID string, depth, maxNodes int) (*Subgraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxNodes <= 0 {
		maxNodes = 100
	}

	visited := map[string]bool{seedID: true}
	seenEdges := make(map[string]bool)
	frontier := []string{seedID}
	sub := &Subgraph{NodeIDs: []string{seedID}}

	for d := 0; d < depth && len(visited) < maxNodes && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			rows, err := s.db.Query(`
				SELECT source, target, type, creator, confidence, similarity, created_at
				FROM edges WHERE source = ? OR target = ?`, id, id)
			if err != nil {
				return nil, domain.NewInternal("GraphTraversal", err)
			}
			for rows.Next() {
				var e domain.Edge
				var typ, creator string
				var similarity sql.NullFloat64
				if err := rows.Scan(&e.Source, &e.Target, &typ, &creator, &e.Confidence, &similarity, &e.CreatedAt); err != nil {
					rows.Close()
					return nil, domain.NewInternal("GraphTraversal.scan", err)
				}
				e.Type = domain.EdgeType(typ)
				e.Creator = domain.EdgeCreator(creator)
				if similarity.Valid {
					v := similarity.Float64
					e.Similarity = &v
				}
				// an edge between two visited nodes is returned by both
				// endpoints' queries; keep it once
				key := e.Source + "\x00" + e.Target + "\x00" + typ
				if !seenEdges[key] {
					seenEdges[key] = true
					sub.Edges = append(sub.Edges, e)
				}

				other := e.Target
				if other == id {
					other = e.Source
				}
				if !visited[other] && len(visited) < maxNodes {
					visited[other] = true
					sub.NodeIDs = append(sub.NodeIDs, other)
					next = append(next, other)
				}
			}
			rows.Close()
		}
		frontier = next
	}

	return sub, nil
}
