package scheduler

import (
	"context"
	"regexp"
	"strings"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
	"pibrain/internal/store"
)

const (
	connectionDiscoveryK            = 5
	connectionDiscoverySimThreshold = 0.75
)

// nodeIDPattern matches the 32 lowercase-hex-character id shape
// domain.ComputeNodeID produces, for the explicit reference-detection
// heuristic: a node's own text occasionally quotes another node's id
// directly (e.g. copied from a prior summary or a cross-reference left
// by the analyzer).
var nodeIDPattern = regexp.MustCompile(`\b[0-9a-f]{32}\b`)

// runConnectionDiscovery computes up to K neighbors for each of the
// ConnectionDiscoveryLimit most recently touched nodes, using semantic
// similarity, explicit id references, and shared-lesson reinforcement,
// per spec.md §4.8. Candidates are compared within this batch only
// (plus whatever semantic search returns against the whole index) —
// scanning the entire graph for every run would defeat the point of
// bounding the batch by "recently touched".
func (s *Scheduler) runConnectionDiscovery(ctx context.Context, deps Deps) Result {
	start := s.now()
	res := Result{Job: JobConnectionDiscovery, Start: start, Details: map[string]interface{}{}}

	ids, err := deps.Store.ListNodeIDs(store.NodeQuery{OrderBy: "updated_at_desc", Limit: s.cfg.ConnectionDiscoveryLimit})
	if err != nil {
		res.Err = err
		res.End = s.now()
		return res
	}

	batch := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		node, err := deps.Store.GetNode(id)
		if err != nil {
			continue
		}
		batch = append(batch, node)
	}

	cooldown := time.Duration(s.cfg.ConnectionDiscoveryCooldownHours) * time.Hour
	now := s.now()

	var edgesWritten, onCooldown, vectorUnavailable int
	for _, node := range batch {
		if ctx.Err() != nil {
			break
		}

		s.mu.Lock()
		last, seen := s.cooldowns[node.ID]
		s.mu.Unlock()
		if seen && now.Sub(last) < cooldown {
			onCooldown++
			continue
		}

		n, unavailable := s.discoverForNode(ctx, deps, node, batch)
		edgesWritten += n
		if unavailable {
			vectorUnavailable++
		}

		s.mu.Lock()
		s.cooldowns[node.ID] = now
		s.mu.Unlock()
	}

	res.ItemsProcessed = edgesWritten
	res.Details["candidates"] = len(batch)
	res.Details["on_cooldown"] = onCooldown
	res.Details["vector_index_unavailable"] = vectorUnavailable
	res.End = s.now()
	return res
}

// discoverForNode runs all three discovery heuristics for one node and
// returns how many edges it wrote, plus whether the semantic-search leg
// was skipped because the vector index is unavailable (an expected,
// recoverable deployment state, mirrored from runCreativeAssociation).
func (s *Scheduler) discoverForNode(ctx context.Context, deps Deps, node domain.Node, batch []domain.Node) (int, bool) {
	written := 0
	vectorUnavailable := false

	if deps.Embedder != nil {
		if vec, err := deps.Embedder.Embed(ctx, node.Content.Summary); err == nil {
			matches, err := deps.Store.SearchSemantic(vec, connectionDiscoveryK, []string{node.ID}, connectionDiscoverySimThreshold)
			if err != nil {
				if domain.IsUnavailable(err) {
					vectorUnavailable = true
					logging.Get(logging.CategoryScheduler).Warn("connection discovery semantic search unavailable", "node", node.ID, "error", err)
				} else {
					logging.Get(logging.CategoryScheduler).Warn("connection discovery semantic search failed", "node", node.ID, "error", err)
				}
			}
			for _, m := range matches {
				sim := m.Similarity
				if s.writeEdge(deps, node.ID, m.NodeID, domain.EdgeRelatesTo, sim, &sim) {
					written++
				}
			}
		}
	}

	text := strings.Join([]string{node.Content.Summary, strings.Join(node.Content.KeyDecisions, " ")}, " ")
	for _, match := range nodeIDPattern.FindAllString(text, -1) {
		if match == node.ID {
			continue
		}
		if !referencesKnown(batch, match) {
			continue
		}
		if s.writeEdge(deps, node.ID, match, domain.EdgeReferences, 1.0, nil) {
			written++
		}
	}

	for _, other := range batch {
		if other.ID == node.ID {
			continue
		}
		if sharesLesson(node, other) {
			if s.writeEdge(deps, node.ID, other.ID, domain.EdgeReinforces, 0.6, nil) {
				written++
			}
		}
	}

	return written, vectorUnavailable
}

func referencesKnown(batch []domain.Node, id string) bool {
	for _, n := range batch {
		if n.ID == id {
			return true
		}
	}
	return false
}

// sharesLesson reports whether a and b carry the same lesson text in
// the same bucket, the "lesson reinforcement" heuristic spec.md §4.8
// names.
func sharesLesson(a, b domain.Node) bool {
	for bucket, lessons := range a.Lessons {
		otherLessons, ok := b.Lessons[bucket]
		if !ok {
			continue
		}
		for _, l := range lessons {
			for _, ol := range otherLessons {
				if strings.EqualFold(strings.TrimSpace(l), strings.TrimSpace(ol)) {
					return true
				}
			}
		}
	}
	return false
}

func (s *Scheduler) writeEdge(deps Deps, source, target string, typ domain.EdgeType, confidence float64, similarity *float64) bool {
	if source == target {
		return false
	}
	err := deps.Store.InsertEdge(domain.Edge{
		Source:     source,
		Target:     target,
		Type:       typ,
		Creator:    domain.CreatorDaemon,
		Confidence: confidence,
		Similarity: similarity,
	})
	return err == nil
}
