package store

import (
	"database/sql"
	"fmt"
	"time"

	"pibrain/internal/domain"
)

// NodeQuery selects node ids from the relational projection for the
// Consolidation Scheduler's batch jobs, which never need the full blob
// up front — callers read it via GetNode only for the ids they keep. It
// shares its date-range and tag/topic facet dimensions with Filter, since
// both ultimately narrow the same nodes table plus node_tags/node_topics.
type NodeQuery struct {
	OrderBy         string // "analyzed_at_asc" or "updated_at_desc"; any other value orders by updated_at descending
	Archived        *bool
	MinRelevance    float64
	HasMinRelevance bool
	Random          bool // true samples via ORDER BY RANDOM(), ignoring OrderBy
	DateFrom        time.Time
	DateTo          time.Time
	Tag             string
	Topic           string
	Limit           int // <= 0 means no limit
}

// ListNodeIDs returns node ids matching q.
func (s *Store) ListNodeIDs(q NodeQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []interface{}
	if q.Archived != nil {
		conds = append(conds, "archived = ?")
		args = append(args, *q.Archived)
	}
	if q.HasMinRelevance {
		conds = append(conds, "relevance >= ?")
		args = append(args, q.MinRelevance)
	}
	if !q.DateFrom.IsZero() {
		conds = append(conds, "observed_at >= ?")
		args = append(args, q.DateFrom)
	}
	if !q.DateTo.IsZero() {
		conds = append(conds, "observed_at <= ?")
		args = append(args, q.DateTo)
	}
	if q.Tag != "" {
		conds = append(conds, "id IN (SELECT node_id FROM node_tags WHERE tag = ?)")
		args = append(args, q.Tag)
	}
	if q.Topic != "" {
		conds = append(conds, "id IN (SELECT node_id FROM node_topics WHERE topic = ?)")
		args = append(args, q.Topic)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + joinAnd(conds)
	}

	order := "ORDER BY updated_at DESC"
	switch {
	case q.Random:
		order = "ORDER BY RANDOM()"
	case q.OrderBy == "analyzed_at_asc":
		order = "ORDER BY analyzed_at ASC"
	case q.OrderBy == "updated_at_desc":
		order = "ORDER BY updated_at DESC"
	}

	query := fmt.Sprintf(`SELECT id FROM nodes %s %s`, where, order)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, domain.NewInternal("ListNodeIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewInternal("ListNodeIDs.scan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func joinAnd(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}

// EdgeStats reports how many edges touch nodeID (as either endpoint) and
// their mean confidence, for the relevance formula's density(edges) and
// confidence terms. Returns (0, 0, nil) for a node with no edges.
func (s *Store) EdgeStats(nodeID string) (count int, meanConfidence float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(confidence), 0)
		FROM edges WHERE source = ? OR target = ?`, nodeID, nodeID)
	if err := row.Scan(&count, &meanConfidence); err != nil {
		return 0, 0, domain.NewInternal("EdgeStats", err)
	}
	return count, meanConfidence, nil
}

// UpdateRelevance writes a node's freshly computed relevance/archived
// state. It does not touch the node's blob or bump its version: relevance
// decay is the scheduler's own derived state, not an analyzer-produced
// fact, per spec.md §4.8.
func (s *Store) UpdateRelevance(nodeID string, relevance float64, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE nodes SET relevance = ?, archived = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		relevance, archived, nodeID)
	if err != nil {
		return domain.NewInternal("UpdateRelevance", err)
	}
	return nil
}

// IsArchived reports a node's current archived flag, so callers can
// enforce archive monotonicity (§4.8's "never un-archives implicitly")
// before calling UpdateRelevance.
func (s *Store) IsArchived(nodeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var archived bool
	err := s.db.QueryRow(`SELECT archived FROM nodes WHERE id = ?`, nodeID).Scan(&archived)
	if err == sql.ErrNoRows {
		return false, domain.NewNotFound("IsArchived", fmt.Errorf("node %q not found", nodeID))
	}
	if err != nil {
		return false, domain.NewInternal("IsArchived", err)
	}
	return archived, nil
}

// InsertEdge writes a single edge outside of a node upsert, for the
// Consolidation Scheduler's connection-discovery and creative-association
// jobs. The edges table's UNIQUE(source, target, type) constraint plus
// upsertEdgeRow's ON CONFLICT DO UPDATE give the "deduplicated by
// (src,tgt,type)" guarantee spec.md §4.8 requires.
func (s *Store) InsertEdge(e domain.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return domain.NewInternal("InsertEdge", err)
	}
	defer tx.Rollback()

	if err := upsertEdgeRow(tx, e); err != nil {
		return domain.NewInternal("InsertEdge", err)
	}
	return tx.Commit()
}

// Insight is one row of the derived-pattern table pattern aggregation
// maintains, per spec.md §3's "Aggregated insight" type.
type Insight struct {
	Type           string
	Model          string
	Tool           string
	Pattern        string
	Confidence     float64
	Severity       string
	WorkaroundHint string
}

// UpsertInsight increments the matching (type, model, tool, pattern)
// row's frequency and folds Confidence into its running mean, or inserts
// a fresh row with frequency 1.
func (s *Store) UpsertInsight(in Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Severity == "" {
		in.Severity = "info"
	}

	_, err := s.db.Exec(`
		INSERT INTO insights (type, model, tool, pattern, frequency, mean_confidence, severity, workaround_hint)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(type, model, tool, pattern) DO UPDATE SET
			frequency = insights.frequency + 1,
			mean_confidence = (insights.mean_confidence * insights.frequency + excluded.mean_confidence) / (insights.frequency + 1),
			severity = excluded.severity,
			workaround_hint = excluded.workaround_hint,
			updated_at = CURRENT_TIMESTAMP
	`, in.Type, nullableString(in.Model), nullableString(in.Tool), in.Pattern, in.Confidence, in.Severity, nullableString(in.WorkaroundHint))
	if err != nil {
		return domain.NewInternal("UpsertInsight", err)
	}
	return nil
}

// UpsertFailurePattern increments the frequency of (pattern, tool),
// inserting a fresh row if none exists. failure_patterns carries no
// unique constraint in the schema (spec.md never names one), so this
// does a select-then-branch under the store's single-writer connection
// rather than relying on ON CONFLICT.
func (s *Store) UpsertFailurePattern(pattern, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return domain.NewInternal("UpsertFailurePattern", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`SELECT id FROM failure_patterns WHERE pattern = ? AND tool IS ?`, pattern, nullableString(tool)).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO failure_patterns (pattern, tool, frequency, last_seen) VALUES (?, ?, 1, CURRENT_TIMESTAMP)`,
			pattern, nullableString(tool)); err != nil {
			return domain.NewInternal("UpsertFailurePattern.insert", err)
		}
	case err != nil:
		return domain.NewInternal("UpsertFailurePattern.select", err)
	default:
		if _, err := tx.Exec(`UPDATE failure_patterns SET frequency = frequency + 1, last_seen = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return domain.NewInternal("UpsertFailurePattern.update", err)
		}
	}
	return tx.Commit()
}

// UpsertModelStats increments model's node count plus a success or
// failure count, inserting a fresh row on first sight of model.
func (s *Store) UpsertModelStats(model string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successInc, failureInc := 0, 0
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO model_stats (model, node_count, success_count, failure_count)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(model) DO UPDATE SET
			node_count = model_stats.node_count + 1,
			success_count = model_stats.success_count + excluded.success_count,
			failure_count = model_stats.failure_count + excluded.failure_count,
			updated_at = CURRENT_TIMESTAMP
	`, model, successInc, failureInc)
	if err != nil {
		return domain.NewInternal("UpsertModelStats", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
