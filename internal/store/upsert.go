package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/logging"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// UpsertSegment writes node (with its edges and, optionally, embedding)
// as a single transactional step, per spec.md §4.3's atomic segment
// upsert: the blob is written first to a temp name and renamed on
// success, the DB transaction commits only after the rename, and the
// blob is removed if the transaction fails. The node id is deterministic
// (domain.ComputeNodeID), so re-analyzing the same segment updates the
// existing row (version+1) instead of creating a duplicate.
func (s *Store) UpsertSegment(node domain.Node, edges []domain.Edge, emb *domain.Embedding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logging.Get(logging.CategoryStore)

	if node.ID == "" {
		node.ID = node.Segment().ID()
	}

	prevVersion, _, err := s.currentVersion(node.ID)
	if err != nil {
		return 0, domain.NewInternal("UpsertSegment.currentVersion", err)
	}
	node.Version = prevVersion + 1

	blobPath := s.blobPath(node.ID, node.Version, node.Metadata.ObservedAt)
	if err := writeBlobAtomic(blobPath, node); err != nil {
		return 0, domain.NewInternal("UpsertSegment.writeBlob", err)
	}

	if err := s.commitUpsert(node, blobPath, edges, emb); err != nil {
		removeBlob(blobPath)
		log.Warn("upsert failed, removed orphan blob", "node_id", node.ID, "error", err)
		if isUniqueConstraint(err) {
			return 0, domain.NewConflict("UpsertSegment", err)
		}
		return 0, domain.NewInternal("UpsertSegment", err)
	}

	return node.Version, nil
}

// currentVersion returns the node's current version and blob path, or
// (0, "", nil) if the node does not exist yet.
func (s *Store) currentVersion(id string) (int, string, error) {
	var version int
	var blob string
	err := s.db.QueryRow(`SELECT version, blob_path FROM nodes WHERE id = ?`, id).Scan(&version, &blob)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return version, blob, nil
}

func (s *Store) commitUpsert(node domain.Node, blobPath string, edges []domain.Edge, emb *domain.Embedding) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertNodeRow(tx, node, blobPath); err != nil {
		return fmt.Errorf("node row: %w", err)
	}
	for _, e := range edges {
		if err := upsertEdgeRow(tx, e); err != nil {
			return fmt.Errorf("edge row %s->%s: %w", e.Source, e.Target, err)
		}
	}
	if emb != nil {
		if err := s.upsertEmbedding(tx, *emb); err != nil {
			return fmt.Errorf("embedding row: %w", err)
		}
	}
	if err := upsertFTSRow(tx, node); err != nil {
		return fmt.Errorf("fts row: %w", err)
	}
	if err := upsertTagTopicRows(tx, node); err != nil {
		return fmt.Errorf("tag/topic rows: %w", err)
	}

	return tx.Commit()
}

func upsertNodeRow(tx *sql.Tx, n domain.Node, blobPath string) error {
	_, err := tx.Exec(`
		INSERT INTO nodes (id, version, session_file, start_entry_id, end_entry_id, computer,
			project, task_type, outcome, summary, observed_at, analyzed_at, relevance, archived,
			last_accessed, blob_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version, session_file=excluded.session_file,
			start_entry_id=excluded.start_entry_id, end_entry_id=excluded.end_entry_id,
			computer=excluded.computer, project=excluded.project, task_type=excluded.task_type,
			outcome=excluded.outcome, summary=excluded.summary, observed_at=excluded.observed_at,
			analyzed_at=excluded.analyzed_at, relevance=excluded.relevance, archived=excluded.archived,
			last_accessed=excluded.last_accessed, blob_path=excluded.blob_path, updated_at=CURRENT_TIMESTAMP
	`,
		n.ID, n.Version, n.SessionFile, n.StartEntryID, n.EndEntryID, n.Computer,
		n.Classification.Project, n.Classification.TaskType, string(n.Content.Outcome), n.Content.Summary,
		n.Metadata.ObservedAt, n.Metadata.AnalyzedAt, n.Relevance, n.Archived, n.LastAccessed, blobPath,
	)
	return err
}

func upsertEdgeRow(tx *sql.Tx, e domain.Edge) error {
	var metaJSON []byte
	if e.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := tx.Exec(`
		INSERT INTO edges (source, target, type, creator, confidence, similarity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, target, type) DO UPDATE SET
			creator=excluded.creator, confidence=excluded.confidence, similarity=excluded.similarity,
			metadata=excluded.metadata
	`, e.Source, e.Target, string(e.Type), string(e.Creator), e.Confidence, e.Similarity, string(metaJSON), createdAt)
	return err
}

// upsertEmbedding replaces the (node, model) embedding row and its
// vector-index entry. The prior vec_index row is deleted by the prior
// node_embeddings rowid, captured before the row is replaced, so a
// failed insert never leaves an orphaned vector keyed by a stale rowid.
func (s *Store) upsertEmbedding(tx *sql.Tx, e domain.Embedding) error {
	var priorRowID sql.NullInt64
	err := tx.QueryRow(`SELECT id FROM node_embeddings WHERE node_id = ? AND model = ?`, e.NodeID, e.Model).Scan(&priorRowID)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if s.vecAvailable && priorRowID.Valid {
		if _, err := tx.Exec(`DELETE FROM vec_index WHERE rowid = ?`, priorRowID.Int64); err != nil {
			return fmt.Errorf("delete stale vector: %w", err)
		}
	}

	res, err := tx.Exec(`
		INSERT INTO node_embeddings (node_id, model, input, format, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(node_id, model) DO UPDATE SET input=excluded.input, format=excluded.format, created_at=CURRENT_TIMESTAMP
	`, e.NodeID, e.Model, e.Input, e.Format)
	if err != nil {
		return err
	}

	if !s.vecAvailable {
		return nil
	}

	rowID, err := res.LastInsertId()
	if priorRowID.Valid {
		// ON CONFLICT DO UPDATE keeps the existing row and its id, and
		// sqlite3 leaves the connection's last-insert rowid unchanged.
		rowID = priorRowID.Int64
	} else if err != nil || rowID == 0 {
		// fall back to re-reading the row we just wrote.
		if err2 := tx.QueryRow(`SELECT id FROM node_embeddings WHERE node_id = ? AND model = ?`, e.NodeID, e.Model).Scan(&rowID); err2 != nil {
			return fmt.Errorf("resolve embedding rowid: %w", err2)
		}
	}

	buf, err := vec.SerializeFloat32(e.Vector)
	if err != nil {
		return fmt.Errorf("serialize vector: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO vec_index(rowid, embedding) VALUES (?, ?)`, rowID, buf)
	return err
}

func upsertFTSRow(tx *sql.Tx, n domain.Node) error {
	if _, err := tx.Exec(`DELETE FROM node_fts WHERE node_id = ?`, n.ID); err != nil {
		return err
	}
	_, err := tx.Exec(`INSERT INTO node_fts (node_id, summary, decisions, tags) VALUES (?, ?, ?, ?)`,
		n.ID, n.Content.Summary, strings.Join(n.Content.KeyDecisions, "\n"), strings.Join(n.Semantic.Tags, " "))
	return err
}

// upsertTagTopicRows replaces node_tags/node_topics for n, the structured
// facets SearchByFilter's tag/topic dimensions query against. node_fts's
// own tags column stays free text for full-text search; this is the
// exact-match equivalent.
func upsertTagTopicRows(tx *sql.Tx, n domain.Node) error {
	if _, err := tx.Exec(`DELETE FROM node_tags WHERE node_id = ?`, n.ID); err != nil {
		return err
	}
	for _, tag := range n.Semantic.Tags {
		if tag == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO node_tags (node_id, tag) VALUES (?, ?)`, n.ID, tag); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM node_topics WHERE node_id = ?`, n.ID); err != nil {
		return err
	}
	for _, topic := range n.Semantic.Topics {
		if topic == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO node_topics (node_id, topic) VALUES (?, ?)`, n.ID, topic); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
