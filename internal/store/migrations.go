package store

import (
	"database/sql"
	"fmt"

	"pibrain/internal/logging"
)

// CurrentSchemaVersion is the highest migration version this build knows.
const CurrentSchemaVersion = 7

// migration is one numbered, idempotent schema step. Skippable migrations
// (the vector index, which needs the optional sqlite-vec extension) may
// fail without blocking the ones after them, per spec.md §4.3.
type migration struct {
	Version   int
	Name      string
	Skippable bool
	Apply     func(*Store, *sql.Tx) error
}

var migrations = []migration{
	{1, "schema_migrations", false, applyMigrationsTable},
	{2, "core_tables", false, applyCoreTables},
	{3, "fts_index", false, applyFTS},
	{4, "vec_index", true, applyVecIndex},
	{5, "consolidation_tables", false, applyConsolidationTables},
	{6, "tag_topic_facets", false, applyTagTopicFacets},
	{7, "queue_computer_tag", false, applyQueueComputerTag},
}

func (s *Store) runMigrations() error {
	log := logging.Get(logging.CategoryStore)

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		skipped INTEGER NOT NULL DEFAULT 0,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d (%s): %w", m.Version, m.Name, err)
		}

		if err := m.Apply(s, tx); err != nil {
			tx.Rollback()
			if m.Skippable {
				log.Warn("skipping migration, capability unavailable", "version", m.Version, "name", m.Name, "error", err)
				if _, err := s.db.Exec(`INSERT INTO schema_migrations (version, name, skipped) VALUES (?, ?, 1)`, m.Version, m.Name); err != nil {
					return fmt.Errorf("record skipped migration %d: %w", m.Version, err)
				}
				continue
			}
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, skipped) VALUES (?, ?, 0)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d (%s): %w", m.Version, m.Name, err)
		}
		log.Info("migration applied", "version", m.Version, "name", m.Name)
	}

	return nil
}

func applyMigrationsTable(_ *Store, _ *sql.Tx) error { return nil } // schema_migrations itself is bootstrapped before the loop

func applyCoreTables(_ *Store, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			session_file TEXT NOT NULL,
			start_entry_id TEXT NOT NULL,
			end_entry_id TEXT NOT NULL,
			computer TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			task_type TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			observed_at DATETIME,
			analyzed_at DATETIME,
			relevance REAL NOT NULL DEFAULT 1.0,
			archived INTEGER NOT NULL DEFAULT 0,
			last_accessed DATETIME,
			blob_path TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(task_type)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_outcome ON nodes(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_archived ON nodes(archived)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_relevance ON nodes(relevance)`,

		`CREATE TABLE IF NOT EXISTS edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			creator TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			similarity REAL,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source, target, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target)`,

		`CREATE TABLE IF NOT EXISTS node_embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id TEXT NOT NULL,
			model TEXT NOT NULL,
			input TEXT NOT NULL,
			format INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(node_id, model)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_node ON node_embeddings(node_id)`,

		`CREATE TABLE IF NOT EXISTS analysis_queue (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			priority INTEGER NOT NULL,
			session_file TEXT NOT NULL,
			segment_start TEXT,
			segment_end TEXT,
			context TEXT,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			worker_id TEXT,
			lease_expiry DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_error TEXT,
			result_node_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status_priority ON analysis_queue(status, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_session ON analysis_queue(session_file)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// applyTagTopicFacets promotes node_fts's free-text tags column to
// structured, queryable facets. node_tags/node_topics are separate
// one-row-per-(node,value) tables rather than new columns on nodes,
// since a node carries any number of tags or topics.
func applyTagTopicFacets(_ *Store, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS node_tags (
			node_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (node_id, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_tags_tag ON node_tags(tag)`,
		`CREATE TABLE IF NOT EXISTS node_topics (
			node_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			PRIMARY KEY (node_id, topic)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_topics_topic ON node_topics(topic)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// applyQueueComputerTag adds the source-machine tag column analysis_queue
// was missing, so a job's Recognition attribution survives the
// enqueue/dequeue round trip instead of only living on the in-memory
// domain.Job the watcher built.
func applyQueueComputerTag(_ *Store, tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE analysis_queue ADD COLUMN computer TEXT NOT NULL DEFAULT ''`)
	return err
}

func applyFTS(_ *Store, tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS node_fts USING fts5(
		node_id UNINDEXED,
		summary,
		decisions,
		tags
	)`)
	return err
}

func applyVecIndex(s *Store, tx *sql.Tx) error {
	dims := s.embeddingDims
	if dims <= 0 {
		dims = 768
	}
	_, err := tx.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(
		embedding float[%d]
	)`, dims))
	if err != nil {
		return err
	}
	s.vecAvailable = true
	return nil
}

func applyConsolidationTables(_ *Store, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			model TEXT,
			tool TEXT,
			pattern TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 0,
			mean_confidence REAL NOT NULL DEFAULT 0,
			severity TEXT NOT NULL DEFAULT 'info',
			workaround_hint TEXT,
			prompt_text TEXT,
			prompt_included INTEGER NOT NULL DEFAULT 0,
			prompt_version TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(type, model, tool, pattern)
		)`,
		`CREATE TABLE IF NOT EXISTS failure_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL,
			tool TEXT,
			frequency INTEGER NOT NULL DEFAULT 0,
			last_seen DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS model_stats (
			model TEXT PRIMARY KEY,
			node_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cluster (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cluster_member (
			cluster_id INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			PRIMARY KEY (cluster_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT,
			description TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}
