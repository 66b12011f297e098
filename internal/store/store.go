// Package store is the knowledge graph's relational index plus
// content-addressed blob files (spec.md §4.3), grounded on the teacher's
// SQLite-opening discipline (internal/store/local.go's NewLocalStore:
// mkdir-then-open-then-initialize-then-detect-extension) and its
// versioned, non-fatal-skippable migration runner
// (internal/store/migrations.go).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pibrain/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the Graph Store: one SQLite database (schema + FTS + vector
// index) plus a tree of content-addressed JSON blob files.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	blobsDir string

	vecAvailable   bool
	embeddingDims  int
}

// Open opens (creating if absent) the database at dbPath and the blob
// tree rooted at blobsDir, running all migrations. embeddingDims sizes
// the vector index; if the sqlite-vec extension is not loaded the vector
// index migration is skipped and semantic search later fails UNAVAILABLE
// rather than blocking startup.
func Open(dbPath, blobsDir string, embeddingDims int) (*Store, error) {
	log := logging.Get(logging.CategoryStore)
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blobs directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // one writer; SQLite serializes anyway, this avoids SQLITE_BUSY churn

	s := &Store{db: db, path: dbPath, blobsDir: blobsDir, embeddingDims: embeddingDims}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if !s.vecAvailable {
		// The vector index migration only runs once; on later opens the
		// index is usable if the table exists and vec0 is loaded now.
		var rowID int64
		if err := db.QueryRow(`SELECT rowid FROM vec_index LIMIT 1`).Scan(&rowID); err == nil || err == sql.ErrNoRows {
			s.vecAvailable = true
		}
	}

	log.Info("store opened", "db", dbPath, "blobs", blobsDir, "vec_available", s.vecAvailable)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// VecAvailable reports whether the vector index is usable, per spec.md
// §4.3's non-fatal migration skip for a missing capability.
func (s *Store) VecAvailable() bool { return s.vecAvailable }

// DB returns the underlying connection so the job queue (internal/queue)
// can share it instead of opening a second handle onto the same file.
func (s *Store) DB() *sql.DB { return s.db }
