package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
)

type blobEntry struct {
	node domain.Node
	path string
}

// RebuildIndex drops and repopulates the node and full-text rows from the
// blob tree, per spec.md §4.3. Blobs are the only artifact that carries
// node content; edges and embeddings are relational-only derivations
// (connection discovery, analyzer-adapter output) and are not
// reconstructed by this operation.
//
// The directory walk itself is sequential (filepath.WalkDir has no
// concurrent form), but each blob's read-and-parse is independent I/O,
// so those run on a bounded worker pool via errgroup — the same
// gather-paths-then-fan-out-with-errgroup shape the source repo uses
// for its own independent-subtask gathering (internal/campaign's
// intelligence gatherer).
func (s *Store) RebuildIndex() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logging.Get(logging.CategoryStore)

	var paths []string
	err := filepath.WalkDir(s.blobsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return 0, domain.NewInternal("RebuildIndex.walk", err)
	}

	var mu sync.Mutex
	latest := make(map[string]blobEntry, len(paths))

	eg, _ := errgroup.WithContext(context.Background())
	eg.SetLimit(8)
	for _, path := range paths {
		path := path
		eg.Go(func() error {
			node, rerr := readBlob(path)
			if rerr != nil {
				log.Warn("skipping unreadable blob during rebuild", "path", path, "error", rerr)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if cur, ok := latest[node.ID]; !ok || node.Version > cur.node.Version {
				latest[node.ID] = blobEntry{node, path}
			}
			return nil
		})
	}
	_ = eg.Wait() // every branch above returns nil; errors are logged, not propagated

	tx, err := s.db.Begin()
	if err != nil {
		return 0, domain.NewInternal("RebuildIndex.begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM nodes`); err != nil {
		return 0, domain.NewInternal("RebuildIndex.clear", err)
	}
	if _, err := tx.Exec(`DELETE FROM node_fts`); err != nil {
		return 0, domain.NewInternal("RebuildIndex.clear", err)
	}
	if _, err := tx.Exec(`DELETE FROM node_tags`); err != nil {
		return 0, domain.NewInternal("RebuildIndex.clear", err)
	}
	if _, err := tx.Exec(`DELETE FROM node_topics`); err != nil {
		return 0, domain.NewInternal("RebuildIndex.clear", err)
	}

	for _, entry := range latest {
		if err := upsertNodeRow(tx, entry.node, entry.path); err != nil {
			return 0, domain.NewInternal("RebuildIndex.node", err)
		}
		if err := upsertFTSRow(tx, entry.node); err != nil {
			return 0, domain.NewInternal("RebuildIndex.fts", err)
		}
		if err := upsertTagTopicRows(tx, entry.node); err != nil {
			return 0, domain.NewInternal("RebuildIndex.tags", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.NewInternal("RebuildIndex.commit", err)
	}

	log.Info("rebuilt index from blobs", "nodes", len(latest))
	return len(latest), nil
}
