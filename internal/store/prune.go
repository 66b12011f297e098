package store

import (
	"os"
	"path/filepath"
	"strings"

	"pibrain/internal/domain"
)

// PruneReport names blob inconsistencies a diagnostic pass found: rows
// pointing at a blob that no longer exists, and blob files on disk that
// no row references.
type PruneReport struct {
	MissingBlobs  []string // node ids whose blob_path does not exist
	OrphanedBlobs []string // file paths on disk with no owning node row
}

// PruneBlobReferences diagnoses drift between the nodes table and the
// blob tree without mutating either; it is the read-only companion to
// RebuildIndex, for an operator to run before deciding to rebuild.
func (s *Store) PruneBlobReferences() (PruneReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report PruneReport

	rows, err := s.db.Query(`SELECT id, blob_path FROM nodes`)
	if err != nil {
		return report, domain.NewInternal("PruneBlobReferences", err)
	}
	referenced := make(map[string]bool)
	for rows.Next() {
		var id, blob string
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return report, domain.NewInternal("PruneBlobReferences.scan", err)
		}
		referenced[blob] = true
		if _, statErr := os.Stat(blob); statErr != nil {
			report.MissingBlobs = append(report.MissingBlobs, id)
		}
	}
	rows.Close()

	err = filepath.WalkDir(s.blobsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		if !referenced[path] {
			report.OrphanedBlobs = append(report.OrphanedBlobs, path)
		}
		return nil
	})
	if err != nil {
		return report, domain.NewInternal("PruneBlobReferences.walk", err)
	}

	return report, nil
}
