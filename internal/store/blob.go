package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pibrain/internal/domain"
)

// blobPath returns the nodes/<yyyy>/<mm>/<id>-v<version>.json path for a
// node, keyed off its observed time, per spec.md §4.3's blob layout.
func (s *Store) blobPath(id string, version int, observedAt time.Time) string {
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	name := fmt.Sprintf("%s-v%d.json", id, version)
	return filepath.Join(s.blobsDir, observedAt.Format("2006"), observedAt.Format("01"), name)
}

// writeBlobAtomic marshals node and writes it to path via a temp file in
// the same directory, renamed into place on success, per spec.md §4.3's
// "temporary name, rename on success" rule (grounded on the teacher's
// embedded_store.go temp-file-then-copy idiom, adapted to rename instead
// of copy since the destination is local, not an extracted archive).
func writeBlobAtomic(path string, node domain.Node) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp blob into place: %w", err)
	}
	return nil
}

func readBlob(path string) (domain.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Node{}, err
	}
	var node domain.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return domain.Node{}, fmt.Errorf("unmarshal blob %s: %w", path, err)
	}
	return node, nil
}

func removeBlob(path string) {
	_ = os.Remove(path)
}
