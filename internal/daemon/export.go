package daemon

import (
	"encoding/json"
	"fmt"
	"io"

	"pibrain/internal/store"
)

// ExportOptions narrows what Export writes.
type ExportOptions struct {
	IncludeArchived bool
}

// Export streams every node (optionally including archived ones) to w
// as a single JSON array, one node object per entry. This is the
// programmatic half of the "knowledge graph is plain files + SQLite, so
// it's always exportable" property spec.md §4.3 implies; the CLI/web UI
// that would expose it as a download is out of scope.
func (h *Hub) Export(w io.Writer, opts ExportOptions) error {
	var archivedFilter *bool
	if !opts.IncludeArchived {
		f := false
		archivedFilter = &f
	}

	ids, err := h.store.ListNodeIDs(store.NodeQuery{Archived: archivedFilter})
	if err != nil {
		return fmt.Errorf("list node ids: %w", err)
	}

	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for i, id := range ids {
		node, err := h.store.GetNode(id)
		if err != nil {
			return fmt.Errorf("get node %s: %w", id, err)
		}
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if err := enc.Encode(node); err != nil {
			return fmt.Errorf("encode node %s: %w", id, err)
		}
	}
	_, err = io.WriteString(w, "]\n")
	return err
}
