package transcript

import (
	"fmt"

	"pibrain/internal/domain"
)

// Session is the collection of entries loaded from one transcript file,
// plus its derived parent-to-children tree and leaf.
type Session struct {
	Path    string
	Header  Entry
	entries map[string]Entry
	order   []string // insertion order, for stable iteration
	children map[string][]string // parent id -> child ids, sorted
	roots   []string
	leaf    string
}

func newSession(path string, entries []Entry) (*Session, error) {
	s := &Session{
		Path:     path,
		entries:  make(map[string]Entry, len(entries)),
		children: make(map[string][]string),
	}

	for _, e := range entries {
		s.entries[e.ID] = e
		s.order = append(s.order, e.ID)
		if e.IsRoot() {
			s.roots = append(s.roots, e.ID)
		}
	}

	for _, e := range entries {
		if e.Kind == KindHeader {
			s.Header = e
		}
		if e.IsRoot() {
			continue
		}
		if _, ok := s.entries[e.ParentID]; !ok {
			return nil, domain.Classify(domain.ErrTranscriptMalformed, "parse",
				fmt.Errorf("%s: entry %q references unknown parent %q", path, e.ID, e.ParentID))
		}
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ID)
	}

	childEntries := make(map[string][]Entry, len(s.children))
	for parent, ids := range s.children {
		list := make([]Entry, 0, len(ids))
		for _, id := range ids {
			list = append(list, s.entries[id])
		}
		sortChildren(list)
		sorted := make([]string, len(list))
		for i, e := range list {
			sorted[i] = e.ID
		}
		childEntries[parent] = sorted
	}
	s.children = childEntries

	s.leaf = computeLeaf(s.entries, s.children)

	return s, nil
}

// computeLeaf returns the id of the unique childless entry with the
// greatest timestamp, ties broken lexicographically by id (spec.md §3).
func computeLeaf(entries map[string]Entry, children map[string][]string) string {
	var leaf string
	var leafEntry Entry
	first := true
	for id, e := range entries {
		if len(children[id]) > 0 {
			continue
		}
		if first || e.Timestamp.After(leafEntry.Timestamp) ||
			(e.Timestamp.Equal(leafEntry.Timestamp) && id < leaf) {
			leaf = id
			leafEntry = e
			first = false
		}
	}
	return leaf
}

// Leaf returns the session's unique childless entry with the greatest
// timestamp.
func (s *Session) Leaf() (Entry, bool) {
	if s.leaf == "" {
		return Entry{}, false
	}
	return s.entries[s.leaf], true
}

// Roots returns the entries with no parent in this file, in file order.
func (s *Session) Roots() []Entry {
	out := make([]Entry, 0, len(s.roots))
	for _, id := range s.roots {
		out = append(out, s.entries[id])
	}
	return out
}

// Children returns id's children, sorted ascending by timestamp then id.
func (s *Session) Children(id string) []Entry {
	ids := s.children[id]
	out := make([]Entry, 0, len(ids))
	for _, cid := range ids {
		out = append(out, s.entries[cid])
	}
	return out
}

// GetEntryByID returns the entry with the given id.
func (s *Session) GetEntryByID(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of entries in the session.
func (s *Session) Len() int { return len(s.entries) }

// All returns every entry in file order.
func (s *Session) All() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// GetAncestorPath returns the chain of entries from the session's root
// down to id, inclusive, root first. Returns false if id is unknown.
func (s *Session) GetAncestorPath(id string) ([]Entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	path := []Entry{e}
	cur := e
	for !cur.IsRoot() {
		parent, ok := s.entries[cur.ParentID]
		if !ok {
			break
		}
		path = append(path, parent)
		cur = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}
