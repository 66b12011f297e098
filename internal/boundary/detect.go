package boundary

import (
	"sort"

	"pibrain/internal/domain"
	"pibrain/internal/transcript"
)

// Detect walks session in timestamp order (ties broken by id) and returns
// the ordered boundaries plus the segments they open, per spec.md §4.2.
// The walk order, not the parent-pointer tree, is the "root-to-leaf walk"
// the detector inspects: an append-only transcript's entries arrive in
// roughly temporal order even when a later entry's declared parent is not
// the entry immediately before it (a tree_jump).
func Detect(session *transcript.Session, cfg Config) ([]domain.Boundary, []domain.Segment) {
	walk := walkOrder(session)
	if len(walk) == 0 {
		return nil, nil
	}

	sessionID, _ := session.Header.Raw["session_id"].(string)
	gapThreshold := cfg.ResumeGapMinutes
	if gapThreshold <= 0 {
		gapThreshold = DefaultConfig().ResumeGapMinutes
	}

	var boundaries []domain.Boundary
	var prevEntry transcript.Entry
	haveMessage := false

	for i, e := range walk {
		kind, hit := classify(e, prevEntry, haveMessage, sessionID, gapThreshold)
		if i == 0 {
			kind, hit = domain.BoundaryStart, true
		}
		if hit {
			boundaries = append(boundaries, domain.Boundary{
				Kind:      kind,
				EntryID:   e.ID,
				Timestamp: e.Timestamp,
			})
		}
		prevEntry = e
		if e.Kind == transcript.KindMessage {
			haveMessage = true
		}
	}

	return boundaries, buildSegments(session.Path, walk, boundaries)
}

// classify reports the boundary kind (if any) that opens at e, given the
// walk's previous entry.
func classify(e, prev transcript.Entry, haveMessage bool, sessionID string, gapMinutes int) (domain.BoundaryKind, bool) {
	switch e.Kind {
	case transcript.KindBranchSummary:
		return domain.BoundaryBranchSummary, true
	case transcript.KindCompaction:
		return domain.BoundaryCompaction, true
	case transcript.KindSessionInfo:
		if e.ParentSessionID != "" && e.ParentSessionID != sessionID {
			return domain.BoundaryFork, true
		}
	}

	if e.Kind == transcript.KindMessage && prev.ID != "" && e.ParentID != "" && e.ParentID != prev.ID {
		return domain.BoundaryTreeJump, true
	}

	if e.Kind == transcript.KindMessage && haveMessage && !prev.Timestamp.IsZero() {
		gap := e.Timestamp.Sub(prev.Timestamp)
		if gap.Minutes() > float64(gapMinutes) {
			return domain.BoundaryResume, true
		}
	}

	// handoff: reserved, no detection heuristic defined; always false.

	return "", false
}

// walkOrder returns every non-header entry of session sorted ascending by
// timestamp, ties broken lexicographically by id, per spec.md §4.2's
// deterministic ordering rule.
func walkOrder(session *transcript.Session) []transcript.Entry {
	all := session.All()
	out := make([]transcript.Entry, 0, len(all))
	for _, e := range all {
		if e.Kind == transcript.KindHeader {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// buildSegments derives the maximal ranges between successive boundaries
// on walk, each carrying the boundary kind that opened it.
func buildSegments(sessionFile string, walk []transcript.Entry, boundaries []domain.Boundary) []domain.Segment {
	if len(boundaries) == 0 {
		return nil
	}

	openIdx := make(map[string]domain.BoundaryKind, len(boundaries))
	opensAt := make(map[int]bool, len(boundaries))
	indexByID := make(map[string]int, len(walk))
	for i, e := range walk {
		indexByID[e.ID] = i
	}
	for _, b := range boundaries {
		if idx, ok := indexByID[b.EntryID]; ok {
			opensAt[idx] = true
			openIdx[b.EntryID] = b.Kind
		}
	}

	var segments []domain.Segment
	start := 0
	for i := 1; i <= len(walk); i++ {
		if i == len(walk) || opensAt[i] {
			seg := domain.Segment{
				SessionFile:     sessionFile,
				StartEntryID:    walk[start].ID,
				EndEntryID:      walk[i-1].ID,
				EntryCount:      i - start,
				OpeningBoundary: openIdx[walk[start].ID],
			}
			segments = append(segments, seg)
			start = i
		}
	}
	return segments
}
