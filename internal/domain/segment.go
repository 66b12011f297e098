package domain

import "time"

// BoundaryKind is the closed set of segment-boundary triggers from
// spec.md §4.2, modeled as a tagged variant rather than a free string
// per §9's "Sum types" redesign flag.
type BoundaryKind string

const (
	BoundaryStart          BoundaryKind = "start"
	BoundaryBranchSummary  BoundaryKind = "branch_summary"
	BoundaryTreeJump       BoundaryKind = "tree_jump"
	BoundaryCompaction     BoundaryKind = "compaction"
	BoundaryFork           BoundaryKind = "fork"
	BoundaryResume         BoundaryKind = "resume"
	BoundaryHandoff        BoundaryKind = "handoff"
)

// Boundary marks a point in a session's root-to-leaf walk where a new
// segment begins.
type Boundary struct {
	Kind      BoundaryKind
	EntryID   string
	Timestamp time.Time
}

// Segment is a contiguous ancestor-chain of entries within one session,
// identified by the (session-file, start-entry-id, end-entry-id) triple
// per spec.md §3.
type Segment struct {
	SessionFile     string
	StartEntryID    string
	EndEntryID      string
	Computer        string
	EntryCount      int
	OpeningBoundary BoundaryKind
}

// ID returns the deterministic node identity for this segment.
func (s Segment) ID() string {
	return ComputeNodeID(s.SessionFile, s.StartEntryID, s.EndEntryID)
}
