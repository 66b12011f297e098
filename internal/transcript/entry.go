// Package transcript parses append-only session transcript files into an
// in-memory provenance tree, the way the teacher's store layer streams
// JSON documents off disk and wraps decode failures with the offending
// path (internal/store/migrations.go, internal/embedding/ollama.go).
package transcript

import "time"

// Kind is the closed set of transcript entry kinds.
type Kind string

const (
	KindHeader         Kind = "header"
	KindMessage        Kind = "message"
	KindBranchSummary  Kind = "branch_summary"
	KindCompaction     Kind = "compaction"
	KindSessionInfo    Kind = "session-info"
	KindLabel          Kind = "label"
)

// Entry is one immutable record from a transcript file.
type Entry struct {
	ID        string
	ParentID  string // empty for root entries
	Timestamp time.Time
	Kind      Kind
	Raw       map[string]interface{} // kind-specific payload, decoded verbatim

	// ParentSessionID is populated only on KindSessionInfo entries that
	// declare a fork origin; empty otherwise.
	ParentSessionID string
}

// IsRoot reports whether e has no parent within its file.
func (e Entry) IsRoot() bool {
	return e.ParentID == ""
}
