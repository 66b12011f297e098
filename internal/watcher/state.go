package watcher

import "time"

// fileState is the watcher's per-file bookkeeping, per spec.md §4.6:
// first-seen timestamp, last-event timestamp, last-size, and a
// fingerprint of the last seen parent-pointer chain, plus the end-entry
// id of the unanalyzed range's start boundary so a repeat sweep doesn't
// re-enqueue a range it already queued.
type fileState struct {
	FirstSeen   time.Time
	LastEvent   time.Time
	LastSize    int64
	Fingerprint string
	Computer    string // resolved once, on first sight of the file, via computerTag

	LastAnalyzedEndEntryID string
}

func (s *fileState) idleSince(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastEvent) >= idleTimeout
}
