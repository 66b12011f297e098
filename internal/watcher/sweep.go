package watcher

import (
	"time"

	"pibrain/internal/boundary"
	"pibrain/internal/domain"
	"pibrain/internal/logging"
	"pibrain/internal/transcript"
)

type sessionParser func(path string) (*transcript.Session, error)

func defaultSessionParser(path string) (*transcript.Session, error) {
	return transcript.ParseFile(path)
}

// sweepIdle scans every tracked file for idleness and enqueues an
// `initial` job for each idle session whose last-analyzed point is
// behind the current leaf. The scan itself is a plain loop over an
// in-memory map — bounded, non-blocking — so it never makes Stop()
// wait longer than one fsnotify event/ticker select.
func (w *Watcher) sweepIdle() {
	log := logging.Get(logging.CategoryWatcher)
	now := time.Now()

	w.mu.Lock()
	idle := make([]string, 0)
	for path, st := range w.states {
		if st.idleSince(now, w.cfg.IdleTimeout) {
			idle = append(idle, path)
		}
	}
	w.mu.Unlock()

	for _, path := range idle {
		if err := w.processIdleSession(path); err != nil {
			log.Warn("failed to process idle session", "path", path, "error", err)
		}
	}
}

func (w *Watcher) processIdleSession(path string) error {
	session, err := w.parseFn(path)
	if err != nil {
		return err
	}

	leaf, ok := session.Leaf()
	if !ok {
		return nil
	}

	w.mu.Lock()
	st, ok := w.states[path]
	w.mu.Unlock()
	if !ok {
		return nil
	}

	if leaf.ID == st.LastAnalyzedEndEntryID {
		return nil
	}

	_, segments := boundary.Detect(session, boundary.DefaultConfig())
	startID := firstUnanalyzedStart(segments, st.LastAnalyzedEndEntryID)
	if startID == "" {
		return nil
	}

	hasExisting, err := w.queue.HasExistingJob(path, startID, leaf.ID)
	if err != nil {
		return err
	}
	if hasExisting {
		return nil
	}

	seg := &domain.Segment{SessionFile: path, StartEntryID: startID, EndEntryID: leaf.ID, Computer: st.Computer}
	job := domain.NewJob(domain.JobInitial, path, seg, nil, w.cfg.MaxRetries)
	if _, err := w.queue.Enqueue(job); err != nil {
		return err
	}

	w.mu.Lock()
	st.Fingerprint = fingerprint(session)
	st.LastAnalyzedEndEntryID = leaf.ID
	w.mu.Unlock()

	logging.Get(logging.CategoryWatcher).Info("enqueued initial job for idle session", "path", path, "start", startID, "end", leaf.ID)
	return nil
}

// firstUnanalyzedStart returns the start-entry-id of the unanalyzed
// range: the start of the first segment after lastAnalyzedEnd, or the
// very first segment's start if nothing has been analyzed yet. Returns
// "" if segments is empty.
func firstUnanalyzedStart(segments []domain.Segment, lastAnalyzedEnd string) string {
	if len(segments) == 0 {
		return ""
	}
	if lastAnalyzedEnd == "" {
		return segments[0].StartEntryID
	}
	for i, seg := range segments {
		if seg.EndEntryID == lastAnalyzedEnd {
			if i+1 < len(segments) {
				return segments[i+1].StartEntryID
			}
			return ""
		}
	}
	return segments[0].StartEntryID
}
