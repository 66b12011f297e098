package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"pibrain/internal/domain"
	"pibrain/internal/transcript"

	"github.com/stretchr/testify/require"
)

func TestIsUnderRejectsSiblingWithSharedPrefix(t *testing.T) {
	require.True(t, isUnder("/x/laptop/sessions/a.jsonl", "/x/laptop"))
	require.True(t, isUnder("/x/laptop", "/x/laptop"))
	require.False(t, isUnder("/x/laptop-backup/a.jsonl", "/x/laptop"))
}

func TestComputerTagPrefersMatchingSpoke(t *testing.T) {
	spokes := []SpokeDir{{Name: "laptop", Path: "/x/laptop"}, {Name: "desktop", Path: "/x/desktop"}}
	require.Equal(t, "laptop", computerTag("/x/laptop/sessions/a.jsonl", spokes, "hub-host"))
	require.Equal(t, "hub-host", computerTag("/x/laptop-backup/a.jsonl", spokes, "hub-host"))
	require.Equal(t, "hub-host", computerTag("/other/a.jsonl", spokes, "hub-host"))
}

func TestHandleEventResolvesComputerTagOnFirstSight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w := &Watcher{
		cfg:    Config{Spokes: []SpokeDir{{Name: "laptop", Path: dir}}, Hostname: "hub-host"},
		states: make(map[string]*fileState),
	}

	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})

	require.Equal(t, "laptop", w.states[path].Computer)
}

func TestIsTranscriptFileChecksExtensionAndDotfiles(t *testing.T) {
	require.True(t, isTranscriptFile("/sessions/a.jsonl"))
	require.False(t, isTranscriptFile("/sessions/.a.jsonl.swp"))
	require.False(t, isTranscriptFile("/sessions/a.txt"))
}

func writeSession(t *testing.T, lines []string) *transcript.Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)
	return s
}

func TestFingerprintIsDeterministicAndChangesWithEntries(t *testing.T) {
	s1 := writeSession(t, []string{
		`{"id":"h","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
	})
	s2 := writeSession(t, []string{
		`{"id":"h","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
	})
	s3 := writeSession(t, []string{
		`{"id":"h","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
	})

	require.Equal(t, fingerprint(s1), fingerprint(s2))
	require.NotEqual(t, fingerprint(s1), fingerprint(s3))
}

func TestFirstUnanalyzedStartWithNoPriorAnalysis(t *testing.T) {
	segs := []domain.Segment{{StartEntryID: "a", EndEntryID: "b"}, {StartEntryID: "c", EndEntryID: "d"}}
	require.Equal(t, "a", firstUnanalyzedStart(segs, ""))
}

func TestFirstUnanalyzedStartAdvancesPastAnalyzedSegment(t *testing.T) {
	segs := []domain.Segment{{StartEntryID: "a", EndEntryID: "b"}, {StartEntryID: "c", EndEntryID: "d"}}
	require.Equal(t, "c", firstUnanalyzedStart(segs, "b"))
}

func TestFirstUnanalyzedStartReturnsEmptyWhenFullyAnalyzed(t *testing.T) {
	segs := []domain.Segment{{StartEntryID: "a", EndEntryID: "b"}}
	require.Equal(t, "", firstUnanalyzedStart(segs, "b"))
}

type fakeQueue struct {
	existing bool
	enqueued []domain.Job
}

func (f *fakeQueue) HasExistingJob(sessionFile, start, end string) (bool, error) {
	return f.existing, nil
}

func (f *fakeQueue) Enqueue(job domain.Job) (string, error) {
	f.enqueued = append(f.enqueued, job)
	return "job-1", nil
}

func TestProcessIdleSessionEnqueuesCoveringSegment(t *testing.T) {
	session := writeSession(t, []string{
		`{"id":"h","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
	})

	q := &fakeQueue{}
	w := &Watcher{
		cfg:     Config{IdleTimeout: time.Minute, MaxRetries: 2},
		queue:   q,
		parseFn: func(string) (*transcript.Session, error) { return session, nil },
		states:  map[string]*fileState{"/sessions/a.jsonl": {LastEvent: time.Now(), Computer: "laptop"}},
	}

	require.NoError(t, w.processIdleSession("/sessions/a.jsonl"))
	require.Len(t, q.enqueued, 1)
	require.Equal(t, "m1", q.enqueued[0].Segment.StartEntryID)
	require.Equal(t, "m2", q.enqueued[0].Segment.EndEntryID)
	require.Equal(t, "laptop", q.enqueued[0].Segment.Computer)
	require.Equal(t, "laptop", q.enqueued[0].Computer)
}

func TestProcessIdleSessionSkipsWhenAlreadyCoveredLeaf(t *testing.T) {
	session := writeSession(t, []string{
		`{"id":"h","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
	})

	q := &fakeQueue{}
	w := &Watcher{
		cfg:     Config{IdleTimeout: time.Minute},
		queue:   q,
		parseFn: func(string) (*transcript.Session, error) { return session, nil },
		states: map[string]*fileState{"/sessions/a.jsonl": {
			LastEvent:              time.Now(),
			LastAnalyzedEndEntryID: "m1",
		}},
	}

	require.NoError(t, w.processIdleSession("/sessions/a.jsonl"))
	require.Empty(t, q.enqueued)
}
