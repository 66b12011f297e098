package boundary_test

import (
	"os"
	"path/filepath"
	"testing"

	"pibrain/internal/boundary"
	"pibrain/internal/transcript"

	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectSingleSegmentNoBoundaries(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
		`{"id":"m3","parent_id":"m2","kind":"message","timestamp":"2026-01-01T00:03:00Z"}`,
	})
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)

	bounds, segs := boundary.Detect(s, boundary.DefaultConfig())
	require.Len(t, bounds, 1)
	require.Equal(t, "m1", bounds[0].EntryID)
	require.Len(t, segs, 1)
	require.Equal(t, "m1", segs[0].StartEntryID)
	require.Equal(t, "m3", segs[0].EndEntryID)
	require.Equal(t, 3, segs[0].EntryCount)
}

func TestDetectBranchSummaryAndCompactionSplitIntoThree(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
		`{"id":"b1","parent_id":"m2","kind":"branch_summary","timestamp":"2026-01-01T00:03:00Z"}`,
		`{"id":"m3","parent_id":"b1","kind":"message","timestamp":"2026-01-01T00:04:00Z"}`,
		`{"id":"c1","parent_id":"m3","kind":"compaction","timestamp":"2026-01-01T00:05:00Z"}`,
		`{"id":"m4","parent_id":"c1","kind":"message","timestamp":"2026-01-01T00:06:00Z"}`,
	})
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)

	bounds, segs := boundary.Detect(s, boundary.DefaultConfig())
	require.Len(t, segs, 3)
	require.Len(t, bounds, 3)

	total := 0
	for _, seg := range segs {
		total += seg.EntryCount
	}
	require.Equal(t, 6, total, "segments must cover every non-header entry exactly once")
	require.Equal(t, "b1", segs[1].StartEntryID)
	require.Equal(t, "c1", segs[2].StartEntryID)
}

func TestDetectResumeGapOpensSegment(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:20:00Z"}`,
	})
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)

	bounds, segs := boundary.Detect(s, boundary.Config{ResumeGapMinutes: 10})
	require.Len(t, segs, 2)
	require.Equal(t, "m2", bounds[len(bounds)-1].EntryID)
}

func TestDetectTreeJumpWhenParentIsNotPriorWalkPosition(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
		`{"id":"m3","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:03:00Z"}`,
	})
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)

	bounds, _ := boundary.Detect(s, boundary.DefaultConfig())
	var found bool
	for _, b := range bounds {
		if b.Kind == "tree_jump" {
			found = true
		}
	}
	require.True(t, found)
}
