package transcript_test

import (
	"os"
	"path/filepath"
	"testing"

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

func TestParseFileBuildsTreeAndLeaf(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z","text":"hello"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z","text":"world"}`,
	})

	s, err := transcript.ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	leaf, ok := s.Leaf()
	require.True(t, ok)
	require.Equal(t, "m2", leaf.ID)

	path2, ok := s.GetAncestorPath("m2")
	require.True(t, ok)
	require.Equal(t, []string{"h1", "m1", "m2"}, idsOf(path2))
}

func TestParseFileRejectsMissingHeader(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"m1","kind":"message","timestamp":"2026-01-01T00:00:00Z"}`,
	})
	_, err := transcript.ParseFile(path)
	require.Error(t, err)
}

func TestParseFileRejectsDuplicateID(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
	})
	_, err := transcript.ParseFile(path)
	require.Error(t, err)
}

func TestParseFileRejectsUnknownParent(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"ghost","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
	})
	_, err := transcript.ParseFile(path)
	require.Error(t, err)
}

func TestParseFileTruncatedFinalRecordIsDropped(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"mess`,
	})
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
}

func TestAggregateStatisticsCountsBranchPoints(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z","tokens":10,"model":"gpt"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z","tokens":5,"model":"gpt"}`,
		`{"id":"m3","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:03:00Z","tokens":7,"model":"claude"}`,
	})
	s, err := transcript.ParseFile(path)
	require.NoError(t, err)

	stats := s.AggregateStatistics()
	require.Equal(t, 1, stats.BranchPoints)
	require.Equal(t, int64(22), stats.TotalTokens)
	require.ElementsMatch(t, []string{"gpt", "claude"}, stats.ModelsUsed)
}

func idsOf(entries []transcript.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
