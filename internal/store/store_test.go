package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/store"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "graph.db"), filepath.Join(dir, "blobs"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNode(sessionFile string) domain.Node {
	return domain.Node{
		SessionFile:  sessionFile,
		StartEntryID: "m1",
		EndEntryID:   "m3",
		Classification: domain.Classification{
			Project:  "pibrain",
			TaskType: "bugfix",
		},
		Content: domain.Content{
			Summary: "fixed a flaky test",
			Outcome: domain.OutcomeSuccess,
		},
		Metadata: domain.Metadata{ObservedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		Relevance: 0.9,
	}
}

func TestUpsertSegmentIsIdempotentOnSameSegment(t *testing.T) {
	s := openTestStore(t)
	node := sampleNode("/sessions/a.jsonl")

	v1, err := s.UpsertSegment(node, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	node2 := sampleNode("/sessions/a.jsonl")
	node2.Content.Summary = "fixed a flaky test, take two"
	v2, err := s.UpsertSegment(node2, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, v2)

	got, err := s.GetNode(node2.Segment().ID())
	require.NoError(t, err)
	require.Equal(t, 2, got.Version)
	require.Equal(t, "fixed a flaky test, take two", got.Content.Summary)
}

func TestGetNodeNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetNode("does-not-exist")
	require.Error(t, err)
	require.True(t, domain.IsNotFound(err))
}

func TestSearchByFilterMatchesProject(t *testing.T) {
	s := openTestStore(t)
	node := sampleNode("/sessions/a.jsonl")
	_, err := s.UpsertSegment(node, nil, nil)
	require.NoError(t, err)

	ids, err := s.SearchByFilter(store.Filter{Project: "pibrain"})
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestSearchByFilterMatchesTagTopicAndDateRange(t *testing.T) {
	s := openTestStore(t)

	a := sampleNode("/sessions/a.jsonl")
	a.Semantic = domain.Semantic{Tags: []string{"go", "sqlite"}, Topics: []string{"storage"}}
	a.Metadata.ObservedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.UpsertSegment(a, nil, nil)
	require.NoError(t, err)

	b := sampleNode("/sessions/b.jsonl")
	b.Semantic = domain.Semantic{Tags: []string{"rust"}, Topics: []string{"compilers"}}
	b.Metadata.ObservedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.UpsertSegment(b, nil, nil)
	require.NoError(t, err)

	ids, err := s.SearchByFilter(store.Filter{Tag: "go"})
	require.NoError(t, err)
	require.Equal(t, []string{a.Segment().ID()}, ids)

	ids, err = s.SearchByFilter(store.Filter{Topic: "compilers"})
	require.NoError(t, err)
	require.Equal(t, []string{b.Segment().ID()}, ids)

	ids, err = s.SearchByFilter(store.Filter{
		DateFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, []string{b.Segment().ID()}, ids)
}

func TestListNodeIDsMatchesTagAndDateRange(t *testing.T) {
	s := openTestStore(t)

	a := sampleNode("/sessions/a.jsonl")
	a.Semantic = domain.Semantic{Tags: []string{"go"}}
	a.Metadata.ObservedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.UpsertSegment(a, nil, nil)
	require.NoError(t, err)

	b := sampleNode("/sessions/b.jsonl")
	b.Semantic = domain.Semantic{Tags: []string{"rust"}}
	b.Metadata.ObservedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.UpsertSegment(b, nil, nil)
	require.NoError(t, err)

	ids, err := s.ListNodeIDs(store.NodeQuery{Tag: "rust"})
	require.NoError(t, err)
	require.Equal(t, []string{b.Segment().ID()}, ids)

	ids, err = s.ListNodeIDs(store.NodeQuery{DateTo: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, []string{a.Segment().ID()}, ids)
}

func TestSearchFTSFindsSummary(t *testing.T) {
	s := openTestStore(t)
	node := sampleNode("/sessions/a.jsonl")
	_, err := s.UpsertSegment(node, nil, nil)
	require.NoError(t, err)

	matches, err := s.SearchFTS("flaky", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSearchSemanticUnavailableWithoutVecExtension(t *testing.T) {
	s := openTestStore(t)
	require.False(t, s.VecAvailable())
	_, err := s.SearchSemantic([]float32{0.1, 0.2}, 5, nil, 0)
	require.Error(t, err)
	require.True(t, domain.IsUnavailable(err))
}

func TestGraphTraversalExpandsFromSeed(t *testing.T) {
	s := openTestStore(t)
	a := sampleNode("/sessions/a.jsonl")
	_, err := s.UpsertSegment(a, nil, nil)
	require.NoError(t, err)

	b := sampleNode("/sessions/b.jsonl")
	_, err = s.UpsertSegment(b, []domain.Edge{{
		Source: a.Segment().ID(), Target: b.Segment().ID(),
		Type: domain.EdgeRelatesTo, Creator: domain.CreatorAnalyzer, Confidence: 0.8,
	}}, nil)
	require.NoError(t, err)

	sub, err := s.GraphTraversal(a.Segment().ID(), 2, 10)
	require.NoError(t, err)
	require.Len(t, sub.NodeIDs, 2)
	require.Len(t, sub.Edges, 1)
}

func TestRebuildIndexRepopulatesFromBlobs(t *testing.T) {
	s := openTestStore(t)
	node := sampleNode("/sessions/a.jsonl")
	_, err := s.UpsertSegment(node, nil, nil)
	require.NoError(t, err)

	n, err := s.RebuildIndex()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetNode(node.Segment().ID())
	require.NoError(t, err)
	require.Equal(t, node.Content.Summary, got.Content.Summary)
}

func TestPruneBlobReferencesReportsNoDriftOnFreshStore(t *testing.T) {
	s := openTestStore(t)
	node := sampleNode("/sessions/a.jsonl")
	_, err := s.UpsertSegment(node, nil, nil)
	require.NoError(t, err)

	report, err := s.PruneBlobReferences()
	require.NoError(t, err)
	require.Empty(t, report.MissingBlobs)
	require.Empty(t, report.OrphanedBlobs)
}
