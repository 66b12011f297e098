package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/transcript"

	"github.com/stretchr/testify/require"
)

func writeSession(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fakeQueue struct {
	mu         sync.Mutex
	completed  []completeCall
	failed     []failCall
	permFailed []failCall

	dequeueJob         *domain.Job
	dequeueCalls       int
	releasedAllRunning int
}

type completeCall struct{ jobID, workerID, resultNodeID string }
type failCall struct{ jobID, workerID, msg string }

func (f *fakeQueue) Dequeue(string, time.Duration) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dequeueCalls++
	if f.dequeueJob != nil && f.dequeueCalls == 1 {
		return f.dequeueJob, nil
	}
	return nil, nil
}

func (f *fakeQueue) ReleaseAllRunning() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasedAllRunning++
	return 0, nil
}

func (f *fakeQueue) Complete(jobID, workerID, resultNodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completeCall{jobID, workerID, resultNodeID})
	return nil
}

func (f *fakeQueue) Fail(jobID, workerID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failCall{jobID, workerID, errMsg})
	return nil
}

func (f *fakeQueue) FailPermanent(jobID, workerID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permFailed = append(f.permFailed, failCall{jobID, workerID, errMsg})
	return nil
}

func (f *fakeQueue) completedLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}

type fakeAnalyzer struct {
	node  *domain.Node
	class domain.AnalyzerFailureClass
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, jobID string, seg domain.Segment) (*domain.Node, domain.AnalyzerFailureClass, error) {
	return f.node, f.class, f.err
}

type capturingAnalyzer struct {
	fakeAnalyzer
	gotSegment domain.Segment
}

func (f *capturingAnalyzer) Analyze(ctx context.Context, jobID string, seg domain.Segment) (*domain.Node, domain.AnalyzerFailureClass, error) {
	f.gotSegment = seg
	return f.fakeAnalyzer.Analyze(ctx, jobID, seg)
}

type fakeStore struct {
	upserted []domain.Node
	err      error
}

func (f *fakeStore) UpsertSegment(node domain.Node, edges []domain.Edge, emb *domain.Embedding) (int, error) {
	f.upserted = append(f.upserted, node)
	return 1, f.err
}

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, nil }
func (f *fakeEmbedder) Name() string                                              { return "fake-embedder" }

type fakeSubscriber struct{ events []Event }

func (f *fakeSubscriber) Notify(e Event) { f.events = append(f.events, e) }

func testSegmentSession(t *testing.T) (string, domain.Segment) {
	path := writeSession(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z","text":"hello"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z","text":"world"}`,
	})
	return path, domain.Segment{SessionFile: path, StartEntryID: "m1", EndEntryID: "m2"}
}

func newTestPool(q JobSource, a SegmentAnalyzer, s GraphStore, e Embedder) *Pool {
	p := New(Config{AnalysisTimeout: 5 * time.Second}, q, a, s, e)
	p.parseFn = transcript.ParseFile
	return p
}

func TestProcessJobSuccessUpsertsAndCompletes(t *testing.T) {
	path, seg := testSegmentSession(t)
	node := &domain.Node{ID: seg.ID(), SessionFile: path, StartEntryID: "m1", EndEntryID: "m2",
		Content: domain.Content{Summary: "did a thing", Outcome: domain.OutcomeSuccess}}

	q := &fakeQueue{}
	st := &fakeStore{}
	em := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	sub := &fakeSubscriber{}

	p := newTestPool(q, &fakeAnalyzer{node: node}, st, em)
	p.Subscribe(sub)

	job := domain.NewJob(domain.JobInitial, path, &seg, nil, 3)
	job.ID = "job-1"
	p.processJob(context.Background(), "worker-1", &job)

	require.Len(t, st.upserted, 1)
	require.Equal(t, "did a thing", st.upserted[0].Content.Summary)
	require.Len(t, q.completed, 1)
	require.Equal(t, "job-1", q.completed[0].jobID)
	require.Equal(t, node.ID, q.completed[0].resultNodeID)
	require.Empty(t, q.failed)
	require.Empty(t, q.permFailed)

	require.Len(t, sub.events, 2)
	require.Equal(t, EventJobStarted, sub.events[0].Type)
	require.Equal(t, EventJobCompleted, sub.events[1].Type)
}

func TestRunPipelinePropagatesJobComputerIntoSegment(t *testing.T) {
	path, seg := testSegmentSession(t)
	seg.Computer = "laptop"
	node := &domain.Node{ID: seg.ID(), SessionFile: path, StartEntryID: "m1", EndEntryID: "m2",
		Content: domain.Content{Summary: "did a thing", Outcome: domain.OutcomeSuccess}}

	analyzer := &capturingAnalyzer{fakeAnalyzer: fakeAnalyzer{node: node}}
	p := newTestPool(&fakeQueue{}, analyzer, &fakeStore{}, nil)

	job := domain.NewJob(domain.JobInitial, path, &seg, nil, 3)
	_, _, err := p.runPipeline(context.Background(), &job)
	require.NoError(t, err)
	require.Equal(t, "laptop", analyzer.gotSegment.Computer)
}

func TestProcessJobParseFailureFailsPermanent(t *testing.T) {
	seg := domain.Segment{SessionFile: "/does/not/exist.jsonl", StartEntryID: "a", EndEntryID: "b"}
	q := &fakeQueue{}
	p := newTestPool(q, &fakeAnalyzer{}, &fakeStore{}, nil)

	job := domain.NewJob(domain.JobInitial, seg.SessionFile, &seg, nil, 3)
	job.ID = "job-1"
	p.processJob(context.Background(), "worker-1", &job)

	require.Len(t, q.permFailed, 1)
	require.Empty(t, q.failed)
}

func TestProcessJobMissingSegmentFailsPermanent(t *testing.T) {
	q := &fakeQueue{}
	p := newTestPool(q, &fakeAnalyzer{}, &fakeStore{}, nil)

	job := domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3)
	job.ID = "job-1"
	p.processJob(context.Background(), "worker-1", &job)

	require.Len(t, q.permFailed, 1)
}

func TestProcessJobRetryableAnalyzerFailureCallsFail(t *testing.T) {
	path, seg := testSegmentSession(t)
	q := &fakeQueue{}
	p := newTestPool(q, &fakeAnalyzer{class: domain.FailureRetryableTransient, err: errors.New("subprocess timed out")}, &fakeStore{}, nil)

	job := domain.NewJob(domain.JobInitial, path, &seg, nil, 3)
	job.ID = "job-1"
	p.processJob(context.Background(), "worker-1", &job)

	require.Len(t, q.failed, 1)
	require.Equal(t, "subprocess timed out", q.failed[0].msg)
	require.Empty(t, q.permFailed)
}

func TestProcessJobPermanentAnalyzerFailureSkipsRetryBudget(t *testing.T) {
	path, seg := testSegmentSession(t)
	q := &fakeQueue{}
	p := newTestPool(q, &fakeAnalyzer{class: domain.FailurePermanentConfig, err: errors.New("bad credentials")}, &fakeStore{}, nil)

	job := domain.NewJob(domain.JobInitial, path, &seg, nil, 3)
	job.ID = "job-1"
	p.processJob(context.Background(), "worker-1", &job)

	require.Len(t, q.permFailed, 1)
	require.Empty(t, q.failed)
}

func TestStartRecoversStaleLeasesAndProcessesOneJob(t *testing.T) {
	path, seg := testSegmentSession(t)
	node := &domain.Node{ID: seg.ID(), SessionFile: path, StartEntryID: "m1", EndEntryID: "m2",
		Content: domain.Content{Summary: "recovered", Outcome: domain.OutcomeSuccess}}

	job := domain.NewJob(domain.JobInitial, path, &seg, nil, 3)
	job.ID = "job-1"

	q := &fakeQueue{dequeueJob: &job}
	st := &fakeStore{}
	p := New(Config{AnalysisTimeout: 2 * time.Second, PollInterval: 20 * time.Millisecond}, q, &fakeAnalyzer{node: node}, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool { return q.completedLen() == 1 }, time.Second, 10*time.Millisecond)
	q.mu.Lock()
	require.Equal(t, 1, q.releasedAllRunning)
	q.mu.Unlock()

	cancel()
	p.Stop()
}

func TestLocateSegmentFallsBackToTargetWhenNoExactBoundaryMatch(t *testing.T) {
	path := writeSession(t, []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
		`{"id":"m3","parent_id":"m2","kind":"message","timestamp":"2026-01-01T00:03:00Z"}`,
	})
	session, err := transcript.ParseFile(path)
	require.NoError(t, err)

	target := domain.Segment{SessionFile: path, StartEntryID: "m2", EndEntryID: "m3"}
	got, err := locateSegment(session, target)
	require.NoError(t, err)
	require.Equal(t, target.StartEntryID, got.StartEntryID)
	require.Equal(t, target.EndEntryID, got.EndEntryID)
}
