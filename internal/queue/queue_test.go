package queue_test

import (
	"path/filepath"
	"testing"

	"pibrain/internal/domain"
	"pibrain/internal/queue"
	"pibrain/internal/store"

	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "graph.db"), filepath.Join(dir, "blobs"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return queue.New(s.DB())
}

func TestEnqueueDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	q := openTestQueue(t)

	_, err := q.Enqueue(domain.NewJob(domain.JobReanalysis, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)
	idFork, err := q.Enqueue(domain.NewJob(domain.JobFork, "/sessions/b.jsonl", nil, nil, 3))
	require.NoError(t, err)
	_, err = q.Enqueue(domain.NewJob(domain.JobConnection, "/sessions/c.jsonl", nil, nil, 3))
	require.NoError(t, err)

	job, err := q.Dequeue("worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, idFork, job.ID)
	require.Equal(t, domain.JobRunning, job.Status)
	require.Equal(t, "worker-1", job.WorkerID)
}

func TestEnqueueDequeueRoundTripsComputerTag(t *testing.T) {
	q := openTestQueue(t)

	seg := &domain.Segment{SessionFile: "/sessions/a.jsonl", StartEntryID: "m1", EndEntryID: "m2", Computer: "laptop"}
	_, err := q.Enqueue(domain.NewJob(domain.JobInitial, seg.SessionFile, seg, nil, 3))
	require.NoError(t, err)

	job, err := q.Dequeue("worker-1", 0)
	require.NoError(t, err)
	require.Equal(t, "laptop", job.Computer)
	require.Equal(t, "laptop", job.Segment.Computer)
}

func TestDequeueReturnsNilWhenEmpty(t *testing.T) {
	q := openTestQueue(t)
	job, err := q.Dequeue("worker-1", 0)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestCompleteClearsLease(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)

	job, err := q.Dequeue("worker-1", 0)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, q.Complete(id, "worker-1", "node-123"))

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, got.Status)
	require.Equal(t, "node-123", got.ResultNodeID)
	require.Empty(t, got.WorkerID)
}

func TestCompleteIgnoredWhenLeaseReassigned(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)
	_, err = q.Dequeue("worker-1", 0)
	require.NoError(t, err)

	require.NoError(t, q.Complete(id, "worker-2", "node-xyz"))

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobRunning, got.Status)
}

func TestFailReturnsToPendingUnderRetryBudget(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)
	_, err = q.Dequeue("worker-1", 0)
	require.NoError(t, err)

	require.NoError(t, q.Fail(id, "worker-1", "analyzer timed out"))

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, "analyzer timed out", got.LastError)
	require.False(t, got.LeaseExpiry.IsZero())
}

func TestFailExhaustsRetryBudgetToFailed(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 1))
	require.NoError(t, err)

	for i := 0; i < 1; i++ {
		_, err = q.Dequeue("worker-1", 0)
		require.NoError(t, err)
		require.NoError(t, q.Fail(id, "worker-1", "boom"))
	}

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, got.Status)
}

func TestFailPermanentSkipsRetryBudget(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 5))
	require.NoError(t, err)
	_, err = q.Dequeue("worker-1", 0)
	require.NoError(t, err)

	require.NoError(t, q.FailPermanent(id, "worker-1", "malformed transcript"))

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, got.Status)
	require.Equal(t, 0, got.RetryCount)
	require.Equal(t, "malformed transcript", got.LastError)
}

func TestFailPermanentIgnoredWhenLeaseReassigned(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 5))
	require.NoError(t, err)
	_, err = q.Dequeue("worker-1", 0)
	require.NoError(t, err)

	require.NoError(t, q.FailPermanent(id, "worker-2", "stale worker"))

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobRunning, got.Status)
}

func TestReleaseAllRunningReturnsToPending(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)
	_, err = q.Dequeue("worker-1", 0)
	require.NoError(t, err)

	n, err := q.ReleaseAllRunning()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, got.Status)
	require.Empty(t, got.WorkerID)
}

func TestHasExistingJobDetectsPendingDuplicate(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)

	has, err := q.HasExistingJob("/sessions/a.jsonl", "", "")
	require.NoError(t, err)
	require.True(t, has)

	has, err = q.HasExistingJob("/sessions/other.jsonl", "", "")
	require.NoError(t, err)
	require.False(t, has)
}

func TestRetryJobResetsCounters(t *testing.T) {
	q := openTestQueue(t)
	id, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 1))
	require.NoError(t, err)
	_, err = q.Dequeue("worker-1", 0)
	require.NoError(t, err)
	require.NoError(t, q.Fail(id, "worker-1", "boom"))

	got, err := q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, got.Status)

	require.NoError(t, q.RetryJob(id))

	got, err = q.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, got.Status)
	require.Equal(t, 0, got.RetryCount)
}

func TestCountsByStatus(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/a.jsonl", nil, nil, 3))
	require.NoError(t, err)
	_, err = q.Enqueue(domain.NewJob(domain.JobInitial, "/sessions/b.jsonl", nil, nil, 3))
	require.NoError(t, err)

	counts, err := q.CountsByStatus()
	require.NoError(t, err)
	require.Equal(t, 2, counts[domain.JobPending])
}
