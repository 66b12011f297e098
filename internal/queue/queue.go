// Package queue is the durable, priority-ordered, lease-based job queue
// of spec.md §4.5, persisted in the same SQLite database as the graph
// store (internal/store), grounded on the teacher's select-then-update
// transactional idiom (internal/store/local.go) and its database-shared
// singleton discipline: store.Open opens the one *sql.DB and the caller
// hands it to queue.New via Store.DB(), per spec.md §9's "singletons
// passed explicitly to constructors" redesign flag.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
)

var now = time.Now

// DefaultLeaseDuration is the lease window a dequeue grants a worker.
const DefaultLeaseDuration = 30 * time.Minute

// Queue is the analysis_queue table's transactional façade.
type Queue struct {
	db *sql.DB
	mu sync.Mutex
}

// New wraps db, an already-migrated connection (see store.Open) that
// owns the analysis_queue table.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts job as pending and returns its assigned id. If job.ID
// is empty one is generated.
func (q *Queue) Enqueue(job domain.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(q.db, job)
}

// EnqueueMany inserts every job in a single transaction.
func (q *Queue) EnqueueMany(jobs []domain.Job) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return nil, domain.NewInternal("EnqueueMany", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		id, err := q.enqueueLocked(tx, j)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.NewInternal("EnqueueMany.commit", err)
	}
	return ids, nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (q *Queue) enqueueLocked(ex execer, job domain.Job) (string, error) {
	id := job.ID
	if id == "" {
		var err error
		id, err = domain.NewJobID()
		if err != nil {
			return "", domain.NewInternal("Enqueue.id", err)
		}
	}

	var segStart, segEnd sql.NullString
	if job.Segment != nil {
		segStart = sql.NullString{String: job.Segment.StartEntryID, Valid: true}
		segEnd = sql.NullString{String: job.Segment.EndEntryID, Valid: true}
	}

	var ctxJSON []byte
	if job.Context != nil {
		var err error
		ctxJSON, err = json.Marshal(job.Context)
		if err != nil {
			return "", domain.NewInternal("Enqueue.context", err)
		}
	}

	_, err := ex.Exec(`
		INSERT INTO analysis_queue (id, type, priority, session_file, segment_start, segment_end,
			computer, context, status, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, id, string(job.Type), job.Type.Priority(), job.SessionFile, segStart, segEnd,
		job.Computer, string(ctxJSON), string(domain.JobPending), job.MaxRetries)
	if err != nil {
		return "", domain.NewInternal("Enqueue", err)
	}

	logging.Get(logging.CategoryQueue).Info("job enqueued", "id", id, "type", job.Type, "priority", job.Type.Priority())
	return id, nil
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var j domain.Job
	var segStart, segEnd, computer, workerID, lastError, resultNodeID, ctxJSON sql.NullString
	var leaseExpiry sql.NullTime
	var jobType, status string

	err := row.Scan(&j.ID, &jobType, &j.Priority, &j.SessionFile, &segStart, &segEnd, &computer, &ctxJSON,
		&status, &j.RetryCount, &j.MaxRetries, &workerID, &leaseExpiry, &j.CreatedAt, &j.UpdatedAt,
		&lastError, &resultNodeID)
	if err != nil {
		return nil, err
	}

	j.Type = domain.JobType(jobType)
	j.Status = domain.JobStatus(status)
	j.Computer = computer.String
	if segStart.Valid && segEnd.Valid {
		j.Segment = &domain.Segment{SessionFile: j.SessionFile, StartEntryID: segStart.String, EndEntryID: segEnd.String, Computer: computer.String}
	}
	if workerID.Valid {
		j.WorkerID = workerID.String
	}
	if leaseExpiry.Valid {
		j.LeaseExpiry = leaseExpiry.Time
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}
	if resultNodeID.Valid {
		j.ResultNodeID = resultNodeID.String
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		_ = json.Unmarshal([]byte(ctxJSON.String), &j.Context)
	}
	return &j, nil
}

const jobColumns = `id, type, priority, session_file, segment_start, segment_end, computer, context,
	status, retry_count, max_retries, worker_id, lease_expiry, created_at, updated_at,
	last_error, result_node_id`

// GetJob returns a single job by id.
func (q *Queue) GetJob(id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row := q.db.QueryRow(fmt.Sprintf(`SELECT %s FROM analysis_queue WHERE id = ?`, jobColumns), id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("GetJob", fmt.Errorf("job %q not found", id))
	}
	if err != nil {
		return nil, domain.NewInternal("GetJob", err)
	}
	return j, nil
}

// Dequeue atomically selects the highest-priority eligible pending job
// (FIFO within equal priority, by created_at then id), marks it running
// under workerID with a lease expiring after leaseDuration, and returns
// it. A nil, nil result means the queue is empty, per spec.md §4.5. The
// select-then-update runs inside one transaction on the single-writer
// connection (see store.Open's SetMaxOpenConns(1)), which is this
// module's substitute for a SELECT ... FOR UPDATE row lock: SQLite
// serializes writers anyway, so concurrent Dequeue calls on the same
// *sql.DB cannot award the same job to two callers.
func (q *Queue) Dequeue(workerID string, leaseDuration time.Duration) (*domain.Job, error) {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return nil, domain.NewInternal("Dequeue", err)
	}
	defer tx.Rollback()

	t := now()
	var id string
	err = tx.QueryRow(`
		SELECT id FROM analysis_queue
		WHERE status = ? AND (lease_expiry IS NULL OR lease_expiry <= ?)
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1
	`, string(domain.JobPending), t).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewInternal("Dequeue.select", err)
	}

	lease := t.Add(leaseDuration)
	if _, err := tx.Exec(`
		UPDATE analysis_queue SET status = ?, worker_id = ?, lease_expiry = ?, updated_at = ?
		WHERE id = ?
	`, string(domain.JobRunning), workerID, lease, t, id); err != nil {
		return nil, domain.NewInternal("Dequeue.update", err)
	}

	row := tx.QueryRow(fmt.Sprintf(`SELECT %s FROM analysis_queue WHERE id = ?`, jobColumns), id)
	job, err := scanJob(row)
	if err != nil {
		return nil, domain.NewInternal("Dequeue.reread", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.NewInternal("Dequeue.commit", err)
	}

	logging.Get(logging.CategoryQueue).Info("job dequeued", "id", id, "worker", workerID, "lease_expiry", lease)
	return job, nil
}

// Complete transitions jobID to completed and clears its lease. It is a
// no-op, not an error, if the job's current worker_id does not match
// workerID — the lease has since been reassigned to another worker and
// this caller's result is stale, per spec.md §4.5's concurrency guarantee.
func (q *Queue) Complete(jobID, workerID, resultNodeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, worker_id = NULL, lease_expiry = NULL, result_node_id = ?, updated_at = ?
		WHERE id = ? AND worker_id = ?
	`, string(domain.JobCompleted), nullableString(resultNodeID), now(), jobID, workerID)
	if err != nil {
		return domain.NewInternal("Complete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logging.Get(logging.CategoryQueue).Warn("complete ignored: lease no longer owned", "id", jobID, "worker", workerID)
	}
	return nil
}

// Fail records a failed attempt. If the job's retry budget is not
// exhausted it returns to pending with a backoff-delayed lease (the
// not-before time before which Dequeue will not reconsider it);
// otherwise it transitions to failed. Like Complete, a worker_id
// mismatch is a silent no-op.
func (q *Queue) Fail(jobID, workerID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return domain.NewInternal("Fail", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	var dbWorkerID sql.NullString
	err = tx.QueryRow(`SELECT retry_count, max_retries, worker_id FROM analysis_queue WHERE id = ?`, jobID).
		Scan(&retryCount, &maxRetries, &dbWorkerID)
	if err == sql.ErrNoRows {
		return domain.NewNotFound("Fail", fmt.Errorf("job %q not found", jobID))
	}
	if err != nil {
		return domain.NewInternal("Fail.select", err)
	}
	if !dbWorkerID.Valid || dbWorkerID.String != workerID {
		logging.Get(logging.CategoryQueue).Warn("fail ignored: lease no longer owned", "id", jobID, "worker", workerID)
		return nil
	}

	retryCount++
	t := now()
	if retryCount < maxRetries {
		lease := t.Add(retryDelay(retryCount))
		_, err = tx.Exec(`
			UPDATE analysis_queue
			SET status = ?, retry_count = ?, worker_id = NULL, lease_expiry = ?, last_error = ?, updated_at = ?
			WHERE id = ?
		`, string(domain.JobPending), retryCount, lease, errMsg, t, jobID)
	} else {
		_, err = tx.Exec(`
			UPDATE analysis_queue
			SET status = ?, retry_count = ?, worker_id = NULL, lease_expiry = NULL, last_error = ?, updated_at = ?
			WHERE id = ?
		`, string(domain.JobFailed), retryCount, errMsg, t, jobID)
	}
	if err != nil {
		return domain.NewInternal("Fail.update", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.NewInternal("Fail.commit", err)
	}
	return nil
}

// FailPermanent transitions jobID straight to failed, bypassing the
// retry budget entirely. The worker pool calls this for failure classes
// §4.4 marks non-retryable (permanent-input, permanent-config): those
// would never succeed on a later attempt regardless of how much retry
// budget the job has left, so counting one against it would just delay
// the inevitable. Like Fail, a worker_id mismatch is a silent no-op.
func (q *Queue) FailPermanent(jobID, workerID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, worker_id = NULL, lease_expiry = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND worker_id = ?
	`, string(domain.JobFailed), errMsg, now(), jobID, workerID)
	if err != nil {
		return domain.NewInternal("FailPermanent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logging.Get(logging.CategoryQueue).Warn("fail-permanent ignored: lease no longer owned", "id", jobID, "worker", workerID)
	}
	return nil
}

// ReleaseStale returns every running job whose lease has expired back to
// pending, incrementing no counters, and reports how many it released.
func (q *Queue) ReleaseStale() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, worker_id = NULL, lease_expiry = NULL, updated_at = ?
		WHERE status = ? AND lease_expiry IS NOT NULL AND lease_expiry <= ?
	`, string(domain.JobPending), now(), string(domain.JobRunning), now())
	if err != nil {
		return 0, domain.NewInternal("ReleaseStale", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryQueue).Info("released stale leases", "count", n)
	}
	return int(n), nil
}

// ReleaseAllRunning unconditionally returns every running job to pending,
// for recovery at daemon startup when no worker_id in the table can
// still be trusted.
func (q *Queue) ReleaseAllRunning() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, worker_id = NULL, lease_expiry = NULL, updated_at = ?
		WHERE status = ?
	`, string(domain.JobPending), now(), string(domain.JobRunning))
	if err != nil {
		return 0, domain.NewInternal("ReleaseAllRunning", err)
	}
	n, _ := res.RowsAffected()
	logging.Get(logging.CategoryQueue).Info("released all running jobs at startup", "count", n)
	return int(n), nil
}

// HasExistingJob reports whether a pending-or-running job already covers
// sessionFile (and, if non-empty, the given segment bounds), for the
// watcher's enqueue-deduplication check.
func (q *Queue) HasExistingJob(sessionFile, startEntryID, endEntryID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int
	err := q.db.QueryRow(`
		SELECT COUNT(*) FROM analysis_queue
		WHERE session_file = ? AND status IN (?, ?)
		  AND (segment_start = ? OR ? = '')
		  AND (segment_end = ? OR ? = '')
	`, sessionFile, string(domain.JobPending), string(domain.JobRunning),
		startEntryID, startEntryID, endEntryID, endEntryID).Scan(&count)
	if err != nil {
		return false, domain.NewInternal("HasExistingJob", err)
	}
	return count > 0, nil
}

// Counts is a status -> count snapshot.
type Counts map[domain.JobStatus]int

// CountsByStatus returns the number of jobs in each lifecycle state.
func (q *Queue) CountsByStatus() (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM analysis_queue GROUP BY status`)
	if err != nil {
		return nil, domain.NewInternal("CountsByStatus", err)
	}
	defer rows.Close()

	counts := make(Counts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.NewInternal("CountsByStatus.scan", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, nil
}

// Stats is a queue-wide summary for daemon status reporting.
type Stats struct {
	Counts           Counts
	OldestPendingAge time.Duration
}

// Stats returns queue depth by status plus the age of the oldest pending job.
func (q *Queue) Stats() (Stats, error) {
	counts, err := q.CountsByStatus()
	if err != nil {
		return Stats{}, err
	}

	q.mu.Lock()
	var oldest sql.NullTime
	err = q.db.QueryRow(`SELECT MIN(created_at) FROM analysis_queue WHERE status = ?`, string(domain.JobPending)).Scan(&oldest)
	q.mu.Unlock()
	if err != nil {
		return Stats{}, domain.NewInternal("Stats", err)
	}

	st := Stats{Counts: counts}
	if oldest.Valid {
		st.OldestPendingAge = now().Sub(oldest.Time)
	}
	return st, nil
}

// CancelJob marks a single job cancelled by transitioning it directly to
// failed with a fixed last_error, regardless of its current status.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, worker_id = NULL, lease_expiry = NULL, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(domain.JobFailed), "cancelled", now(), id)
	if err != nil {
		return domain.NewInternal("CancelJob", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFound("CancelJob", fmt.Errorf("job %q not found", id))
	}
	return nil
}

// CancelJobsForSession cancels every pending-or-running job targeting
// sessionFile, returning the number cancelled.
func (q *Queue) CancelJobsForSession(sessionFile string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, worker_id = NULL, lease_expiry = NULL, last_error = ?, updated_at = ?
		WHERE session_file = ? AND status IN (?, ?)
	`, string(domain.JobFailed), "cancelled", now(), sessionFile, string(domain.JobPending), string(domain.JobRunning))
	if err != nil {
		return 0, domain.NewInternal("CancelJobsForSession", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RetryJob resets a failed job back to pending with its retry counter
// cleared, per spec.md §4.5.
func (q *Queue) RetryJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE analysis_queue
		SET status = ?, retry_count = 0, worker_id = NULL, lease_expiry = NULL, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.JobPending), now(), id, string(domain.JobFailed))
	if err != nil {
		return domain.NewInternal("RetryJob", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFound("RetryJob", fmt.Errorf("no failed job %q", id))
	}
	return nil
}

// ClearOldCompleted deletes completed jobs older than olderThan and
// returns how many were removed.
func (q *Queue) ClearOldCompleted(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now().Add(-olderThan)
	res, err := q.db.Exec(`DELETE FROM analysis_queue WHERE status = ? AND updated_at <= ?`,
		string(domain.JobCompleted), cutoff)
	if err != nil {
		return 0, domain.NewInternal("ClearOldCompleted", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearAll deletes every row in the queue, used by tests and operator
// resets.
func (q *Queue) ClearAll() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.Exec(`DELETE FROM analysis_queue`); err != nil {
		return domain.NewInternal("ClearAll", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
