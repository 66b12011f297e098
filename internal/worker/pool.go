// Package worker is the Worker Pool of spec.md §4.7: N long-lived
// goroutines that each lease a job from the queue (C5), run the
// parse/detect/analyze/upsert pipeline (C1→C2→C4→C3), and report the
// outcome back to the queue. Grounded on the source repo's ticker-driven
// background-worker idiom (internal/store/reflection_worker.go's
// start/stop-channel/done-channel shape), generalized from one fixed
// worker per store to a configurable pool of N identical workers
// dequeuing from a shared queue.
package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"pibrain/internal/boundary"
	"pibrain/internal/domain"
	"pibrain/internal/logging"
	"pibrain/internal/transcript"
)

var (
	errNoSegment           = errors.New("job has no target segment")
	errSegmentEntryMissing = errors.New("segment entry not found in session")
)

// JobSource is the subset of the job queue a worker needs.
type JobSource interface {
	Dequeue(workerID string, leaseDuration time.Duration) (*domain.Job, error)
	Complete(jobID, workerID, resultNodeID string) error
	Fail(jobID, workerID, errMsg string) error
	FailPermanent(jobID, workerID, errMsg string) error
	ReleaseAllRunning() (int, error)
}

// SegmentAnalyzer is the subset of the analyzer adapter a worker needs.
type SegmentAnalyzer interface {
	Analyze(ctx context.Context, jobID string, seg domain.Segment) (*domain.Node, domain.AnalyzerFailureClass, error)
}

// GraphStore is the subset of the graph store a worker needs to persist
// a successfully analyzed node.
type GraphStore interface {
	UpsertSegment(node domain.Node, edges []domain.Edge, emb *domain.Embedding) (int, error)
}

// Embedder produces the vector attached to a freshly analyzed node. A
// nil Embedder is valid: the worker then upserts without an embedding,
// so the node has no vector and semantic search does not return it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Config configures a Pool.
type Config struct {
	Concurrency    int           // number of worker goroutines; default 1
	LeaseDuration  time.Duration // passed through to Dequeue
	AnalysisTimeout time.Duration // per-job context deadline for parse+detect+analyze
	PollInterval   time.Duration // how long an idle worker waits before re-polling an empty queue
	StopGrace      time.Duration // extra time Stop() waits beyond AnalysisTimeout for in-flight jobs
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 30 * time.Minute
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 30 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	return c
}

// Pool runs Config.Concurrency workers against a shared queue.
type Pool struct {
	cfg      Config
	queue    JobSource
	analyzer SegmentAnalyzer
	store    GraphStore
	embedder Embedder
	parseFn  func(path string) (*transcript.Session, error)

	mu          sync.Mutex
	subscribers []Subscriber

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Pool. Start must be called before it does any work.
func New(cfg Config, q JobSource, a SegmentAnalyzer, s GraphStore, e Embedder) *Pool {
	return &Pool{
		cfg:      cfg.withDefaults(),
		queue:    q,
		analyzer: a,
		store:    s,
		embedder: e,
		parseFn:  transcript.ParseFile,
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers s to receive lifecycle events. Not safe to call
// concurrently with Start.
func (p *Pool) Subscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// Start releases any jobs left running from a prior crash (spec.md
// §4.7's startup recovery), then spawns the configured number of worker
// goroutines. Non-blocking.
func (p *Pool) Start(ctx context.Context) error {
	if _, err := p.queue.ReleaseAllRunning(); err != nil {
		return err
	}

	for i := 0; i < p.cfg.Concurrency; i++ {
		id := workerID(i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, id)
		}()
	}
	return nil
}

// Stop signals every worker to finish its current job and exit, then
// waits up to AnalysisTimeout+StopGrace. Per spec.md §4.7 the pool's
// stop is bounded by that sum, not unbounded.
func (p *Pool) Stop() {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.AnalysisTimeout + p.cfg.StopGrace):
		logging.Get(logging.CategoryWorker).Warn("pool stop timed out waiting for workers")
	}
}

func workerID(i int) string {
	return "worker-" + strconv.Itoa(i)
}

func (p *Pool) run(ctx context.Context, id string) {
	log := logging.Get(logging.CategoryWorker)
	log.Info("worker started", "worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		job, err := p.queue.Dequeue(id, p.cfg.LeaseDuration)
		if err != nil {
			log.Warn("dequeue failed", "worker", id, "error", err)
			job = nil
		}

		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.processJob(ctx, id, job)
	}
}

func (p *Pool) processJob(ctx context.Context, workerID string, job *domain.Job) {
	log := logging.Get(logging.CategoryWorker)
	p.publish(Event{Type: EventJobStarted, JobID: job.ID, JobType: job.Type, SessionFile: job.SessionFile})

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.AnalysisTimeout)
	defer cancel()

	node, class, err := p.runPipeline(jobCtx, job)
	if err != nil {
		p.failJob(workerID, job, class, err)
		return
	}

	var emb *domain.Embedding
	if p.embedder != nil {
		if vec, embErr := p.embedder.Embed(jobCtx, node.Content.Summary); embErr == nil {
			emb = &domain.Embedding{
				NodeID: node.ID,
				Model:  p.embedder.Name(),
				Input:  node.Content.Summary,
				Format: domain.EmbeddingFormatVersion,
				Vector: vec,
			}
		} else {
			log.Warn("embedding failed, upserting without vector", "job", job.ID, "error", embErr)
		}
	}

	if _, err := p.store.UpsertSegment(*node, nil, emb); err != nil {
		p.failJob(workerID, job, domain.FailureUnknown, err)
		return
	}

	if err := p.queue.Complete(job.ID, workerID, node.ID); err != nil {
		log.Warn("complete call failed", "job", job.ID, "error", err)
	}
	p.publish(Event{Type: EventJobCompleted, JobID: job.ID, JobType: job.Type, SessionFile: job.SessionFile, NodeID: node.ID})
}

// runPipeline runs C1 (parse) -> C2 (boundary detect, to locate the
// job's segment within the current tree) -> C4 (analyze). A parse
// failure is permanent-input per spec.md §4.7 step 2: a session file
// that doesn't parse today won't parse on a later retry either.
func (p *Pool) runPipeline(ctx context.Context, job *domain.Job) (*domain.Node, domain.AnalyzerFailureClass, error) {
	if job.Segment == nil {
		return nil, domain.FailurePermanentInput, errNoSegment
	}

	session, err := p.parseFn(job.SessionFile)
	if err != nil {
		return nil, domain.FailurePermanentInput, err
	}

	seg, err := locateSegment(session, *job.Segment)
	if err != nil {
		return nil, domain.FailurePermanentInput, err
	}
	if seg.Computer == "" {
		seg.Computer = job.Computer
	}

	node, class, err := p.analyzer.Analyze(ctx, job.ID, seg)
	if err != nil {
		return nil, class, err
	}
	return node, domain.FailureUnknown, nil
}

func (p *Pool) failJob(workerID string, job *domain.Job, class domain.AnalyzerFailureClass, cause error) {
	log := logging.Get(logging.CategoryWorker)
	msg := cause.Error()

	var failErr error
	if class.Retryable() {
		failErr = p.queue.Fail(job.ID, workerID, msg)
	} else {
		failErr = p.queue.FailPermanent(job.ID, workerID, msg)
	}
	if failErr != nil {
		log.Warn("fail call failed", "job", job.ID, "error", failErr)
	}

	log.Warn("job failed", "job", job.ID, "class", class, "error", msg)
	p.publish(Event{Type: EventJobFailed, JobID: job.ID, JobType: job.Type, SessionFile: job.SessionFile, Err: cause})
}

// locateSegment finds target's boundaries within session's current
// boundary detection and returns the EntryCount/OpeningBoundary-filled
// Segment, falling back to target unchanged if detection no longer
// produces an exact (start, end) match (e.g. the session grew past the
// job's original leaf) — the session/start/end triple is still enough
// for the analyzer to read the right entries.
func locateSegment(session *transcript.Session, target domain.Segment) (domain.Segment, error) {
	if _, ok := session.GetEntryByID(target.StartEntryID); !ok {
		return domain.Segment{}, errSegmentEntryMissing
	}
	if _, ok := session.GetEntryByID(target.EndEntryID); !ok {
		return domain.Segment{}, errSegmentEntryMissing
	}

	_, segments := boundary.Detect(session, boundary.DefaultConfig())
	for _, s := range segments {
		if s.StartEntryID == target.StartEntryID && s.EndEntryID == target.EndEntryID {
			return s, nil
		}
	}
	return target, nil
}
