// Package daemon wires the eight pipeline components (C1-C8) into one
// long-running process: the Hub. Grounded on the source repo's top-level
// orchestration idiom (cmd/nerd/main.go's rootCmd composing stores,
// workers, and background loops behind a single PersistentPreRunE), but
// generalized here into a reusable struct rather than inline main()
// wiring, so cmd/pibraind stays a thin cobra shell and Hub itself is
// testable without a subprocess.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"pibrain/internal/analyzer"
	"pibrain/internal/boundary"
	"pibrain/internal/config"
	"pibrain/internal/domain"
	"pibrain/internal/embedding"
	"pibrain/internal/logging"
	"pibrain/internal/queue"
	"pibrain/internal/scheduler"
	"pibrain/internal/store"
	"pibrain/internal/transcript"
	"pibrain/internal/watcher"
	"pibrain/internal/worker"
)

const pidFileName = "pibraind.pid"

// Hub composes every pipeline component against one database and runs
// them for the life of the process. Its method surface (Status,
// ForceEnqueue, RebuildIndex, Export) is the programmatic interface an
// out-of-scope CLI or web UI would call; cmd/pibraind itself only calls
// Start and Shutdown.
type Hub struct {
	cfg *config.Config

	store    *store.Store
	queue    *queue.Queue
	embedder embedding.Engine
	analyzer *analyzer.Adapter
	watcher  *watcher.Watcher
	pool     *worker.Pool
	sched    *scheduler.Scheduler

	pidFile  *PIDFile
	runID    string             // generated fresh on each Start, for correlating one run's log lines
	spokes   []watcher.SpokeDir // for resolving a force-enqueued session's computer tag the same way the watcher does
	hostname string
}

// New builds every component against cfg but starts none of them. The
// embedding engine's dimensions size the store's vector index, so the
// engine must exist before the store is opened.
func New(cfg *config.Config) (*Hub, error) {
	log := logging.Get(logging.CategoryDaemon)

	embedder, err := embedding.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("build embedding engine: %w", err)
	}

	dbPath := filepath.Join(cfg.Hub.DatabaseDir, "pibrain.db")
	blobsDir := filepath.Join(cfg.Hub.DatabaseDir, "nodes")
	st, err := store.Open(dbPath, blobsDir, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	q := queue.New(st.DB())

	az := analyzer.New(analyzer.Config{
		Command:    cfg.Daemon.AnalyzerCommand,
		Args:       cfg.Daemon.AnalyzerArgs,
		PromptFile: cfg.Daemon.PromptFile,
		SkillsDir:  cfg.Daemon.SkillsDir,
		Provider:   cfg.Daemon.Provider,
		Model:      cfg.Daemon.Model,
		LogsDir:    filepath.Join(cfg.Hub.DatabaseDir, "analysis-logs"),
		Timeout:    cfg.AnalysisTimeout(),
		BaseDelay:  cfg.RetryDelay(),
		MaxRetries: cfg.Daemon.MaxRetries,
	})

	spokes := make([]watcher.SpokeDir, 0, len(cfg.EnabledSpokes()))
	for _, s := range cfg.EnabledSpokes() {
		spokes = append(spokes, watcher.SpokeDir{Name: s.Name, Path: s.Path})
	}
	w, err := watcher.New(watcher.Config{
		HubDir:      cfg.Hub.SessionsDir,
		Spokes:      spokes,
		IdleTimeout: cfg.IdleTimeout(),
		MaxRetries:  cfg.Daemon.MaxRetries,
	}, q)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build watcher: %w", err)
	}

	pool := worker.New(worker.Config{
		Concurrency:     cfg.Daemon.ParallelWorkers,
		AnalysisTimeout: cfg.AnalysisTimeout(),
	}, q, az, st, embedder)

	sch := scheduler.New(scheduler.Config{
		ReanalysisSchedule:               cfg.Daemon.ReanalysisSchedule,
		ConnectionDiscoverySchedule:      cfg.Daemon.ConnectionDiscoverySchedule,
		PatternAggregationSchedule:       cfg.Daemon.PatternAggregationSchedule,
		ClusteringSchedule:               cfg.Daemon.ClusteringSchedule,
		ReanalysisLimit:                  cfg.Daemon.ReanalysisLimit,
		ConnectionDiscoveryLimit:         cfg.Daemon.ConnectionDiscoveryLimit,
		ConnectionDiscoveryCooldownHours: cfg.Daemon.ConnectionDiscoveryCooldownHours,
		MaxRetries:                       cfg.Daemon.MaxRetries,
	})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	log.Info("hub assembled", "sessions_dir", cfg.Hub.SessionsDir, "database_dir", cfg.Hub.DatabaseDir, "spokes", len(spokes))

	return &Hub{
		cfg:      cfg,
		store:    st,
		queue:    q,
		embedder: embedder,
		analyzer: az,
		watcher:  w,
		pool:     pool,
		sched:    sch,
		spokes:   spokes,
		hostname: hostname,
	}, nil
}

// computerTag resolves sessionFile's source-machine tag the same way the
// watcher resolves it for files it observes directly, so a force-enqueued
// job carries the same Recognition attribution an idle-sweep-triggered
// one would.
func (h *Hub) computerTag(sessionFile string) string {
	return watcher.ComputerTag(sessionFile, h.spokes, h.hostname)
}

// Start acquires the PID file and starts the watcher, worker pool, and
// scheduler, in that order. It returns once everything is running;
// none of the three block.
func (h *Hub) Start(ctx context.Context) error {
	pf, err := AcquirePIDFile(filepath.Join(h.cfg.Hub.DatabaseDir, pidFileName))
	if err != nil {
		return fmt.Errorf("acquire pid file: %w", err)
	}
	h.pidFile = pf
	h.runID = uuid.NewString()

	if err := h.watcher.Start(ctx); err != nil {
		h.pidFile.Release()
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := h.pool.Start(ctx); err != nil {
		h.watcher.Stop()
		h.pidFile.Release()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := h.sched.Start(ctx, scheduler.Deps{Queue: h.queue, Store: h.store, Embedder: h.embedder}); err != nil {
		h.pool.Stop()
		h.watcher.Stop()
		h.pidFile.Release()
		return fmt.Errorf("start scheduler: %w", err)
	}

	logging.Get(logging.CategoryDaemon).Info("hub started", "run_id", h.runID)
	return nil
}

// Shutdown stops every component in the order spec.md §4.7 and §4.6
// require: the watcher first (so no new jobs are enqueued), then the
// worker pool drains its in-flight jobs, then the scheduler, then the
// store is closed and the PID file released last.
func (h *Hub) Shutdown(ctx context.Context) error {
	log := logging.Get(logging.CategoryDaemon)

	h.watcher.Stop()
	log.Info("watcher stopped")

	h.pool.Stop()
	log.Info("worker pool drained")

	h.sched.Stop()
	log.Info("scheduler stopped")

	var errs []error
	if err := h.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := h.pidFile.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release pid file: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("hub shut down")
	return nil
}

// StatusReport summarizes the hub's live state for an operator.
type StatusReport struct {
	RunID        string
	Queue        queue.Stats
	LastJobRuns  map[scheduler.JobName]scheduler.Result
	VecAvailable bool
}

// Status reports the job queue's depth, the consolidation scheduler's
// most recent run per job, and whether semantic search is available.
func (h *Hub) Status() (StatusReport, error) {
	qstats, err := h.queue.Stats()
	if err != nil {
		return StatusReport{}, fmt.Errorf("queue stats: %w", err)
	}
	return StatusReport{
		RunID:        h.runID,
		Queue:        qstats,
		LastJobRuns:  h.sched.LastResults(),
		VecAvailable: h.store.VecAvailable(),
	}, nil
}

// ForceEnqueue parses sessionFile, detects its most recent segment, and
// enqueues a user-triggered job for it — the out-of-band "analyze this
// now" escape hatch spec.md §6 reserves for an external CLI, exposed
// here as the Go method that CLI would call.
func (h *Hub) ForceEnqueue(sessionFile string) (string, error) {
	session, err := transcript.ParseFile(sessionFile)
	if err != nil {
		return "", fmt.Errorf("parse session: %w", err)
	}

	_, segments := boundary.Detect(session, boundary.DefaultConfig())
	if len(segments) == 0 {
		return "", fmt.Errorf("no segments detected in %s", sessionFile)
	}
	seg := segments[len(segments)-1]
	seg.Computer = h.computerTag(sessionFile)

	job := domain.NewJob(domain.JobUserTriggered, sessionFile, &seg, nil, h.cfg.Daemon.MaxRetries)
	return h.queue.Enqueue(job)
}

// RebuildReport is the result of a RebuildIndex call.
type RebuildReport struct {
	NodesIndexed int
	Prune        store.PruneReport
}

// RebuildIndex repopulates the relational index from the blob tree and
// runs the read-only blob/row consistency check alongside it, per
// spec.md §4.3 and the blob-GC supplement in SPEC_FULL.md.
func (h *Hub) RebuildIndex() (RebuildReport, error) {
	n, err := h.store.RebuildIndex()
	if err != nil {
		return RebuildReport{}, fmt.Errorf("rebuild index: %w", err)
	}
	report, err := h.store.PruneBlobReferences()
	if err != nil {
		return RebuildReport{NodesIndexed: n}, fmt.Errorf("prune blob references: %w", err)
	}
	return RebuildReport{NodesIndexed: n, Prune: report}, nil
}
