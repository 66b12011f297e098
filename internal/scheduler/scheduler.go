// Package scheduler is the Consolidation Scheduler of spec.md §4.8: four
// cron-driven background jobs that sweep the graph store to re-queue
// stale nodes, derive edges between them, aggregate recurring patterns,
// and decay/archive relevance. Grounded on the source repo's
// cron-scheduled maintenance idiom (internal/core's periodic GC pass),
// generalized from one ticker-driven sweep into several independently
// scheduled jobs on robfig/cron/v3 — a real dependency present in
// go.mod but with no usage example anywhere in the retrieval pack
// (only bare go.mod listings reference it); its API below is its
// well-known public surface (cron.New, AddFunc, Start, Stop).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pibrain/internal/logging"
)

// JobName identifies one of the scheduler's cron-driven jobs.
type JobName string

const (
	JobReanalysis          JobName = "reanalysis"
	JobConnectionDiscovery JobName = "connection-discovery"
	JobPatternAggregation  JobName = "pattern-aggregation"
	JobRelevanceDecay      JobName = "relevance-decay"
	JobCreativeAssociation JobName = "creative-association"
)

// Result is the structured outcome of one job run, per spec.md §4.8's
// "report a structured result (start, end, items-processed, details,
// optional error)".
type Result struct {
	Job            JobName
	Start          time.Time
	End            time.Time
	ItemsProcessed int
	Details        map[string]interface{}
	Err            error
}

// Config configures a Scheduler. The four schedule fields come straight
// from config.DaemonConfig so cron expressions stay a single piece of
// user-facing configuration, not duplicated into this package.
type Config struct {
	ReanalysisSchedule          string
	ConnectionDiscoverySchedule string
	PatternAggregationSchedule  string
	ClusteringSchedule          string // drives relevance decay+archive daily; creative association piggybacks weekly (see runDecayAndAssociation)

	ReanalysisLimit                  int
	ConnectionDiscoveryLimit         int
	ConnectionDiscoveryCooldownHours int
	MaxRetries                       int

	// CreativeAssociationWeekday is the day of week (within the daily
	// ClusteringSchedule firing) creative association additionally runs
	// on. Spec.md names no dedicated config field for its own cadence —
	// config.DaemonConfig carries exactly four schedule fields for what
	// spec.md calls "four jobs, each on its own cron expression", so
	// creative association shares ClusteringSchedule's daily firing and
	// is gated internally to a single weekday. Defaults to Sunday.
	CreativeAssociationWeekday time.Weekday
}

func (c Config) withDefaults() Config {
	if c.ReanalysisLimit <= 0 {
		c.ReanalysisLimit = 100
	}
	if c.ConnectionDiscoveryLimit <= 0 {
		c.ConnectionDiscoveryLimit = 100
	}
	if c.ConnectionDiscoveryCooldownHours <= 0 {
		c.ConnectionDiscoveryCooldownHours = 24
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Scheduler registers and runs the four consolidation jobs on their own
// cron schedules.
type Scheduler struct {
	cfg Config
	cr  *cron.Cron

	mu        sync.Mutex
	lastRun   map[JobName]Result
	cooldowns map[string]time.Time // node id -> last connection-discovery run, reset on restart

	now func() time.Time // swappable in tests; defaults to time.Now
}

// New builds a Scheduler. Call Start to register jobs and begin the
// cron driver.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		cr:        cron.New(),
		lastRun:   make(map[JobName]Result),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Start validates and registers all four cron entries and starts the
// driver in its own goroutine. ctx cancellation does not stop the cron
// driver itself (robfig/cron has no context-aware Start); callers must
// pair Start with a deferred Stop.
func (s *Scheduler) Start(ctx context.Context, deps Deps) error {
	log := logging.Get(logging.CategoryScheduler)

	entries := []struct {
		name JobName
		expr string
		run  func(context.Context, Deps) Result
	}{
		{JobReanalysis, s.cfg.ReanalysisSchedule, s.runReanalysis},
		{JobConnectionDiscovery, s.cfg.ConnectionDiscoverySchedule, s.runConnectionDiscovery},
		{JobPatternAggregation, s.cfg.PatternAggregationSchedule, s.runPatternAggregation},
		{JobRelevanceDecay, s.cfg.ClusteringSchedule, s.runDecayAndAssociation},
	}

	for _, e := range entries {
		e := e
		if _, err := s.cr.AddFunc(e.expr, func() {
			res := e.run(ctx, deps)
			s.record(res)
			if res.Err != nil {
				log.Warn("consolidation job failed", "job", res.Job, "error", res.Err)
			} else {
				log.Info("consolidation job finished", "job", res.Job, "items", res.ItemsProcessed,
					"duration", res.End.Sub(res.Start))
			}
		}); err != nil {
			return err
		}
	}

	s.cr.Start()
	log.Info("scheduler started", "reanalysis", s.cfg.ReanalysisSchedule,
		"connection_discovery", s.cfg.ConnectionDiscoverySchedule,
		"pattern_aggregation", s.cfg.PatternAggregationSchedule,
		"clustering", s.cfg.ClusteringSchedule)
	return nil
}

// Stop halts the cron driver, waiting for any in-flight job function to
// return.
func (s *Scheduler) Stop() {
	<-s.cr.Stop().Done()
}

// RunNow runs name synchronously outside its cron schedule, for manual
// triggering (the daemon's force-enqueue / administrative surface).
func (s *Scheduler) RunNow(ctx context.Context, name JobName, deps Deps) Result {
	var res Result
	switch name {
	case JobReanalysis:
		res = s.runReanalysis(ctx, deps)
	case JobConnectionDiscovery:
		res = s.runConnectionDiscovery(ctx, deps)
	case JobPatternAggregation:
		res = s.runPatternAggregation(ctx, deps)
	case JobRelevanceDecay, JobCreativeAssociation:
		res = s.runDecayAndAssociation(ctx, deps)
	default:
		res = Result{Job: name, Start: s.now(), End: s.now(), Err: errUnknownJob(name)}
	}
	s.record(res)
	return res
}

// LastResults returns the most recent Result for every job that has run
// at least once, for the daemon's status surface.
func (s *Scheduler) LastResults() map[JobName]Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[JobName]Result, len(s.lastRun))
	for k, v := range s.lastRun {
		out[k] = v
	}
	return out
}

func (s *Scheduler) record(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[res.Job] = res
}

type errUnknownJob JobName

func (e errUnknownJob) Error() string { return "scheduler: unknown job " + string(e) }
