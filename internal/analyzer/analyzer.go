// Package analyzer wraps the opaque analysis subprocess described in
// spec.md §4.4: one process invocation per segment, one JSON document on
// its standard output, classified failures, and an exponential-backoff
// retry loop. Grounded on the source repo's internal/tactile.DirectExecutor
// (internal/tactile/direct.go): exec.CommandContext under a per-call
// timeout, buffered stdout/stderr capture, and exit-code/context-error
// inspection to tell a timeout from a normal non-zero exit.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
)

// Config configures one Adapter. Every field maps directly to the
// "input" contract of spec.md §4.4.
type Config struct {
	Command    string            // analyzer executable path
	Args       []string          // extra fixed arguments, before the per-job ones
	PromptFile string            // prompt template path
	SkillsDir  string            // optional skills directory; empty to omit
	Provider   string            // target model provider identifier
	Model      string            // target model identifier
	Env        map[string]string // credentials and other environment carried to the subprocess
	LogsDir    string            // per-job analysis logs are written here

	Timeout    time.Duration // per-attempt subprocess timeout
	BaseDelay  time.Duration // backoff base delay
	MaxRetries int
}

// Adapter invokes the analyzer subprocess for one segment at a time.
type Adapter struct {
	cfg Config
}

// New builds an Adapter from cfg.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Analyze runs the analyzer subprocess for seg, retrying on retryable
// failure classes per the configured backoff policy. On success it
// returns the parsed, schema-validated node. On failure it returns the
// failure classification and the last error observed; the caller
// (the worker pool) is responsible for routing that into the job
// queue's fail() call. Analyze never touches the graph store.
func (a *Adapter) Analyze(ctx context.Context, jobID string, seg domain.Segment) (*domain.Node, domain.AnalyzerFailureClass, error) {
	log := logging.Get(logging.CategoryAnalyzer)
	maxRetries := a.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	var lastClass domain.AnalyzerFailureClass

	for attempt := 0; attempt <= maxRetries; attempt++ {
		run, err := a.runOnce(ctx, jobID, attempt, seg)
		if err == nil {
			node, verr := validateAndParse(run.stdout, seg)
			if verr == nil {
				log.Info("analysis succeeded", "job", jobID, "attempt", attempt)
				return node, "", nil
			}
			lastErr = verr
			lastClass = domain.FailureUnknown
		} else {
			lastErr = err
			lastClass = classifyRun(run, err)
		}

		log.Warn("analysis attempt failed", "job", jobID, "attempt", attempt, "class", lastClass, "error", lastErr)

		if !lastClass.Retryable() || attempt == maxRetries {
			break
		}

		delay := retryDelay(a.cfg.BaseDelay, attempt+1)
		select {
		case <-ctx.Done():
			return nil, domain.FailureRetryableTransient, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastClass, fmt.Errorf("analysis failed after %d attempt(s): %w", maxRetries+1, lastErr)
}
