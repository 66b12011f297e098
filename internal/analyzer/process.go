package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
)

const maxOutputBytes = 16 << 20 // 16MiB, generous for a single segment's analysis JSON

// runResult captures one subprocess invocation, grounded on the source
// repo's ExecutionResult (internal/tactile/direct.go).
type runResult struct {
	stdout     []byte
	stderr     []byte
	exitCode   int
	timedOut   bool
	canceled   bool
	duration   time.Duration
	truncated  bool
}

func (a *Adapter) runOnce(ctx context.Context, jobID string, attempt int, seg domain.Segment) (runResult, error) {
	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, a.cfg.Args...)
	args = append(args,
		"--session-file", seg.SessionFile,
		"--start-entry", seg.StartEntryID,
		"--end-entry", seg.EndEntryID,
		"--prompt-file", a.cfg.PromptFile,
		"--provider", a.cfg.Provider,
		"--model", a.cfg.Model,
	)
	if a.cfg.SkillsDir != "" {
		args = append(args, "--skills-dir", a.cfg.SkillsDir)
	}

	cmd := exec.CommandContext(execCtx, a.cfg.Command, args...)
	cmd.Env = buildEnv(a.cfg.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutputBytes}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	start := time.Now()
	runErr := cmd.Run()
	res := runResult{
		stdout:    stdoutBuf.Bytes(),
		stderr:    stderrBuf.Bytes(),
		exitCode:  -1,
		duration:  time.Since(start),
		truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if logErr := a.writeLog(jobID, attempt, seg, args, res, runErr); logErr != nil {
		logging.Get(logging.CategoryAnalyzer).Warn("failed to write analysis log", "job", jobID, "error", logErr)
	}

	if runErr == nil {
		res.exitCode = 0
		return res, nil
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		res.timedOut = true
		return res, fmt.Errorf("analyzer timed out after %s: %w", timeout, runErr)
	case execCtx.Err() == context.Canceled:
		res.canceled = true
		return res, fmt.Errorf("analyzer canceled: %w", runErr)
	default:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.exitCode = exitErr.ExitCode()
		}
		return res, fmt.Errorf("analyzer exited: %w", runErr)
	}
}

// buildEnv starts from the parent process's environment so the
// subprocess inherits PATH etc., then appends the job-specific
// credential variables from cfg.Env, later entries winning per the
// standard exec.Cmd.Env override-by-append convention.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (a *Adapter) writeLog(jobID string, attempt int, seg domain.Segment, args []string, res runResult, runErr error) error {
	if a.cfg.LogsDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.cfg.LogsDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(a.cfg.LogsDir, fmt.Sprintf("%s-attempt-%d.log", jobID, attempt))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "job: %s\nattempt: %d\nsegment: %s [%s..%s]\ncommand: %s %v\nduration: %s\nexit_code: %d\n",
		jobID, attempt, seg.SessionFile, seg.StartEntryID, seg.EndEntryID, a.cfg.Command, args, res.duration, res.exitCode)
	if runErr != nil {
		fmt.Fprintf(f, "error: %v\n", runErr)
	}
	if res.truncated {
		fmt.Fprintf(f, "output_truncated: true\n")
	}
	fmt.Fprintf(f, "--- stdout ---\n")
	f.Write(res.stdout)
	fmt.Fprintf(f, "\n--- stderr ---\n")
	f.Write(res.stderr)
	return nil
}

// limitedWriter caps total bytes written, grounded on the source repo's
// internal/tactile.limitedWriter: it pretends to accept everything so
// exec.Cmd never sees a short-write error, but silently discards past
// the cap.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
