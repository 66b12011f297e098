package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by AcquirePIDFile when a live process
// already holds path.
var ErrAlreadyRunning = fmt.Errorf("daemon already running")

// PIDFile guards against multiple daemon instances per spec.md §5's "A
// PID file guards against multiple daemon instances; startup aborts if
// a live process already holds it." Grounded on the teacher's
// platform-split idiom (internal/tactile/platform_{unix,windows}.go):
// the liveness probe itself (processAlive, defined per-OS) is the only
// piece that differs across platforms.
type PIDFile struct {
	path string
}

// AcquirePIDFile creates path atomically (O_CREATE|O_EXCL) and writes
// the current process id into it. If path already exists, it reads the
// pid inside and probes whether that process is still alive: a live
// holder aborts startup with ErrAlreadyRunning; a dead holder's stale
// file is reclaimed automatically.
func AcquirePIDFile(path string) (*PIDFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		if _, werr := fmt.Fprintf(f, "%d\n", os.Getpid()); werr != nil {
			os.Remove(path)
			return nil, werr
		}
		return &PIDFile{path: path}, nil
	}
	if !os.IsExist(err) {
		return nil, err
	}

	existing, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, rerr
	}
	pid, perr := strconv.Atoi(strings.TrimSpace(string(existing)))
	if perr == nil && pid > 0 && processAlive(pid) {
		return nil, ErrAlreadyRunning
	}

	// Stale file: the pid inside is gone or unparseable. Reclaim it.
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return nil, err
	}
	return &PIDFile{path: path}, nil
}

// Release removes the PID file. Safe to call once, at shutdown.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}
	return os.Remove(p.path)
}

// ReadPIDFile reads the pid recorded under databaseDir's pibraind.pid,
// for an external "stop" command to signal a running Hub by.
func ReadPIDFile(databaseDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(databaseDir, pidFileName))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}
