// Package watcher is the Watcher + Trigger (spec.md §4.6): it subscribes
// to file create/modify events on the hub sessions directory plus each
// enabled spoke directory, tracks per-file idle state, and enqueues
// `initial` analysis jobs once a session goes quiet. Grounded on the
// source repo's fsnotify-based file watcher
// (internal/core/mangle_watcher.go): one fsnotify.Watcher, a debounce
// map guarded by a mutex, and a select loop over events/errors/stop
// alongside a ticker-driven periodic pass — generalized here from a
// fixed debounce window to an idle-timeout sweep.
package watcher

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
)

// JobEnqueuer is the subset of the job queue the watcher needs: the
// dedup check and the enqueue call. Accepting an interface here (rather
// than *queue.Queue directly) keeps this package testable without a
// live SQLite-backed queue and avoids binding the watcher to the
// queue's full surface.
type JobEnqueuer interface {
	HasExistingJob(sessionFile, startEntryID, endEntryID string) (bool, error)
	Enqueue(job domain.Job) (string, error)
}

// SpokeDir is one enabled spoke's name and local directory.
type SpokeDir struct {
	Name string
	Path string
}

// Config configures a Watcher.
type Config struct {
	HubDir        string
	Spokes        []SpokeDir
	IdleTimeout   time.Duration
	SweepInterval time.Duration // how often the idle sweep runs; also bounds Stop()'s blocking time
	Hostname      string        // computer tag for hub-local files; defaults to os.Hostname()
	MaxRetries    int           // carried into enqueued jobs
}

// Watcher watches the hub and spoke directories and enqueues `initial`
// jobs for sessions that have gone idle since their last analyzed point.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	queue   JobEnqueuer
	parseFn sessionParser

	mu     sync.Mutex
	states map[string]*fileState

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Watcher. It does not start watching until Start is called.
func New(cfg Config, q JobEnqueuer) (*Watcher, error) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 || cfg.SweepInterval > 5*time.Second {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		} else {
			cfg.Hostname = "unknown-host"
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		queue:   q,
		parseFn: defaultSessionParser,
		states:  make(map[string]*fileState),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start adds every watched directory to the underlying fsnotify watcher
// and begins the event/sweep loop in a goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.watchedDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("failed to create watched directory", "dir", dir, "error", err)
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("failed to watch directory", "dir", dir, "error", err)
		}
	}

	go w.run(ctx)
	return nil
}

// Stop signals the event loop to exit and waits for it, bounded by the
// configured sweep interval (at most a few seconds), per spec.md §4.6's
// "stop() cannot block for longer than a few seconds" requirement.
func (w *Watcher) Stop() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(w.cfg.SweepInterval):
		logging.Get(logging.CategoryWatcher).Warn("watcher stop timed out waiting for the event loop")
	}
	w.fsw.Close()
}

func (w *Watcher) watchedDirs() []string {
	dirs := []string{w.cfg.HubDir}
	for _, s := range w.cfg.Spokes {
		dirs = append(dirs, s.Path)
	}
	return dirs
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	log := logging.Get(logging.CategoryWatcher)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("fsnotify error", "error", err)
		case <-ticker.C:
			w.sweepIdle()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !isTranscriptFile(event.Name) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.states[event.Name]
	now := time.Now()
	if !ok {
		st = &fileState{FirstSeen: now, Computer: computerTag(event.Name, w.cfg.Spokes, w.cfg.Hostname)}
		w.states[event.Name] = st
	}
	st.LastEvent = now
	st.LastSize = info.Size()
}
