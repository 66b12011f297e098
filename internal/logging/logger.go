// Package logging provides category-scoped structured logging for the
// pi-brain daemon, built on go.uber.org/zap.
//
// Every subsystem logs through Get(category), mirroring the teacher's
// category-keyed logger shape, but backed by zap's leveled, structured
// sinks instead of one append-only file per category: a daemon's output
// normally goes to a supervisor or log aggregator, not a directory tree.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names the subsystem emitting a log line.
type Category string

const (
	CategoryDaemon     Category = "daemon"
	CategoryConfig     Category = "config"
	CategoryTranscript Category = "transcript"
	CategoryBoundary   Category = "boundary"
	CategoryStore      Category = "store"
	CategoryAnalyzer   Category = "analyzer"
	CategoryQueue      Category = "queue"
	CategoryWatcher    Category = "watcher"
	CategoryWorker     Category = "worker"
	CategoryScheduler  Category = "scheduler"
	CategoryEmbedding  Category = "embedding"
)

var (
	base      *zap.Logger
	baseMu    sync.RWMutex
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
)

func init() {
	// A sane default so packages can log before Initialize runs (e.g. in
	// tests); Initialize replaces this with a configured logger.
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// Initialize configures the process-wide zap logger. debug toggles
// development mode (console encoding, debug level, caller info).
func Initialize(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	baseMu.Lock()
	base = l
	baseMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	Get(CategoryDaemon).Info("logging initialized", "debug", debug)
	return nil
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	baseMu.RLock()
	l := base
	baseMu.RUnlock()
	_ = l.Sync()
}

// Logger is a category-scoped structured logger.
type Logger struct {
	category Category
	zap      *zap.SugaredLogger
}

// Get returns (or creates) the logger for category.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	baseMu.RLock()
	b := base
	baseMu.RUnlock()

	l := &Logger{
		category: category,
		zap:      b.With(zap.String("category", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.zap.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.zap.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.zap.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.zap.Errorw(msg, kv...) }

// Timer measures and logs an operation's duration, grounded on the
// teacher's logging.StartTimer/Stop pattern.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("operation completed", "op", t.op, "elapsed", elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold, debug otherwise.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("operation exceeded threshold", "op", t.op, "elapsed", elapsed, "threshold", threshold)
	} else {
		Get(t.category).Debug("operation completed", "op", t.op, "elapsed", elapsed)
	}
	return elapsed
}
