package interrupt

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileWatcher polls for a scheduler-written preemption marker file. Some
// schedulers announce an impending eviction by creating a well-known file
// on shared or local storage instead of (or before) delivering a signal;
// the watcher folds that channel into the same latch.
type FileWatcher struct {
	mu sync.Mutex

	path     string
	interval time.Duration
	latch    *Latch

	running  bool
	stopChan chan struct{}

	logger *zap.Logger
}

// WatcherOption configures a FileWatcher.
type WatcherOption func(*FileWatcher)

// WithPollInterval overrides the default 1s poll interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewFileWatcher creates a watcher that triggers latch when path appears.
// The file not existing yet is the normal case; any other stat error is
// surfaced immediately so a bad mount does not silently disable the
// channel.
func NewFileWatcher(path string, latch *Latch, logger *zap.Logger, opts ...WatcherOption) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		latch:    latch,
		stopChan: make(chan struct{}),
		logger:   logger.With(zap.String("component", "interrupt_filewatch")),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat trigger path %s: %w", path, err)
	}
	return w, nil
}

// Start begins polling. A marker already present at start triggers
// immediately.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("trigger file watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop halts polling. Idempotent.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	if w.check() {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if w.check() {
				return
			}
		}
	}
}

// check returns true once the marker has been observed; the watcher has
// nothing further to do after the one-shot trigger.
func (w *FileWatcher) check() bool {
	if _, err := os.Stat(w.path); err != nil {
		return false
	}
	w.logger.Warn("preemption marker file observed", zap.String("path", w.path))
	w.latch.Trigger()
	return true
}

// IsRunning reports whether the watcher is polling.
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
