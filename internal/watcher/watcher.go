package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/amanrag/internal/corpus"
)

// ErrStopped is returned by Start on a watcher that was already stopped.
var ErrStopped = errors.New("watcher stopped")

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a change is reported.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 2s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		PollInterval:   2 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// GenerationWatcher emits each new generation number of one data directory.
type GenerationWatcher struct {
	dataDir string
	opts    Options
	logger  *slog.Logger

	events chan int64

	mu      sync.Mutex
	last    int64
	stopCh  chan struct{}
	stopped bool
	polling bool
}

// New creates a watcher. The generation present now is the baseline and is
// not reported.
func New(dataDir string, opts Options, logger *slog.Logger) *GenerationWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	last, err := corpus.ReadGeneration(dataDir)
	if err != nil {
		logger.Warn("cannot read generation", slog.String("error", err.Error()))
	}
	return &GenerationWatcher{
		dataDir: dataDir,
		opts:    opts.WithDefaults(),
		logger:  logger,
		events:  make(chan int64, 1),
		last:    last,
		stopCh:  make(chan struct{}),
	}
}

// Events returns the channel of new generations. It is closed by Stop.
// A slow reader only ever sees the latest generation.
func (w *GenerationWatcher) Events() <-chan int64 {
	return w.events
}

// Polling reports whether the watcher fell back to polling.
func (w *GenerationWatcher) Polling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polling
}

// Start watches until ctx is cancelled or Stop is called. Events is closed
// whenever Start returns, including when it cannot begin watching.
func (w *GenerationWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	w.mu.Unlock()

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		w.Stop()
		return fmt.Errorf("create data dir: %w", err)
	}

	if !w.opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(w.dataDir); err == nil {
				return w.runFsnotify(ctx, fsw)
			}
			_ = fsw.Close()
		}
		w.logger.Warn("fsnotify unavailable, polling for generation changes",
			slog.String("data_dir", w.dataDir),
			slog.Duration("interval", w.opts.PollInterval),
			slog.String("error", err.Error()))
	}

	w.mu.Lock()
	w.polling = true
	w.mu.Unlock()
	return w.runPolling(ctx)
}

func (w *GenerationWatcher) runFsnotify(ctx context.Context, fsw *fsnotify.Watcher) error {
	defer func() { _ = fsw.Close() }()

	deb := newDebouncer(w.opts.DebounceWindow, w.check)
	defer deb.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			// Loads write generation.tmp then rename it over generation.
			if filepath.Base(ev.Name) == corpus.GenerationFileName &&
				ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				deb.Trigger()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *GenerationWatcher) runPolling(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the generation file and emits it if it moved forward.
func (w *GenerationWatcher) check() {
	gen, err := corpus.ReadGeneration(w.dataDir)
	if err != nil {
		w.logger.Warn("cannot read generation", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || gen <= w.last {
		return
	}
	w.last = gen

	// Replace an unread older generation.
	select {
	case <-w.events:
	default:
	}
	w.events <- gen
	w.logger.Info("new corpus generation", slog.Int64("generation", gen))
}

// Stop stops the watcher and closes Events. Safe to call multiple times.
func (w *GenerationWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	close(w.events)
}
