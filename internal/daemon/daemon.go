package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/runtime"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

// ErrAlreadyRunning is returned by Run when another daemon owns the PID file.
var ErrAlreadyRunning = errors.New("daemon already running")

// Opener builds a runtime. runtime.Open in production, a fake in tests.
type Opener func(ctx context.Context) (*runtime.Runtime, error)

// loaded is one runtime generation. Queries hold the read lock; retiring takes
// the write lock, so a runtime is never closed under a running query.
type loaded struct {
	mu     sync.RWMutex
	rt     *runtime.Runtime
	closed bool
}

// Daemon serves queries from a warm runtime and swaps it on new generations.
type Daemon struct {
	cfg    Config
	appCfg *config.Config
	open   Opener
	logger *slog.Logger

	current atomic.Pointer[loaded]
	reloads atomic.Int64
	started time.Time
	metrics *telemetry.Recorder

	// reloadMu serializes reloads.
	reloadMu sync.Mutex
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithOpener replaces runtime.Open.
func WithOpener(open Opener) Option {
	return func(d *Daemon) { d.open = open }
}

// WithLogger sets the daemon logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// NewDaemon creates a daemon for appCfg.
func NewDaemon(cfg Config, appCfg *config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	d := &Daemon{
		cfg:     cfg,
		appCfg:  appCfg,
		logger:  slog.Default(),
		metrics: telemetry.NewRecorder(telemetry.DefaultOptions()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.open == nil {
		d.open = func(ctx context.Context) (*runtime.Runtime, error) {
			return runtime.Open(ctx, appCfg, runtime.WithLogger(d.logger))
		}
	}
	return d, nil
}

// Run writes the PID file, opens the runtime and serves the socket until ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	pid := NewPIDFile(d.cfg.PIDPath)
	if pid.IsRunning() {
		return ErrAlreadyRunning
	}
	if err := pid.Write(); err != nil {
		return err
	}
	defer func() { _ = pid.Remove() }()

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		d.Watch(ctx)
	}()

	srv := NewServer(d.cfg.SocketPath, d.cfg.Timeout, d, d.logger)
	err := srv.ListenAndServe(ctx)
	cancel()
	<-watchDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start opens the first runtime. A data directory with no corpus yet is not
// fatal: queries fail with ERR_207_INDEX_NOT_LOADED until a load is published.
func (d *Daemon) Start(ctx context.Context) error {
	d.started = time.Now()
	if err := d.Reload(ctx); err != nil {
		if amerrors.GetCode(err) != amerrors.ErrCodeIndexNotLoaded {
			return err
		}
		d.logger.Warn("starting without a corpus", amerrors.LogAttr(err))
	}
	return nil
}

// Shutdown closes the current runtime.
func (d *Daemon) Shutdown() {
	d.retire(d.current.Swap(nil))
}

// Watch reloads on every new generation until ctx is cancelled.
func (d *Daemon) Watch(ctx context.Context) {
	w := watcher.New(d.appCfg.Storage.DataDir, watcher.Options{
		DebounceWindow: d.appCfg.Server.WatchDebounce,
		PollInterval:   d.appCfg.Server.WatchPoll,
	}, d.logger)

	// A load published between Start and here has no event of its own.
	if gen, err := corpus.ReadGeneration(d.appCfg.Storage.DataDir); err == nil && gen > d.generation() {
		if err := d.Reload(ctx); err != nil {
			d.logger.Error("reload failed; keeping previous runtime", amerrors.LogAttr(err))
		}
	}

	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("generation watcher stopped", slog.String("error", err.Error()))
		}
	}()
	for gen := range w.Events() {
		if gen <= d.generation() {
			continue
		}
		if err := d.Reload(ctx); err != nil {
			d.logger.Error("reload failed; keeping previous runtime", amerrors.LogAttr(err))
		}
	}
}

func (d *Daemon) generation() int64 {
	if l := d.current.Load(); l != nil {
		return l.rt.Generation
	}
	return 0
}

// Reload opens a fresh runtime and swaps it in. The old runtime is closed once
// its in-flight queries finish. On failure the old runtime stays.
func (d *Daemon) Reload(ctx context.Context) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	rt, err := d.open(ctx)
	if err != nil {
		return err
	}
	old := d.current.Swap(&loaded{rt: rt})
	d.retire(old)
	if old != nil {
		d.reloads.Add(1)
	}
	d.logger.Info("runtime loaded", slog.Int64("generation", rt.Generation))
	return nil
}

func (d *Daemon) retire(l *loaded) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if err := l.rt.Close(); err != nil {
		d.logger.Warn("closing runtime", slog.String("error", err.Error()))
	}
}

// acquire returns the current runtime read-locked. The caller must call release.
func (d *Daemon) acquire() (*loaded, error) {
	for {
		l := d.current.Load()
		if l == nil {
			return nil, runtime.ErrNotLoaded
		}
		l.mu.RLock()
		if !l.closed {
			return l, nil
		}
		// Retired between Load and RLock; the pointer has moved on.
		l.mu.RUnlock()
	}
}

func (l *loaded) release() { l.mu.RUnlock() }

// HandleQuery implements RequestHandler.
func (d *Daemon) HandleQuery(ctx context.Context, p QueryParams) (*QueryResult, error) {
	start := time.Now()
	res, err := d.query(ctx, p)
	ev := telemetry.QueryEvent{
		Query:    p.Query,
		Filtered: !p.Filters().IsEmpty(),
		Latency:  time.Since(start),
		Failed:   err != nil,
	}
	if res != nil {
		ev.Results = len(res.Results)
	}
	d.metrics.Record(ev)
	return res, err
}

func (d *Daemon) query(ctx context.Context, p QueryParams) (*QueryResult, error) {
	l, err := d.acquire()
	if err != nil {
		return nil, err
	}
	defer l.release()

	engine := l.rt.Engine
	topK := engine.DefaultTopK()
	if p.TopK != nil {
		topK = *p.TopK
	}

	res := &QueryResult{Generation: l.rt.Generation}
	if p.Explain {
		exp, err := engine.Explain(ctx, p.Query, p.Filters(), topK)
		if err != nil {
			return nil, err
		}
		res.Explanation = exp
		res.Results = exp.Results
		return res, nil
	}

	res.Results, err = engine.Query(ctx, p.Query, p.Filters(), topK)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Status implements RequestHandler.
func (d *Daemon) Status(ctx context.Context) StatusResult {
	st := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(d.started).Round(time.Second).String(),
		Reloads: d.reloads.Load(),
	}
	q := d.metrics.Snapshot()
	st.Queries = &q
	l, err := d.acquire()
	if err != nil {
		return st
	}
	defer l.release()
	if rs, err := l.rt.Status(ctx); err == nil {
		st.Runtime = rs
	} else {
		d.logger.Warn("runtime status failed", slog.String("error", err.Error()))
	}
	return st
}
