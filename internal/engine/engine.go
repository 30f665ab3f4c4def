// Package engine owns the activation graph. Exactly one goroutine (Run)
// touches the graph; every other caller goes through the inbound queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starford/cortex/internal/apperr"
	"github.com/starford/cortex/internal/graph"
	"github.com/starford/cortex/internal/metrics"
	"github.com/starford/cortex/internal/models"
)

// Journal records processed stimuli.
type Journal interface {
	RecordStimulus(ctx context.Context, s models.Stimulus) error
}

// Config holds the scheduling policy of the owner loop.
type Config struct {
	// TickInterval drives the internal clock. Zero disables it and leaves
	// ticking to Tick.
	TickInterval   time.Duration
	PropagateEvery time.Duration
	DecayEvery     time.Duration
	RestEvery      time.Duration
	GardenEvery    time.Duration
	// ReloadDebounce delays a reload after a vault change so bursts of
	// edits cost a single scan.
	ReloadDebounce  time.Duration
	QueueSize       int
	SnapshotFile    string
	IOTimeout       time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the reference cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		PropagateEvery:  2 * time.Second,
		DecayEvery:      10 * time.Second,
		RestEvery:       30 * time.Second,
		GardenEvery:     60 * time.Second,
		ReloadDebounce:  2 * time.Second,
		QueueSize:       64,
		IOTimeout:       5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Engine is the graph owner.
type Engine struct {
	graph   *graph.Graph
	cfg     Config
	logger  *slog.Logger
	journal Journal
	now     func() time.Time
	onSnap  []func(models.Snapshot)

	inbox   chan request
	done    chan struct{}
	loaded  chan struct{}
	started atomic.Bool
	ready   atomic.Bool
	snap    atomic.Pointer[models.Snapshot]

	// Owned by the Run goroutine.
	lastPropagate time.Time
	lastDecay     time.Time
	lastRest      time.Time
	lastGarden    time.Time
	reloadAt      time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithJournal records every processed stimulus.
func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// OnSnapshot registers a hook called on the owner goroutine with every
// published snapshot. Hooks must not block.
func OnSnapshot(fn func(models.Snapshot)) Option {
	return func(e *Engine) { e.onSnap = append(e.onSnap, fn) }
}

// New creates an engine around g. g must not be used by anyone else.
func New(g *graph.Graph, cfg Config, opts ...Option) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	e := &Engine{
		graph:  g,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		inbox:  make(chan request, cfg.QueueSize),
		done:   make(chan struct{}),
		loaded: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	empty := models.Snapshot{Nodes: []models.SnapshotNode{}}
	e.snap.Store(&empty)
	return e
}

// Run loads the graph and serves the queue until ctx is cancelled, then saves.
// It returns nil on a clean shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	defer close(e.done)

	if _, err := e.graph.Load(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		e.logger.Error("engine: initial load failed, starting empty", slog.String("error", err.Error()))
	}
	now := e.now()
	e.lastPropagate, e.lastDecay, e.lastRest, e.lastGarden = now, now, now, now
	e.publish(now)
	e.ready.Store(true)
	close(e.loaded)
	e.logger.Info("engine: started", slog.Int("nodes", e.graph.Len()))

	var tick <-chan time.Time
	if e.cfg.TickInterval > 0 {
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-tick:
			e.tick(ctx, e.now())
		case req := <-e.inbox:
			req.apply(ctx, e)
		}
	}
}

func (e *Engine) shutdown() {
	e.ready.Store(false)
	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := e.graph.Save(ctx); err != nil {
		e.logger.Error("engine: shutdown save", slog.String("error", err.Error()))
	}
	e.logger.Info("engine: stopped")
}

// Ready reports whether the initial load finished and the loop is serving.
func (e *Engine) Ready() bool { return e.ready.Load() }

// Loaded is closed once the initial load, including its score write-back,
// has finished.
func (e *Engine) Loaded() <-chan struct{} { return e.loaded }

// Snapshot returns the last published snapshot. Safe from any goroutine.
func (e *Engine) Snapshot() models.Snapshot { return *e.snap.Load() }

// tick runs every task that is due at now.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	if due(&e.lastPropagate, now, e.cfg.PropagateEvery) {
		e.timed("propagate", func() { e.graph.Propagate() })
		e.publish(now)
	}

	decay := due(&e.lastDecay, now, e.cfg.DecayEvery)
	rest := due(&e.lastRest, now, e.cfg.RestEvery)
	switch {
	case decay && rest:
		e.timed("decay", e.graph.DecayAndRestAll)
	case decay:
		e.timed("decay", e.graph.DecayAll)
	case rest:
		e.timed("rest", e.graph.RestAll)
	}

	if due(&e.lastGarden, now, e.cfg.GardenEvery) {
		rep := e.graph.Garden(ctx)
		if len(rep.Promoted) > 0 || rep.Write.Failed > 0 {
			e.logger.Info("engine: garden",
				slog.Int("promoted", len(rep.Promoted)),
				slog.Int("written", rep.Write.Written),
				slog.Int("write_failures", rep.Write.Failed))
		}
		if err := e.graph.SaveState(); err != nil {
			e.logger.Warn("engine: save state", slog.String("error", err.Error()))
		}
	}

	if !e.reloadAt.IsZero() && !now.Before(e.reloadAt) {
		e.reload(ctx, now)
	}
}

func due(last *time.Time, now time.Time, every time.Duration) bool {
	if every <= 0 || now.Sub(*last) < every {
		return false
	}
	*last = now
	return true
}

func (e *Engine) timed(task string, fn func()) {
	start := time.Now()
	fn()
	metrics.TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

func (e *Engine) reload(ctx context.Context, now time.Time) (graph.LoadReport, error) {
	e.reloadAt = time.Time{}
	if err := e.graph.SaveState(); err != nil {
		e.logger.Warn("engine: save state before reload", slog.String("error", err.Error()))
	}
	rep, err := e.graph.Load(ctx)
	if err != nil {
		e.logger.Error("engine: reload failed, keeping previous graph", slog.String("error", err.Error()))
		return rep, err
	}
	e.publish(now)
	return rep, nil
}

// publish exports the top-K snapshot and hands it to every reader.
func (e *Engine) publish(now time.Time) {
	snap := e.graph.ExportSnapshot(e.graph.Params().SnapshotSize)
	snap.GeneratedAt = now
	e.snap.Store(&snap)
	metrics.IgnitedNodes.Set(float64(e.graph.IgnitedCount()))
	metrics.GraphNodes.Set(float64(e.graph.Len()))

	if e.cfg.SnapshotFile != "" {
		if err := graph.WriteSnapshot(e.cfg.SnapshotFile, snap); err != nil {
			e.logger.Warn("engine: write snapshot", slog.String("error", err.Error()))
		}
	}
	for _, fn := range e.onSnap {
		fn(snap)
	}
}

// enqueue hands req to the owner without blocking: a full queue is ErrBusy.
func (e *Engine) enqueue(ctx context.Context, req request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-e.done:
		return apperr.ErrStopped
	default:
	}
	select {
	case e.inbox <- req:
		return nil
	default:
		metrics.QueueRejected.Inc()
		return fmt.Errorf("engine: queue full: %w", apperr.ErrBusy)
	}
}

// await waits for the owner's answer on ch.
func await[T any](ctx context.Context, e *Engine, ch chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		// The owner may have answered right before stopping.
		select {
		case v := <-ch:
			return v, nil
		default:
			return zero, apperr.ErrStopped
		}
	}
}
