package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/cortex/internal/apperr"
	"github.com/starford/cortex/internal/frontmatter"
	"github.com/starford/cortex/internal/graph"
	"github.com/starford/cortex/internal/metrics"
	"github.com/starford/cortex/internal/models"
)

// request is one unit of work executed on the owner goroutine.
type request interface {
	apply(ctx context.Context, e *Engine)
}

type stimulusReq struct {
	text string
	tags string
	resp chan models.Stimulus
}

func (r stimulusReq) apply(ctx context.Context, e *Engine) {
	now := e.now()
	res := e.graph.InjectStimulus(r.text, r.tags)
	e.graph.RegisterTopK(e.graph.Params().SnapshotSize)

	stim := models.Stimulus{
		ID:         uuid.NewString(),
		Text:       r.text,
		TagContext: r.tags,
		Matched:    res.Matched(),
		ReceivedAt: now,
	}
	if stim.Matched == nil {
		stim.Matched = []string{}
	}
	outcome := "matched"
	if len(stim.Matched) == 0 {
		outcome = "unmatched"
	}
	metrics.Stimuli.WithLabelValues(outcome).Inc()

	if e.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, e.ioTimeout())
		if err := e.journal.RecordStimulus(jctx, stim); err != nil {
			e.logger.Warn("engine: journal stimulus", slog.String("error", err.Error()))
		}
		cancel()
	}
	e.publish(now)
	r.resp <- stim
}

// Stimulate injects a stimulus event and returns it as recorded, with the
// keys it reached.
func (e *Engine) Stimulate(ctx context.Context, text, tagContext string) (models.Stimulus, error) {
	if strings.TrimSpace(text) == "" && strings.TrimSpace(tagContext) == "" {
		return models.Stimulus{}, fmt.Errorf("engine: empty stimulus: %w", apperr.ErrInvalid)
	}
	resp := make(chan models.Stimulus, 1)
	if err := e.enqueue(ctx, stimulusReq{text: text, tags: tagContext, resp: resp}); err != nil {
		return models.Stimulus{}, err
	}
	return await(ctx, e, resp)
}

type tickReq struct {
	now  time.Time
	resp chan struct{}
}

func (r tickReq) apply(ctx context.Context, e *Engine) {
	e.tick(ctx, r.now)
	close(r.resp)
}

// Tick runs every task due at now on the owner and waits for it.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	resp := make(chan struct{})
	if err := e.enqueue(ctx, tickReq{now: now, resp: resp}); err != nil {
		return err
	}
	_, err := await(ctx, e, resp)
	return err
}

type reloadResult struct {
	report graph.LoadReport
	err    error
}

type reloadReq struct {
	resp chan reloadResult
}

func (r reloadReq) apply(ctx context.Context, e *Engine) {
	rep, err := e.reload(ctx, e.now())
	r.resp <- reloadResult{report: rep, err: err}
}

// Reload saves volatile state and rebuilds the graph from a full scan.
func (e *Engine) Reload(ctx context.Context) (graph.LoadReport, error) {
	resp := make(chan reloadResult, 1)
	if err := e.enqueue(ctx, reloadReq{resp: resp}); err != nil {
		return graph.LoadReport{}, err
	}
	res, err := await(ctx, e, resp)
	if err != nil {
		return graph.LoadReport{}, err
	}
	return res.report, res.err
}

type fileReq struct {
	path string
	sum  string
}

func (r fileReq) apply(ctx context.Context, e *Engine) {
	if r.sum != "" && e.graph.IsOwnWrite(r.path, r.sum) {
		e.logger.Debug("engine: ignoring own write", slog.String("path", r.path))
		return
	}
	now := e.now()
	if e.cfg.ReloadDebounce <= 0 {
		e.reload(ctx, now)
		return
	}
	e.reloadAt = now.Add(e.cfg.ReloadDebounce)
}

// FileChanged notifies the owner that a vault file changed. sum is the
// checksum of the new content, empty for a removal. Own writes are ignored;
// anything else schedules a debounced reload.
func (e *Engine) FileChanged(ctx context.Context, path, sum string) error {
	return e.enqueue(ctx, fileReq{path: path, sum: sum})
}

type lookupResult struct {
	view graph.NodeView
	ok   bool
}

type lookupReq struct {
	filename string
	resp     chan lookupResult
}

func (r lookupReq) apply(_ context.Context, e *Engine) {
	v, ok := e.graph.Lookup(r.filename)
	r.resp <- lookupResult{view: v, ok: ok}
}

// Lookup returns a copy of one node by filename. A name without an extension
// is looked up with ".md", as links are.
func (e *Engine) Lookup(ctx context.Context, filename string) (graph.NodeView, error) {
	key := frontmatter.NormalizeKey(filename)
	resp := make(chan lookupResult, 1)
	if err := e.enqueue(ctx, lookupReq{filename: key, resp: resp}); err != nil {
		return graph.NodeView{}, err
	}
	res, err := await(ctx, e, resp)
	if err != nil {
		return graph.NodeView{}, err
	}
	if !res.ok {
		return graph.NodeView{}, fmt.Errorf("engine: lookup %s: %w", key, apperr.ErrNotFound)
	}
	return res.view, nil
}

func (e *Engine) ioTimeout() time.Duration {
	if e.cfg.IOTimeout <= 0 {
		return 5 * time.Second
	}
	return e.cfg.IOTimeout
}
