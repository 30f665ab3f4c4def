package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/starford/cortex/internal/checksum"
	"github.com/starford/cortex/internal/frontmatter"
	"github.com/starford/cortex/internal/metrics"
	"github.com/starford/cortex/internal/models"
	"github.com/starford/cortex/internal/storage"
)

// WriteReport counts note rewrites of one reconciliation pass.
type WriteReport struct {
	Written int
	Failed  int
}

// FormatScore renders a static score the way it is stored in metadata.
func FormatScore(v float64) string {
	return strconv.FormatFloat(round(v, 2), 'f', -1, 64)
}

// Crystallize writes the static score into the metadata of every node whose
// stored score is missing or off by more than CrystallizeTolerance. Only the
// score line changes; failures are logged and the node is skipped.
func (g *Graph) Crystallize(ctx context.Context) WriteReport {
	var rep WriteReport
	for _, key := range g.keys {
		if ctx.Err() != nil {
			break
		}
		n := g.nodes[key]
		if n.note.HasStoredScore && math.Abs(n.staticScore-n.note.StoredScore) <= g.params.CrystallizeTolerance {
			continue
		}
		value := FormatScore(n.staticScore)
		changed, err := g.rewrite(ctx, n, "crystallize", func(data []byte) []byte {
			return frontmatter.SetFields(data, frontmatter.Field{Key: frontmatter.KeyScore, Value: value})
		})
		if err != nil {
			rep.Failed++
			continue
		}
		n.note.StoredScore, n.note.HasStoredScore = round(n.staticScore, 2), true
		if changed {
			rep.Written++
		}
	}
	return rep
}

// Save persists the nodes touched this session: for each one whose
// activation is above SaveThreshold or whose fatigue is non-zero, date_updated
// becomes today and score the static score recomputed with that date. The
// runtime state file is written afterwards.
func (g *Graph) Save(ctx context.Context) (WriteReport, error) {
	start := time.Now()
	defer func() { metrics.TaskDuration.WithLabelValues("save").Observe(time.Since(start).Seconds()) }()

	now := g.now()
	today, _ := time.ParseInLocation(frontmatter.DateLayout, now.Format(frontmatter.DateLayout), now.Location())

	var rep WriteReport
	for _, key := range g.keys {
		if ctx.Err() != nil {
			break
		}
		n := g.nodes[key]
		if !n.touched || !(n.activation > g.params.SaveThreshold || n.consecutive > 0) {
			continue
		}
		next := n.note
		next.DateUpdated = today
		score := StaticScore(next, g.params, now)
		fields := []frontmatter.Field{
			{Key: frontmatter.KeyDate, Value: today.Format(frontmatter.DateLayout)},
			{Key: frontmatter.KeyScore, Value: FormatScore(score)},
		}
		changed, err := g.rewrite(ctx, n, "save", func(data []byte) []byte {
			return frontmatter.SetFields(data, fields...)
		})
		if err != nil {
			rep.Failed++
			continue
		}
		next.StoredScore, next.HasStoredScore = round(score, 2), true
		n.note = next
		n.staticScore = score
		if changed {
			rep.Written++
		}
	}

	if err := g.SaveState(); err != nil {
		return rep, err
	}
	g.logger.Info("graph: saved", slog.Int("written", rep.Written), slog.Int("write_failures", rep.Failed))
	return rep, nil
}

// rewrite reads the current file content, applies mutate and writes the
// result back when it differs. It reports whether the file changed.
func (g *Graph) rewrite(ctx context.Context, n *Node, op string, mutate func([]byte) []byte) (bool, error) {
	ioCtx, cancel := g.ioContext(ctx)
	defer cancel()

	data, err := g.store.Read(ioCtx, n.note.Path)
	if err == nil && !utf8.Valid(data) {
		err = ErrNotText
	}
	if err != nil {
		g.writeFailed(op, n, err)
		return false, err
	}
	updated := mutate(data)
	if bytes.Equal(updated, data) {
		return false, nil
	}
	// Record the expected content first: a write abandoned on timeout may
	// still land, and the watcher must then see it as ours.
	sum := checksum.Sum(updated)
	prev, hadPrev := g.written[n.note.Path]
	g.written[n.note.Path] = sum
	if err := g.store.Write(ioCtx, n.note.Path, updated); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			if hadPrev {
				g.written[n.note.Path] = prev
			} else {
				delete(g.written, n.note.Path)
			}
		}
		g.writeFailed(op, n, err)
		return false, err
	}
	n.note.Checksum = sum
	metrics.MetadataWrites.WithLabelValues(op, "ok").Inc()
	return true, nil
}

func (g *Graph) writeFailed(op string, n *Node, err error) {
	metrics.MetadataWrites.WithLabelValues(op, "error").Inc()
	g.logger.Warn("graph: metadata write skipped",
		slog.String("op", op),
		slog.String("path", n.note.Path),
		slog.String("error", err.Error()))
}

// IsOwnWrite reports whether sum is the checksum of the content this graph
// last wrote to path.
func (g *Graph) IsOwnWrite(path, sum string) bool {
	own, ok := g.written[path]
	return ok && own == sum
}

type nodeState struct {
	Activation             float64 `json:"activation"`
	ConsecutiveActivations int     `json:"consecutive_activations"`
}

// SaveState writes {filename: {activation, consecutive_activations}} for every
// node with activation above SaveThreshold or non-zero fatigue. It is a no-op
// without a state file.
func (g *Graph) SaveState() error {
	if g.statePath == "" {
		return nil
	}
	state := make(map[string]nodeState)
	for _, key := range g.keys {
		n := g.nodes[key]
		if n.activation > g.params.SaveThreshold || n.consecutive > 0 {
			state[key] = nodeState{Activation: round(n.activation, 4), ConsecutiveActivations: n.consecutive}
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode state: %w", err)
	}
	if err := storage.WriteFileAtomic(g.statePath, data); err != nil {
		return fmt.Errorf("graph: write state: %w", err)
	}
	return nil
}

// restoreState merges volatile state from the state file into nodes that
// still exist. A missing or corrupt file restores nothing.
func (g *Graph) restoreState(ctx context.Context) int {
	if g.statePath == "" || ctx.Err() != nil {
		return 0
	}
	data, err := os.ReadFile(g.statePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			g.logger.Warn("graph: read state", slog.String("error", err.Error()))
		}
		return 0
	}
	var state map[string]nodeState
	if err := json.Unmarshal(data, &state); err != nil {
		g.logger.Warn("graph: corrupt state file ignored", slog.String("path", g.statePath), slog.String("error", err.Error()))
		return 0
	}
	restored := 0
	for key, s := range state {
		if n, ok := g.nodes[key]; ok && n.restore(s.Activation, s.ConsecutiveActivations) {
			restored++
		}
	}
	return restored
}

// WriteSnapshot atomically replaces path with the JSON encoding of snap.
func WriteSnapshot(path string, snap models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode snapshot: %w", err)
	}
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("graph: write snapshot: %w", err)
	}
	return nil
}
