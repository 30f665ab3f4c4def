// Package graph implements the activation graph over the note corpus: static
// scoring, stimulus injection, propagation, decay, fatigue and reconciliation
// of computed scores with the note files.
//
// A Graph is not safe for concurrent use. Exactly one goroutine owns it.
package graph

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/starford/cortex/internal/metrics"
	"github.com/starford/cortex/internal/models"
	"github.com/starford/cortex/internal/storage"
)

// Graph owns the node set keyed by filename.
type Graph struct {
	params    Params
	store     storage.Provider
	logger    *slog.Logger
	now       func() time.Time
	ioTimeout time.Duration
	statePath string

	nodes map[string]*Node
	keys  []string

	// written maps a vault path to the checksum of the content this graph
	// last wrote there.
	written map[string]string
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Graph) { g.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Graph) { g.now = now } }

// WithIOTimeout bounds every single file operation.
func WithIOTimeout(d time.Duration) Option { return func(g *Graph) { g.ioTimeout = d } }

// WithStateFile sets the runtime state file used to warm-start activation
// and fatigue. Empty disables it.
func WithStateFile(path string) Option { return func(g *Graph) { g.statePath = path } }

// New creates an empty graph. Call Load to populate it.
func New(store storage.Provider, p Params, opts ...Option) *Graph {
	g := &Graph{
		params:    p,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		ioTimeout: 5 * time.Second,
		nodes:     make(map[string]*Node),
		written:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Params returns the graph parameters.
func (g *Graph) Params() Params { return g.params }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// LoadReport summarizes a Load.
type LoadReport struct {
	Nodes    int
	Restored int
	Write    WriteReport
}

// Load rebuilds the node set from a full scan, restores volatile state for
// keys still present, and crystallizes static scores. When the scan itself
// fails the previous node set is kept and the error returned.
func (g *Graph) Load(ctx context.Context) (LoadReport, error) {
	start := time.Now()
	defer func() { metrics.TaskDuration.WithLabelValues("load").Observe(time.Since(start).Seconds()) }()

	sc := Scanner{Store: g.store, Params: g.params, IOTimeout: g.ioTimeout, Logger: g.logger}
	nodes, err := sc.Scan(ctx, g.now())
	if err != nil {
		return LoadReport{Nodes: len(g.nodes)}, err
	}
	prev := g.nodes
	g.replace(nodes)

	rep := LoadReport{Nodes: len(g.nodes)}
	rep.Restored = g.restoreState(ctx)
	rep.Restored += carryOver(prev, g.nodes)
	rep.Write = g.Crystallize(ctx)
	metrics.GraphNodes.Set(float64(len(g.nodes)))

	g.logger.Info("graph: loaded",
		slog.Int("nodes", rep.Nodes),
		slog.Int("restored", rep.Restored),
		slog.Int("crystallized", rep.Write.Written),
		slog.Int("write_failures", rep.Write.Failed))
	return rep, nil
}

// carryOver moves volatile state from the previous node set into nodes that
// kept their key, overriding whatever the state file restored. It returns the
// number of nodes that gained state the state file did not provide.
func carryOver(prev, next map[string]*Node) int {
	carried := 0
	for key, old := range prev {
		n, ok := next[key]
		if !ok || (old.activation == 0 && old.consecutive == 0 && !old.touched) {
			continue
		}
		fresh := !n.touched
		n.activation = old.activation
		n.consecutive = old.consecutive
		n.touched = n.touched || old.touched
		if fresh && n.touched {
			carried++
		}
	}
	return carried
}

func (g *Graph) replace(nodes map[string]*Node) {
	g.nodes = nodes
	g.keys = make([]string, 0, len(nodes))
	for k := range nodes {
		g.keys = append(g.keys, k)
	}
	sort.Strings(g.keys)
}

// Node returns the live node for a key. The pointer must not escape the
// owning goroutine.
func (g *Graph) Node(filename string) (*Node, bool) {
	n, ok := g.nodes[filename]
	return n, ok
}

// Lookup returns a read-only copy of one node.
func (g *Graph) Lookup(filename string) (NodeView, bool) {
	n, ok := g.nodes[filename]
	if !ok {
		return NodeView{}, false
	}
	return n.view(g.params.IgnitionThreshold), true
}

var tagTokenRe = regexp.MustCompile(`\[([^\[\]]+)\]`)

// ParseTagContext extracts the bracket-delimited tags of a tag context,
// lower-cased and without a leading '#'.
func ParseTagContext(tagContext string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range tagTokenRe.FindAllStringSubmatch(tagContext, -1) {
		tag := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(m[1]), "#"))
		if tag != "" {
			out[tag] = struct{}{}
		}
	}
	return out
}

// Stimulation lists the nodes a stimulus reached.
type Stimulation struct {
	Direct []string
	Tagged []string
}

// Matched returns every key reached, deduplicated and sorted.
func (s Stimulation) Matched() []string {
	out := append(slices.Clone(s.Direct), s.Tagged...)
	slices.Sort(out)
	return slices.Compact(out)
}

// InjectStimulus applies the direct boost to every node whose title occurs in
// text and the tag boost, once per shared tag, to every node whose tags appear
// in tagContext. Both boosts may hit the same node.
func (g *Graph) InjectStimulus(text, tagContext string) Stimulation {
	lowered := strings.ToLower(text)
	ctxTags := ParseTagContext(tagContext)

	var res Stimulation
	for _, key := range g.keys {
		n := g.nodes[key]
		if n.lowerTitle != "" && strings.Contains(lowered, n.lowerTitle) {
			n.Stimulate(g.params.DirectBoost)
			res.Direct = append(res.Direct, key)
		}
		if len(ctxTags) == 0 {
			continue
		}
		shared := 0
		for _, t := range n.lowerTags {
			if _, ok := ctxTags[t]; ok {
				shared++
			}
		}
		if shared > 0 {
			n.Stimulate(g.params.TagBoost * float64(shared))
			res.Tagged = append(res.Tagged, key)
		}
	}
	return res
}

// PropagationReport summarizes one propagation pass.
type PropagationReport struct {
	Sources   int
	Emitted   float64
	Delivered float64
}

// Propagate diffuses activation along links. Packets are computed from the
// activations as they stand before the pass and applied afterwards, so no
// node forwards energy received in the same pass. Packets of nodes without
// links and shares addressed to missing nodes are lost.
func (g *Graph) Propagate() PropagationReport {
	var rep PropagationReport
	deltas := make(map[string]float64)
	for _, key := range g.keys {
		n := g.nodes[key]
		if n.activation <= g.params.PropagationFloor {
			continue
		}
		packet := n.activation * g.params.PropagationRate
		rep.Sources++
		rep.Emitted += packet
		if len(n.note.Links) == 0 {
			continue
		}
		share := packet / float64(len(n.note.Links))
		for _, target := range n.note.Links {
			if _, ok := g.nodes[target]; ok {
				deltas[target] += share
			}
		}
	}
	for _, key := range g.keys {
		if d, ok := deltas[key]; ok {
			g.nodes[key].Stimulate(d)
			rep.Delivered += d
		}
	}
	metrics.PropagatedEnergy.Add(rep.Delivered)
	return rep
}

// DecayAll decays every node once.
func (g *Graph) DecayAll() {
	for _, key := range g.keys {
		g.nodes[key].Decay(g.params.DecayRate, Epsilon)
	}
}

// RestAll recovers one unit of fatigue on every node.
func (g *Graph) RestAll() {
	for _, key := range g.keys {
		g.nodes[key].Rest()
	}
}

// DecayAndRestAll decays then rests every node.
func (g *Graph) DecayAndRestAll() {
	for _, key := range g.keys {
		n := g.nodes[key]
		n.Decay(g.params.DecayRate, Epsilon)
		n.Rest()
	}
}

// ranked returns the nodes ordered by activation desc, current weight desc,
// filename asc.
func (g *Graph) ranked() []*Node {
	out := make([]*Node, 0, len(g.keys))
	for _, key := range g.keys {
		out = append(out, g.nodes[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.activation != b.activation {
			return a.activation > b.activation
		}
		wa, wb := a.CurrentWeight(), b.CurrentWeight()
		if wa != wb {
			return wa > wb
		}
		return a.note.Filename < b.note.Filename
	})
	return out
}

// ExportSnapshot returns the top k nodes as plain data. It does not mutate
// the graph; GeneratedAt is left for the caller to stamp.
func (g *Graph) ExportSnapshot(k int) models.Snapshot {
	ranked := g.ranked()
	if k < 0 {
		k = 0
	}
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	snap := models.Snapshot{Nodes: make([]models.SnapshotNode, 0, len(ranked))}
	for _, n := range ranked {
		snap.Nodes = append(snap.Nodes, models.SnapshotNode{
			Filename:   n.note.Filename,
			Title:      n.note.Title,
			Activation: round(n.activation, 1),
			Weight:     round(n.CurrentWeight(), 1),
			LinkCount:  len(n.note.Links),
			Fatigue:    n.consecutive,
			Ignited:    n.Ignited(g.params.IgnitionThreshold),
		})
	}
	return snap
}

// IgnitedCount returns how many nodes are above the ignition threshold.
func (g *Graph) IgnitedCount() int {
	c := 0
	for _, n := range g.nodes {
		if n.Ignited(g.params.IgnitionThreshold) {
			c++
		}
	}
	return c
}

// RegisterTopK registers one activation on each of the top k nodes that has
// any activation, and returns their keys.
func (g *Graph) RegisterTopK(k int) []string {
	var out []string
	for i, n := range g.ranked() {
		if i >= k || n.activation <= 0 {
			break
		}
		n.RegisterActivation()
		out = append(out, n.note.Filename)
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (g *Graph) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, g.ioTimeout)
}
