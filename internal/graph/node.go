package graph

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Epsilon is the activation below which Decay snaps a node back to zero.
const Epsilon = 0.1

// Note holds the persisted fields of a note as read from its file.
type Note struct {
	Filename    string
	Path        string
	Title       string
	ID          string
	Tags        []string
	Links       []string
	BaseWeight  float64
	DateUpdated time.Time
	// StoredScore is the last crystallized static score; valid only when
	// HasStoredScore is set.
	StoredScore    float64
	HasStoredScore bool
	Checksum       string
}

// Node is one note in the graph: static potential plus volatile activation
// and fatigue. Links are filename keys, never pointers to other nodes.
type Node struct {
	note       Note
	lowerTitle string
	lowerTags  []string

	staticScore float64
	tolerance   float64

	activation  float64
	consecutive int
	// touched is set by Stimulate, RegisterActivation and a restore of
	// non-zero state; Save only considers touched nodes.
	touched bool
}

// NewNode builds a dormant node and computes its static score as of now.
func NewNode(n Note, p Params, now time.Time) *Node {
	node := &Node{tolerance: p.FatigueTolerance}
	node.setNote(n, p, now)
	return node
}

func (n *Node) setNote(note Note, p Params, now time.Time) {
	note.Tags = normalizeSet(note.Tags)
	note.Links = normalizeSet(note.Links)
	n.note = note
	n.lowerTitle = strings.ToLower(strings.TrimSpace(note.Title))
	n.lowerTags = make([]string, 0, len(note.Tags))
	for _, t := range note.Tags {
		n.lowerTags = append(n.lowerTags, strings.ToLower(t))
	}
	n.lowerTags = normalizeSet(n.lowerTags)
	n.staticScore = StaticScore(note, p, now)
}

// StaticScore computes (baseWeight + S + C) * M for the given persisted fields.
func StaticScore(n Note, p Params, now time.Time) float64 {
	s := p.CoefStructure * math.Log(1+float64(len(n.Links)))
	c := p.CoefRecency / (1 + float64(AgeDays(n.DateUpdated, now))*0.1)
	return (n.BaseWeight + s + c) * maturity(n.Tags, p.Maturity)
}

// AgeDays returns the whole days elapsed between updated and now, never negative.
func AgeDays(updated, now time.Time) int {
	days := math.Floor(now.Sub(updated).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}

func maturity(tags []string, rules []MaturityRule) float64 {
	for _, r := range rules {
		if slices.Contains(tags, r.Tag) {
			return r.Multiplier
		}
	}
	return 1.0
}

// Filename returns the node key.
func (n *Node) Filename() string { return n.note.Filename }

// Note returns a copy of the persisted fields.
func (n *Node) Note() Note {
	out := n.note
	out.Tags = slices.Clone(n.note.Tags)
	out.Links = slices.Clone(n.note.Links)
	return out
}

// StaticScore returns the cached static potential.
func (n *Node) StaticScore() float64 { return n.staticScore }

// Activation returns the volatile activation energy.
func (n *Node) Activation() float64 { return n.activation }

// Fatigue returns the consecutive activation counter.
func (n *Node) Fatigue() int { return n.consecutive }

// CurrentWeight is static score plus activation minus the cubic fatigue cost,
// clamped at zero.
func (n *Node) CurrentWeight() float64 {
	ratio := 0.0
	if n.tolerance > 0 {
		ratio = float64(n.consecutive) / n.tolerance
	}
	cost := ratio * ratio * ratio * n.staticScore
	return math.Max(0, n.staticScore+n.activation-cost)
}

// Ignited reports whether activation is above threshold.
func (n *Node) Ignited(threshold float64) bool { return n.activation > threshold }

// Stimulate adds energy. Non-positive and non-finite amounts are ignored.
func (n *Node) Stimulate(amount float64) {
	if !(amount > 0) || math.IsInf(amount, 1) {
		return
	}
	n.activation += amount
	n.touched = true
}

// Decay multiplies activation by rate and snaps it to zero below epsilon.
func (n *Node) Decay(rate, epsilon float64) {
	n.activation *= rate
	if n.activation < epsilon {
		n.activation = 0
	}
}

// RegisterActivation accrues one unit of fatigue.
func (n *Node) RegisterActivation() {
	n.consecutive++
	n.touched = true
}

// Rest recovers one unit of fatigue.
func (n *Node) Rest() {
	if n.consecutive > 0 {
		n.consecutive--
	}
}

func (n *Node) hasTag(tag string) bool { return slices.Contains(n.note.Tags, tag) }

// restore applies volatile state carried over from a previous node set or
// the state file. It reports whether anything was applied.
func (n *Node) restore(activation float64, consecutive int) bool {
	applied := false
	if activation > 0 && !math.IsInf(activation, 1) && !math.IsNaN(activation) {
		n.activation = activation
		applied = true
	}
	if consecutive > 0 {
		n.consecutive = consecutive
		applied = true
	}
	if applied {
		n.touched = true
	}
	return applied
}

// NodeView is a read-only copy of a node for collaborators.
type NodeView struct {
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	ID          string    `json:"id,omitempty"`
	Tags        []string  `json:"tags"`
	Links       []string  `json:"links"`
	BaseWeight  float64   `json:"base_weight"`
	DateUpdated time.Time `json:"date_updated"`
	StaticScore float64   `json:"static_score"`
	Activation  float64   `json:"activation"`
	Weight      float64   `json:"weight"`
	Fatigue     int       `json:"fatigue"`
	Ignited     bool      `json:"ignited"`
}

func (n *Node) view(threshold float64) NodeView {
	note := n.Note()
	return NodeView{
		Filename:    note.Filename,
		Path:        note.Path,
		Title:       note.Title,
		ID:          note.ID,
		Tags:        note.Tags,
		Links:       note.Links,
		BaseWeight:  note.BaseWeight,
		DateUpdated: note.DateUpdated,
		StaticScore: n.staticScore,
		Activation:  n.activation,
		Weight:      n.CurrentWeight(),
		Fatigue:     n.consecutive,
		Ignited:     n.Ignited(threshold),
	}
}

// normalizeSet returns a sorted, de-duplicated copy without empty entries.
func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
