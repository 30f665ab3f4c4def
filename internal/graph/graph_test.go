package graph

import (
	"math"
	"reflect"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)

func testParams() Params { return DefaultParams() }

func note(filename string, links ...string) Note {
	return Note{
		Filename:    filename,
		Path:        filename,
		Title:       filename[:len(filename)-len(".md")],
		Links:       links,
		BaseWeight:  50,
		DateUpdated: testNow,
	}
}

func newGraph(t *testing.T, notes ...Note) *Graph {
	t.Helper()
	g := New(nil, testParams(), WithClock(func() time.Time { return testNow }))
	for _, n := range notes {
		g.Add(NewNode(n, testParams(), testNow))
	}
	return g
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStaticScore_NoLinksHasNoStructureBonus(t *testing.T) {
	p := testParams()
	n := note("Lonely.md")
	got := StaticScore(n, p, testNow)
	// S = 1.5*ln(1) = 0, C = 10/(1+0) = 10, M = 1.
	if !approx(got, 60) {
		t.Errorf("static = %v, want 60", got)
	}
}

func TestStaticScore_Components(t *testing.T) {
	p := testParams()
	n := note("Hub.md", "A.md", "B.md", "C.md")
	n.DateUpdated = testNow.AddDate(0, 0, -10)
	n.Tags = []string{"état/sapling"}
	want := (50 + 1.5*math.Log(4) + 10/(1+10*0.1)) * 0.8
	if got := StaticScore(n, p, testNow); !approx(got, want) {
		t.Errorf("static = %v, want %v", got, want)
	}
}

func TestStaticScore_FutureDateCountsAsToday(t *testing.T) {
	p := testParams()
	n := note("Future.md")
	n.DateUpdated = testNow.AddDate(0, 1, 0)
	if got := StaticScore(n, p, testNow); !approx(got, 60) {
		t.Errorf("static = %v, want 60", got)
	}
}

func TestStaticScore_MaturityPriorityOrder(t *testing.T) {
	p := testParams()
	a := note("A.md")
	a.Tags = []string{"état/graine", "état/evergreen"}
	b := note("B.md")
	b.Tags = []string{"état/evergreen", "état/graine"}
	if sa, sb := StaticScore(a, p, testNow), StaticScore(b, p, testNow); !approx(sa, sb) || !approx(sa, 60*1.2) {
		t.Errorf("scores = %v, %v; want both %v", sa, sb, 60*1.2)
	}
}

func TestCurrentWeight_FullFatigueIsZero(t *testing.T) {
	p := testParams()
	n := note("Tired.md")
	n.BaseWeight = 90 // static = 90 + 0 + 10 = 100
	node := NewNode(n, p, testNow)
	if !approx(node.StaticScore(), 100) {
		t.Fatalf("static = %v", node.StaticScore())
	}
	for range 4 {
		node.RegisterActivation()
	}
	if w := node.CurrentWeight(); w != 0 {
		t.Errorf("weight = %v, want 0", w)
	}
}

func TestCurrentWeight_NeverNegative(t *testing.T) {
	node := NewNode(note("X.md"), testParams(), testNow)
	for i := range 12 {
		node.RegisterActivation()
		if w := node.CurrentWeight(); w < 0 {
			t.Fatalf("fatigue %d: weight %v < 0", i+1, w)
		}
	}
	node.Stimulate(500)
	if w := node.CurrentWeight(); w < 0 {
		t.Errorf("weight %v < 0", w)
	}
}

func TestCurrentWeight_ZeroToleranceDisablesFatigue(t *testing.T) {
	p := testParams()
	p.FatigueTolerance = 0
	node := NewNode(note("X.md"), p, testNow)
	node.RegisterActivation()
	if !approx(node.CurrentWeight(), node.StaticScore()) {
		t.Errorf("weight = %v, want static %v", node.CurrentWeight(), node.StaticScore())
	}
}

func TestDecay_MonotoneAndSnapsToZero(t *testing.T) {
	node := NewNode(note("X.md"), testParams(), testNow)
	node.Stimulate(20)
	prev := node.Activation()
	for node.Activation() > 0 {
		node.Decay(0.95, Epsilon)
		if node.Activation() > prev {
			t.Fatalf("activation grew: %v -> %v", prev, node.Activation())
		}
		if a := node.Activation(); a != 0 && a < Epsilon {
			t.Fatalf("activation %v below epsilon not snapped", a)
		}
		prev = node.Activation()
	}
	if node.Activation() != 0 {
		t.Errorf("activation = %v, want exactly 0", node.Activation())
	}
}

func TestStimulate_IgnoresNonPositive(t *testing.T) {
	node := NewNode(note("X.md"), testParams(), testNow)
	node.Stimulate(-5)
	node.Stimulate(math.NaN())
	if node.Activation() != 0 {
		t.Errorf("activation = %v", node.Activation())
	}
}

func TestRest_StopsAtZero(t *testing.T) {
	node := NewNode(note("X.md"), testParams(), testNow)
	node.RegisterActivation()
	node.Rest()
	node.Rest()
	if node.Fatigue() != 0 {
		t.Errorf("fatigue = %d", node.Fatigue())
	}
}

func TestPropagate_SplitsPacketAcrossLinks(t *testing.T) {
	g := newGraph(t, note("Chaos.md", "Order.md", "Entropy.md"), note("Order.md"), note("Entropy.md"))
	chaos, _ := g.Node("Chaos.md")
	chaos.Stimulate(10)

	rep := g.Propagate()

	for _, key := range []string{"Order.md", "Entropy.md"} {
		n, _ := g.Node(key)
		if !approx(n.Activation(), 1.0) {
			t.Errorf("%s activation = %v, want 1.0", key, n.Activation())
		}
	}
	if !approx(chaos.Activation(), 10) {
		t.Errorf("source activation changed: %v", chaos.Activation())
	}
	if !approx(rep.Emitted, 2.0) || !approx(rep.Delivered, 2.0) || rep.Sources != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestPropagate_EnergyLostWithoutLinks(t *testing.T) {
	g := newGraph(t, note("Sink.md"), note("Other.md"))
	sink, _ := g.Node("Sink.md")
	sink.Stimulate(10)

	rep := g.Propagate()

	other, _ := g.Node("Other.md")
	if other.Activation() != 0 {
		t.Errorf("other activation = %v", other.Activation())
	}
	if !approx(rep.Emitted, 2.0) || rep.Delivered != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestPropagate_DanglingLinksDropped(t *testing.T) {
	g := newGraph(t, note("A.md", "B.md", "Missing.md"), note("B.md"))
	a, _ := g.Node("A.md")
	a.Stimulate(10)

	rep := g.Propagate()

	b, _ := g.Node("B.md")
	if !approx(b.Activation(), 1.0) {
		t.Errorf("B activation = %v, want 1.0", b.Activation())
	}
	if rep.Delivered > rep.Emitted || !approx(rep.Delivered, 1.0) {
		t.Errorf("report = %+v", rep)
	}
	if g.Len() != 2 {
		t.Errorf("dangling link created a node")
	}
}

func TestPropagate_NeverExceedsRate(t *testing.T) {
	g := newGraph(t,
		note("A.md", "B.md", "C.md"),
		note("B.md", "A.md", "C.md"),
		note("C.md", "C.md"),
	)
	for i, key := range g.Keys() {
		n, _ := g.Node(key)
		n.Stimulate(float64(10 * (i + 1)))
	}
	var total float64
	for _, key := range g.Keys() {
		n, _ := g.Node(key)
		total += n.Activation() * g.Params().PropagationRate
	}
	rep := g.Propagate()
	if rep.Delivered > total+1e-9 || rep.Emitted > total+1e-9 {
		t.Errorf("distributed %v/%v, bound %v", rep.Emitted, rep.Delivered, total)
	}
}

func TestPropagate_TwoPass(t *testing.T) {
	g := newGraph(t, note("A.md", "B.md"), note("B.md", "C.md"), note("C.md"))
	a, _ := g.Node("A.md")
	a.Stimulate(10)

	g.Propagate()

	b, _ := g.Node("B.md")
	c, _ := g.Node("C.md")
	if !approx(b.Activation(), 2.0) {
		t.Errorf("B = %v, want 2.0", b.Activation())
	}
	if c.Activation() != 0 {
		t.Errorf("C = %v, energy cascaded within one pass", c.Activation())
	}
}

func TestPropagate_FloorIsExclusive(t *testing.T) {
	g := newGraph(t, note("A.md", "B.md"), note("B.md"))
	a, _ := g.Node("A.md")
	a.Stimulate(1.0)
	if rep := g.Propagate(); rep.Sources != 0 {
		t.Errorf("node at the floor propagated: %+v", rep)
	}
}

func TestInjectStimulus_DirectMatch(t *testing.T) {
	g := newGraph(t, note("Chaos.md"), note("Order.md"), note("Entropy.md"))

	res := g.InjectStimulus("we were just discussing Chaos", "")

	chaos, _ := g.Node("Chaos.md")
	if !approx(chaos.Activation(), g.Params().DirectBoost) {
		t.Errorf("Chaos activation = %v", chaos.Activation())
	}
	for _, key := range []string{"Order.md", "Entropy.md"} {
		n, _ := g.Node(key)
		if n.Activation() != 0 {
			t.Errorf("%s activation = %v", key, n.Activation())
		}
	}
	if !reflect.DeepEqual(res.Matched(), []string{"Chaos.md"}) {
		t.Errorf("matched = %v", res.Matched())
	}
}

func TestInjectStimulus_TagBoostPerSharedTag(t *testing.T) {
	n := note("Topic.md")
	n.Title = "Unmentioned"
	n.Tags = []string{"Topic_A", "topic_b", "other"}
	g := newGraph(t, n)

	res := g.InjectStimulus("nothing relevant", "[TOPIC_A] [#TOPIC_B] [missing]")

	node, _ := g.Node("Topic.md")
	if want := 2 * g.Params().TagBoost; !approx(node.Activation(), want) {
		t.Errorf("activation = %v, want %v", node.Activation(), want)
	}
	if len(res.Direct) != 0 || len(res.Tagged) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestInjectStimulus_CaseVariantTagsCountOnce(t *testing.T) {
	n := note("Topic.md")
	n.Title = "Unmentioned"
	n.Tags = []string{"Physique", "physique"}
	g := newGraph(t, n)

	g.InjectStimulus("nothing relevant", "[physique]")

	node, _ := g.Node("Topic.md")
	if want := g.Params().TagBoost; !approx(node.Activation(), want) {
		t.Errorf("activation = %v, want %v", node.Activation(), want)
	}
}

func TestInjectStimulus_BothBoosts(t *testing.T) {
	n := note("Chaos.md")
	n.Tags = []string{"physique"}
	g := newGraph(t, n)

	g.InjectStimulus("CHAOS theory", "[physique]")

	node, _ := g.Node("Chaos.md")
	if want := g.Params().DirectBoost + g.Params().TagBoost; !approx(node.Activation(), want) {
		t.Errorf("activation = %v, want %v", node.Activation(), want)
	}
}

func TestParseTagContext(t *testing.T) {
	got := ParseTagContext("[TOPIC_A] noise [ Topic_B ] [] [#c]")
	want := map[string]struct{}{"topic_a": {}, "topic_b": {}, "c": {}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v", got)
	}
}

func TestExportSnapshot_OrderAndIdempotence(t *testing.T) {
	heavy := note("Heavy.md")
	heavy.BaseWeight = 80
	g := newGraph(t, note("A.md"), note("B.md"), heavy, note("Hot.md"))
	hot, _ := g.Node("Hot.md")
	hot.Stimulate(30)

	first := g.ExportSnapshot(3)
	second := g.ExportSnapshot(3)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", first, second)
	}

	var order []string
	for _, n := range first.Nodes {
		order = append(order, n.Filename)
	}
	if want := []string{"Hot.md", "Heavy.md", "A.md"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if hot.Activation() != 30 || hot.Fatigue() != 0 {
		t.Error("snapshot mutated a node")
	}
}

func TestExportSnapshot_EmptyGraph(t *testing.T) {
	g := newGraph(t)
	snap := g.ExportSnapshot(20)
	if snap.Nodes == nil || len(snap.Nodes) != 0 {
		t.Errorf("nodes = %#v, want empty non-nil", snap.Nodes)
	}
}

func TestRegisterTopK_OnlyActiveNodes(t *testing.T) {
	g := newGraph(t, note("A.md"), note("B.md"), note("C.md"))
	a, _ := g.Node("A.md")
	b, _ := g.Node("B.md")
	a.Stimulate(5)
	b.Stimulate(3)

	got := g.RegisterTopK(1)
	if !reflect.DeepEqual(got, []string{"A.md"}) {
		t.Errorf("registered = %v", got)
	}
	got = g.RegisterTopK(5)
	if !reflect.DeepEqual(got, []string{"A.md", "B.md"}) {
		t.Errorf("registered = %v", got)
	}
	if a.Fatigue() != 2 || b.Fatigue() != 1 {
		t.Errorf("fatigue A=%d B=%d", a.Fatigue(), b.Fatigue())
	}
}

func TestDecayAndRestAll(t *testing.T) {
	g := newGraph(t, note("A.md"))
	a, _ := g.Node("A.md")
	a.Stimulate(10)
	a.RegisterActivation()

	g.DecayAndRestAll()

	if !approx(a.Activation(), 9.5) || a.Fatigue() != 0 {
		t.Errorf("activation=%v fatigue=%d", a.Activation(), a.Fatigue())
	}
}

func TestLookup(t *testing.T) {
	g := newGraph(t, note("A.md", "B.md"))
	v, ok := g.Lookup("A.md")
	if !ok || v.Title != "A" || len(v.Links) != 1 {
		t.Errorf("view = %+v, ok=%v", v, ok)
	}
	if _, ok := g.Lookup("nope.md"); ok {
		t.Error("lookup of missing key succeeded")
	}
}

func TestParamsValidate(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	p.DecayRate = 1.5
	if err := p.Validate(); err == nil {
		t.Error("decay rate > 1 accepted")
	}
	p = DefaultParams()
	p.Promotions = []Promotion{{From: "x", To: "x"}}
	if err := p.Validate(); err == nil {
		t.Error("identity promotion accepted")
	}
}
