package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/starford/cortex/internal/apperr"
	"github.com/starford/cortex/internal/checksum"
	"github.com/starford/cortex/internal/graph"
	"github.com/starford/cortex/internal/models"
	"github.com/starford/cortex/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)

func clock() time.Time { return start }

const chaos = "---\ntitle: Chaos\ndate_updated: 2025-01-01\n---\nSee [[Order]].\n"
const order = "---\ntitle: Order\n---\nNo links.\n"

func testConfig() Config {
	return Config{
		PropagateEvery:  2 * time.Second,
		DecayEvery:      10 * time.Second,
		RestEvery:       30 * time.Second,
		QueueSize:       16,
		IOTimeout:       2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

type harness struct {
	e         *Engine
	dir       string
	statePath string
	cancel    context.CancelFunc
	errc      chan error
	once      sync.Once
}

func startEngine(t *testing.T, cfg Config, files map[string]string, opts ...Option) *harness {
	t.Helper()
	dir, store := testutil.TestVault(t)
	for name, content := range files {
		testutil.WriteNote(t, dir, name, content)
	}
	statePath := filepath.Join(t.TempDir(), "brain_state.json")
	g := graph.New(store, graph.DefaultParams(), graph.WithClock(clock), graph.WithStateFile(statePath))
	e := New(g, cfg, append([]Option{WithClock(clock)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{e: e, dir: dir, statePath: statePath, cancel: cancel, errc: make(chan error, 1)}
	go func() { h.errc <- e.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.errc
	})
}

func TestStimulatePublishesSnapshot(t *testing.T) {
	var mu sync.Mutex
	var hooked []models.Snapshot
	h := startEngine(t, testConfig(), map[string]string{"Chaos.md": chaos, "Order.md": order},
		OnSnapshot(func(s models.Snapshot) {
			mu.Lock()
			hooked = append(hooked, s)
			mu.Unlock()
		}))
	ctx := context.Background()

	stim, err := h.e.Stimulate(ctx, "let's talk about chaos", "")
	if err != nil {
		t.Fatalf("Stimulate: %v", err)
	}
	if len(stim.Matched) != 1 || stim.Matched[0] != "Chaos.md" || stim.ID == "" {
		t.Errorf("stimulus = %+v", stim)
	}

	snap := h.e.Snapshot()
	if len(snap.Nodes) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	top := snap.Nodes[0]
	if top.Filename != "Chaos.md" || top.Activation != 20 || top.Fatigue != 1 {
		t.Errorf("top = %+v", top)
	}
	if !snap.GeneratedAt.Equal(start) {
		t.Errorf("generated at %v", snap.GeneratedAt)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hooked) < 2 {
		t.Errorf("hook called %d times, want initial + stimulus", len(hooked))
	}
}

func TestStimulateRejectsEmpty(t *testing.T) {
	h := startEngine(t, testConfig(), nil)
	if _, err := h.e.Stimulate(context.Background(), "  ", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestTickRunsDueTasks(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Chaos.md": chaos, "Order.md": order})
	ctx := context.Background()
	if _, err := h.e.Stimulate(ctx, "chaos", ""); err != nil {
		t.Fatal(err)
	}

	// Not due yet.
	if err := h.e.Tick(ctx, start.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	o, _ := h.e.Lookup(ctx, "Order")
	if o.Activation != 0 {
		t.Fatalf("propagated early: %v", o.Activation)
	}

	if err := h.e.Tick(ctx, start.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	o, err := h.e.Lookup(ctx, "Order.md")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if o.Activation != 4 {
		t.Errorf("Order activation = %v, want 4", o.Activation)
	}

	if err := h.e.Tick(ctx, start.Add(10*time.Second)); err != nil {
		t.Fatal(err)
	}
	c, _ := h.e.Lookup(ctx, "Chaos.md")
	if c.Activation >= 20 {
		t.Errorf("Chaos not decayed: %v", c.Activation)
	}
}

func TestLookupNotFound(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Order.md": order})
	_, err := h.e.Lookup(context.Background(), "Missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFileChangedReloads(t *testing.T) {
	cfg := testConfig()
	cfg.ReloadDebounce = 5 * time.Second
	h := startEngine(t, cfg, map[string]string{"Order.md": order})
	ctx := context.Background()

	testutil.WriteNote(t, h.dir, "Extra.md", "---\ntitle: Extra\n---\n")
	if err := h.e.FileChanged(ctx, "Extra.md", "whatever"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Lookup(ctx, "Extra.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("reloaded before debounce: %v", err)
	}
	if err := h.e.Tick(ctx, start.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Lookup(ctx, "Extra.md"); err != nil {
		t.Errorf("Extra.md after debounce: %v", err)
	}
}

func TestFileChangedIgnoresOwnWrites(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Chaos.md": chaos})
	ctx := context.Background()

	// Wait for the initial load: it crystallizes Chaos.md.
	if _, err := h.e.Lookup(ctx, "Chaos.md"); err != nil {
		t.Fatal(err)
	}
	own, err := os.ReadFile(filepath.Join(h.dir, "Chaos.md"))
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteNote(t, h.dir, "Extra.md", "extra")

	if err := h.e.FileChanged(ctx, "Chaos.md", checksum.Sum(own)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Lookup(ctx, "Extra.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("own write triggered a reload: %v", err)
	}
}

func TestReload(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Order.md": order})
	ctx := context.Background()
	testutil.WriteNote(t, h.dir, "New.md", "new")

	rep, err := h.e.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rep.Nodes != 2 {
		t.Errorf("nodes = %d", rep.Nodes)
	}
}

func TestShutdownSavesTouchedNodes(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Chaos.md": chaos, "Order.md": order})
	if _, err := h.e.Stimulate(context.Background(), "chaos", ""); err != nil {
		t.Fatal(err)
	}
	h.stop()

	data, err := os.ReadFile(filepath.Join(h.dir, "Chaos.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "date_updated: 2025-03-01") {
		t.Errorf("shutdown save missing:\n%s", data)
	}
	state, err := os.ReadFile(h.statePath)
	if err != nil || !strings.Contains(string(state), `"Chaos.md"`) {
		t.Errorf("state file = %s (%v)", state, err)
	}

	if _, err := h.e.Stimulate(context.Background(), "chaos", ""); !errors.Is(err, apperr.ErrStopped) {
		t.Errorf("after stop err = %v, want ErrStopped", err)
	}
	if h.e.Ready() {
		t.Error("stopped engine reports ready")
	}
}

func TestQueueFullReturnsBusy(t *testing.T) {
	g := graph.New(nil, graph.DefaultParams())
	e := New(g, Config{QueueSize: 1})
	ctx := context.Background()
	if err := e.FileChanged(ctx, "a.md", ""); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := e.FileChanged(ctx, "b.md", ""); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

type memJournal struct {
	mu  sync.Mutex
	got []models.Stimulus
}

func (j *memJournal) RecordStimulus(_ context.Context, s models.Stimulus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.got = append(j.got, s)
	return nil
}

func TestJournalRecordsStimuli(t *testing.T) {
	j := &memJournal{}
	h := startEngine(t, testConfig(), map[string]string{"Order.md": order}, WithJournal(j))
	if _, err := h.e.Stimulate(context.Background(), "nothing", "[misc]"); err != nil {
		t.Fatal(err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.got) != 1 || j.got[0].TagContext != "[misc]" || len(j.got[0].Matched) != 0 {
		t.Errorf("journal = %+v", j.got)
	}
}

func TestLoadedClosesAfterInitialLoad(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Chaos.md": chaos})
	select {
	case <-h.e.Loaded():
	case <-time.After(5 * time.Second):
		t.Fatal("Loaded never closed")
	}
	if !h.e.Ready() {
		t.Error("loaded engine not ready")
	}
}

func TestShutdownSavesAfterReload(t *testing.T) {
	h := startEngine(t, testConfig(), map[string]string{"Chaos.md": chaos, "Order.md": order})
	ctx := context.Background()

	if _, err := h.e.Stimulate(ctx, "chaos again", ""); err != nil {
		t.Fatalf("Stimulate: %v", err)
	}
	if _, err := h.e.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	h.stop()

	data, err := os.ReadFile(filepath.Join(h.dir, "Chaos.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "date_updated: 2025-03-01") {
		t.Errorf("reload lost the pending save:\n%s", data)
	}
}
