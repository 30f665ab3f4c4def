package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/cortex/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSync_IndexesAndRemovesStale(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	ctx := context.Background()
	_ = os.WriteFile(filepath.Join(vaultDir, "Chaos.md"), []byte("---\ntitle: Chaos\ntags: [physique]\n---\nSee [[Order]].\n"), 0o644)
	_ = os.MkdirAll(filepath.Join(vaultDir, ".trash"), 0o755)
	_ = os.WriteFile(filepath.Join(vaultDir, ".trash", "Old.md"), []byte("old"), 0o644)
	_ = db.UpsertNote(NoteRow{Path: "Gone.md", Checksum: "x"}, "", nil)

	if err := Sync(ctx, db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	all, _ := db.AllChecksums()
	if len(all) != 1 || all["Chaos.md"] == "" {
		t.Fatalf("indexed = %v", all)
	}
	note, err := db.GetNote("Chaos.md")
	if err != nil || note.Title != "Chaos" || note.Filename != "Chaos.md" {
		t.Errorf("note = %+v, %v", note, err)
	}
	bl, _ := db.Backlinks("Order.md")
	if len(bl) != 1 || bl[0] != "Chaos.md" {
		t.Errorf("backlinks = %v", bl)
	}
}

func TestSync_SkipsNonText(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	_ = os.WriteFile(filepath.Join(vaultDir, "bin.md"), []byte{0xff, 0xfe, 0x00}, 0o644)
	if err := Sync(context.Background(), db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if cs, _ := db.GetChecksum("bin.md"); cs != "" {
		t.Error("binary file indexed")
	}
}

func TestSync_CancelledContext(t *testing.T) {
	vaultDir, _, db := watcherTestEnv(t)
	store, _ := storage.NewFS(vaultDir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sync(ctx, db, store, quietLogger()); err == nil {
		t.Error("expected error for cancelled context")
	}
}
