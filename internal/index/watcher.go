package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/cortex/internal/checksum"
	"github.com/starford/cortex/internal/storage"
)

// Event describes one watcher-driven index change.
type Event struct {
	// Kind is one of "created", "updated", "deleted".
	Kind string
	Path string
	// Checksum of the new content; empty for deletions.
	Checksum string
}

// EventCallback is called after a watcher-driven index change.
type EventCallback func(Event)

// SkipFunc reports whether a directory with this base name is excluded.
type SkipFunc func(name string) bool

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful index mutation.
//
// New directories created at runtime are automatically added to the watch
// list unless skip excludes them. Rename events trigger a reconciliation pass
// that removes stale index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db Mirror, store storage.Provider, vaultRoot string, skip SkipFunc, logger *slog.Logger, cb EventCallback) error {
	if skip == nil {
		skip = func(string) bool { return false }
	}
	if cb == nil {
		cb = func(Event) {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot, skip); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			handleEvent(ctx, w, ev, db, store, vaultRoot, skip, logger, cb, scheduleReconcile)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event, db Mirror, store storage.Provider,
	vaultRoot string, skip SkipFunc, logger *slog.Logger, cb EventCallback, scheduleReconcile func(),
) {
	absPath := ev.Name

	// New directories: add to watcher and index what is already inside.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if skip(filepath.Base(absPath)) {
				return
			}
			if addErr := addDirsRecursive(w, absPath, skip); addErr != nil {
				logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			} else {
				logger.Debug("watcher: watching new dir", slog.String("path", absPath))
			}
			indexNewDir(ctx, db, store, vaultRoot, absPath, skip, logger, cb)
			return
		}
	}

	// Only process .md files from here on.
	if !strings.HasSuffix(absPath, ".md") {
		return
	}
	rel, relErr := filepath.Rel(vaultRoot, absPath)
	if relErr != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		data, readErr := readFile(ctx, store, rel)
		if readErr != nil {
			logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
			return
		}
		cs, idxErr := indexFile(db, rel, data)
		if idxErr != nil {
			logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
			return
		}
		kind := "updated"
		if ev.Op&fsnotify.Create != 0 {
			kind = "created"
		}
		logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
		cb(Event{Kind: kind, Path: rel, Checksum: cs})

	case ev.Op&fsnotify.Remove != 0:
		if delErr := db.DeleteNote(rel); delErr != nil {
			logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
			return
		}
		logger.Debug("watcher: deleted", slog.String("path", rel))
		cb(Event{Kind: "deleted", Path: rel})

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the old path only; the new path arrives
		// as a separate Create when it stays inside a watched dir.
		if delErr := db.DeleteNote(rel); delErr != nil {
			logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
		} else {
			logger.Debug("watcher: rename old deleted", slog.String("path", rel))
			cb(Event{Kind: "deleted", Path: rel})
		}
		scheduleReconcile()
	}
}

// reconcile finds index entries without a file on disk and removes them, and
// indexes on-disk files whose content is not indexed yet.
func reconcile(ctx context.Context, db Mirror, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, ioTimeout)
	metas, err := store.List(listCtx, "")
	cancel()
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if delErr := db.DeleteNote(p); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("path", p))
				cb(Event{Kind: "deleted", Path: p})
			}
		}
	}

	for _, m := range metas {
		data, readErr := readFile(ctx, store, m.Path)
		if readErr != nil {
			continue
		}
		if checksum.Matches(data, checksums[m.Path]) {
			continue
		}
		if cs, idxErr := indexFile(db, m.Path, data); idxErr == nil {
			logger.Debug("reconcile: indexed new", slog.String("path", m.Path))
			cb(Event{Kind: "created", Path: m.Path, Checksum: cs})
		}
	}
}

// indexNewDir indexes any .md files found in a newly created directory.
func indexNewDir(ctx context.Context, db Mirror, store storage.Provider, vaultRoot, dirPath string, skip SkipFunc, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dirPath && skip(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		data, readErr := readFile(ctx, store, rel)
		if readErr != nil {
			return nil
		}
		if cs, idxErr := indexFile(db, rel, data); idxErr == nil {
			logger.Debug("watcher: indexed from new dir", slog.String("path", rel))
			cb(Event{Kind: "created", Path: rel, Checksum: cs})
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-skipped subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, skip SkipFunc) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skip(d.Name()) {
			return fs.SkipDir
		}
		return w.Add(p)
	})
}
