package index

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/cortex/internal/checksum"
	"github.com/starford/cortex/internal/frontmatter"
	"github.com/starford/cortex/internal/storage"
)

// ioTimeout bounds each vault read done by Sync and the watcher.
const ioTimeout = 5 * time.Second

// Sync walks the vault and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(ctx context.Context, db Mirror, store storage.Provider, logger *slog.Logger) error {
	listCtx, cancel := context.WithTimeout(ctx, ioTimeout)
	metas, err := store.List(listCtx, "")
	cancel()
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	indexed := 0
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		disk[m.Path] = struct{}{}

		data, err := readFile(ctx, store, m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if checksum.Matches(data, checksums[m.Path]) {
			continue
		}
		if _, err := indexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		indexed++
		logger.Debug("sync: indexed", slog.String("path", m.Path))
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNote(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	logger.Info("sync: done", slog.Int("files", len(metas)), slog.Int("indexed", indexed))
	return nil
}

func readFile(ctx context.Context, store storage.Provider, rel string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()
	return store.Read(ctx, rel)
}

// indexFile parses data and upserts it into the DB. It returns the checksum
// of data.
func indexFile(db Mirror, rel string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("index: %s is not utf-8 text", rel)
	}
	doc := frontmatter.Split(data)
	md := frontmatter.Decode(doc.Block(), frontmatter.Defaults{Now: time.Now()})

	filename := path.Base(rel)
	title := md.Title
	if title == "" {
		title = strings.TrimSuffix(filename, path.Ext(filename))
	}
	cs := checksum.Sum(data)
	row := NoteRow{
		Path:      rel,
		Filename:  filename,
		Title:     title,
		Checksum:  cs,
		Tags:      md.Tags,
		UpdatedAt: md.DateUpdated,
	}
	return cs, db.UpsertNote(row, string(doc.Body()), frontmatter.ExtractLinks(doc.Body()))
}
