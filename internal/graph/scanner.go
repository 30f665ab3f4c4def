package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/cortex/internal/checksum"
	"github.com/starford/cortex/internal/frontmatter"
	"github.com/starford/cortex/internal/metrics"
	"github.com/starford/cortex/internal/storage"
)

// ErrNotText is returned by ParseNote for content that is not valid UTF-8.
var ErrNotText = errors.New("graph: not utf-8 text")

// Scanner walks the vault and builds one node per markdown file.
type Scanner struct {
	Store     storage.Provider
	Params    Params
	IOTimeout time.Duration
	Logger    *slog.Logger
}

// Scan returns the nodes keyed by filename. Unreadable or non-text files are
// skipped; only a listing failure or a cancelled ctx aborts the scan.
func (s Scanner) Scan(ctx context.Context, now time.Time) (map[string]*Node, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listCtx, cancel := withTimeout(ctx, s.IOTimeout)
	files, err := s.Store.List(listCtx, "")
	cancel()
	if err != nil {
		return nil, fmt.Errorf("graph: scan: %w", err)
	}

	nodes := make(map[string]*Node, len(files))
	paths := make(map[string]string, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		readCtx, cancel := withTimeout(ctx, s.IOTimeout)
		data, err := s.Store.Read(readCtx, f.Path)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("graph: skip unreadable file", slog.String("path", f.Path), slog.String("error", err.Error()))
			metrics.ScanSkipped.WithLabelValues("read").Inc()
			continue
		}

		note, err := ParseNote(f.Path, data, s.Params, now)
		if err != nil {
			logger.Debug("graph: skip non-text file", slog.String("path", f.Path))
			metrics.ScanSkipped.WithLabelValues("decode").Inc()
			continue
		}
		if first, dup := paths[note.Filename]; dup {
			logger.Warn("graph: duplicate filename, keeping first",
				slog.String("filename", note.Filename),
				slog.String("kept", first),
				slog.String("skipped", f.Path))
			metrics.ScanSkipped.WithLabelValues("duplicate").Inc()
			continue
		}
		paths[note.Filename] = f.Path
		nodes[note.Filename] = NewNode(note, s.Params, now)
	}
	return nodes, nil
}

// ParseNote decodes one file into its persisted fields. It fails only when
// data is not UTF-8 text; every metadata problem degrades to defaults.
func ParseNote(relPath string, data []byte, p Params, now time.Time) (Note, error) {
	if !utf8.Valid(data) {
		return Note{}, ErrNotText
	}
	doc := frontmatter.Split(data)
	md := frontmatter.Decode(doc.Block(), frontmatter.Defaults{Weight: p.DefaultWeight, Now: now})

	filename := path.Base(relPath)
	title := md.Title
	if title == "" {
		title = strings.TrimSuffix(filename, path.Ext(filename))
	}
	return Note{
		Filename:       filename,
		Path:           relPath,
		Title:          title,
		ID:             md.ID,
		Tags:           md.Tags,
		Links:          frontmatter.ExtractLinks(doc.Body()),
		BaseWeight:     md.Weight,
		DateUpdated:    md.DateUpdated,
		StoredScore:    md.Score,
		HasStoredScore: md.HasScore,
		Checksum:       checksum.Sum(data),
	}, nil
}

// withTimeout applies d when positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
