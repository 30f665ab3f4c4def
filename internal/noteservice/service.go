// Package noteservice combines the activation engine and the note index into
// the read and write operations exposed by the HTTP API and the MCP server.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/cortex/internal/apperr"
	"github.com/starford/cortex/internal/frontmatter"
	"github.com/starford/cortex/internal/graph"
	"github.com/starford/cortex/internal/index"
	"github.com/starford/cortex/internal/models"
)

const (
	DefaultSearchLimit  = 20
	MaxSearchLimit      = 100
	DefaultJournalLimit = 50
	MaxJournalLimit     = 500
)

// Brain is the part of the engine the service needs.
type Brain interface {
	Ready() bool
	Snapshot() models.Snapshot
	Stimulate(ctx context.Context, text, tagContext string) (models.Stimulus, error)
	Lookup(ctx context.Context, filename string) (graph.NodeView, error)
	Reload(ctx context.Context) (graph.LoadReport, error)
}

// StimulusListener is told about every accepted stimulus.
type StimulusListener func(models.Stimulus)

// NoteDetail is one node as seen by the graph, enriched with index data.
type NoteDetail struct {
	graph.NodeView
	Checksum  string   `json:"checksum,omitempty"`
	Backlinks []string `json:"backlinks"`
}

// Service coordinates the engine and the index.
type Service struct {
	brain    Brain
	db       index.Reader
	listener StimulusListener
}

// NewService creates a new note service. listener may be nil.
func NewService(brain Brain, db index.Reader, listener StimulusListener) *Service {
	return &Service{brain: brain, db: db, listener: listener}
}

// Ready reports whether the engine finished its initial load.
func (s *Service) Ready() bool { return s.brain.Ready() }

// Brain returns the last published snapshot.
func (s *Service) Brain() models.Snapshot { return s.brain.Snapshot() }

// GetNote returns the live state of one node plus its backlinks.
func (s *Service) GetNote(ctx context.Context, filename string) (*NoteDetail, error) {
	key := frontmatter.NormalizeKey(filename)
	if key == "" {
		return nil, fmt.Errorf("noteservice: empty filename: %w", apperr.ErrInvalid)
	}
	view, err := s.brain.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	bl, err := s.db.Backlinks(key)
	if err != nil {
		return nil, err
	}
	detail := &NoteDetail{NodeView: view, Backlinks: bl}
	if row, err := s.db.GetNote(view.Path); err == nil {
		detail.Checksum = row.Checksum
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return detail, nil
}

// Stimulate injects a stimulus and notifies the listener.
func (s *Service) Stimulate(ctx context.Context, text, tagContext string) (models.Stimulus, error) {
	stim, err := s.brain.Stimulate(ctx, text, tagContext)
	if err != nil {
		return models.Stimulus{}, err
	}
	if s.listener != nil {
		s.listener(stim)
	}
	return stim, nil
}

// Reload forces a full rescan of the vault.
func (s *Service) Reload(ctx context.Context) (graph.LoadReport, error) {
	return s.brain.Reload(ctx)
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("noteservice: empty query: %w", apperr.ErrInvalid)
	}
	return s.db.Search(query, clamp(limit, DefaultSearchLimit, MaxSearchLimit))
}

// Backlinks returns all note paths that link to the given filename.
func (s *Service) Backlinks(_ context.Context, filename string) ([]string, error) {
	key := frontmatter.NormalizeKey(filename)
	if key == "" {
		return nil, fmt.Errorf("noteservice: empty filename: %w", apperr.ErrInvalid)
	}
	return s.db.Backlinks(key)
}

// Journal returns the most recent stimuli, newest first.
func (s *Service) Journal(ctx context.Context, limit int) ([]models.Stimulus, error) {
	return s.db.RecentStimuli(ctx, clamp(limit, DefaultJournalLimit, MaxJournalLimit))
}

func clamp(v, def, hi int) int {
	switch {
	case v <= 0:
		return def
	case v > hi:
		return hi
	}
	return v
}
