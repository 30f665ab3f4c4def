package index

import (
	"context"

	"github.com/starford/cortex/internal/models"
)

// Mirror is the write side kept in step with the vault by Sync and Watch.
type Mirror interface {
	UpsertNote(n NoteRow, body string, links []string) error
	DeleteNote(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
}

// Reader is the query side used by the API and MCP layers.
type Reader interface {
	GetNote(path string) (*NoteRow, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target string) ([]string, error)
	RecentStimuli(ctx context.Context, limit int) ([]models.Stimulus, error)
}

var (
	_ Mirror = (*DB)(nil)
	_ Reader = (*DB)(nil)
)
