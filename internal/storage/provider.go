// Package storage defines the vault file-system abstraction.
package storage

import (
	"context"

	"github.com/starford/cortex/internal/models"
)

// Provider is the interface for vault file operations. Every call is bounded
// by ctx: a deadline that expires before the file system answers returns the
// context error instead of blocking the caller.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to vault root),
	// skipping the configured directory names.
	List(ctx context.Context, dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(ctx context.Context, path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(ctx context.Context, path string, content []byte) error
}
