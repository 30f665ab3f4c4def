// Package models defines the domain types shared across Cortex packages.
package models

import "time"

// NoteMetadata is what a vault listing knows about a file without reading it.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotNode is one row of the activity snapshot.
type SnapshotNode struct {
	Filename   string  `json:"filename"`
	Title      string  `json:"title"`
	Activation float64 `json:"activation"`
	Weight     float64 `json:"weight"`
	LinkCount  int     `json:"links"`
	Fatigue    int     `json:"fatigue"`
	Ignited    bool    `json:"ignited"`
}

// Snapshot is the export-only view of the most active notes. It is never read
// back as a source of truth.
type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Nodes       []SnapshotNode `json:"nodes"`
}

// Stimulus is one inbound event as recorded in the journal.
type Stimulus struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	TagContext string    `json:"tag_context"`
	Matched    []string  `json:"matched"`
	ReceivedAt time.Time `json:"received_at"`
}
