package api

import (
	"github.com/starford/cortex/internal/index"
	"github.com/starford/cortex/internal/models"
	"github.com/starford/cortex/internal/noteservice"
)

// StimulusRequest is the request body for injecting a stimulus.
type StimulusRequest struct {
	Text       string `json:"text" example:"thinking about chaos and order"`
	TagContext string `json:"tag_context" example:"[physics][entropy]"`
}

// NoteDetail is the node response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse lists the notes linking to a filename.
type BacklinksResponse struct {
	Target    string   `json:"target" example:"Order.md" validate:"required"`
	Backlinks []string `json:"backlinks" validate:"required"`
}

// JournalResponse wraps recent stimuli, newest first.
type JournalResponse struct {
	Stimuli []models.Stimulus `json:"stimuli" validate:"required"`
}

// ReloadResponse summarizes a forced rescan.
type ReloadResponse struct {
	Nodes         int `json:"nodes" example:"42"`
	Restored      int `json:"restored" example:"7"`
	ScoresWritten int `json:"scores_written" example:"3"`
	WriteFailures int `json:"write_failures" example:"0"`
}
