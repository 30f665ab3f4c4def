package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cortex/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// filenameParam extracts the {filename} URL parameter. Supports encoded
// characters from API clients (e.g. My%20Note.md).
func filenameParam(r *http.Request) string {
	raw := chi.URLParam(r, "filename")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Brain handles GET /api/brain.
//
//	@Summary		Most active notes, most active first
//	@Tags			brain
//	@Produce		json
//	@Success		200	{object}	models.Snapshot
//	@Security		BearerAuth
//	@Router			/brain [get]
func (h *Handler) Brain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Brain())
}

// GetNode handles GET /api/nodes/{filename}.
//
//	@Summary		Live state of one note
//	@Tags			brain
//	@Produce		json
//	@Param			filename	path		string	true	"Note filename, extension optional"
//	@Success		200			{object}	NoteDetail
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{filename} [get]
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.GetNote(r.Context(), filenameParam(r))
	if err != nil {
		writeError(w, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Stimulate handles POST /api/stimulus.
//
//	@Summary		Inject a stimulus into the graph
//	@Tags			brain
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StimulusRequest	true	"Stimulus"
//	@Success		200		{object}	models.Stimulus
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stimulus [post]
func (h *Handler) Stimulate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req StimulusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	stim, err := h.svc.Stimulate(r.Context(), req.Text, req.TagContext)
	if err != nil {
		writeError(w, "stimulate", err)
		return
	}
	writeJSON(w, http.StatusOK, stim)
}

// Reload handles POST /api/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Reload(r.Context())
	if err != nil {
		writeError(w, "reload", err)
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{
		Nodes:         rep.Nodes,
		Restored:      rep.Restored,
		ScoresWritten: rep.Write.Written,
		WriteFailures: rep.Write.Failed,
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Backlinks handles GET /api/backlinks/{filename}.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	target := filenameParam(r)
	bl, err := h.svc.Backlinks(r.Context(), target)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Target: target, Backlinks: bl})
}

// Journal handles GET /api/journal.
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	stimuli, err := h.svc.Journal(r.Context(), limit)
	if err != nil {
		writeError(w, "journal", err)
		return
	}
	writeJSON(w, http.StatusOK, JournalResponse{Stimuli: stimuli})
}
