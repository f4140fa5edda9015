package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/semdex/internal/library"
	"github.com/starford/semdex/internal/search"
)

const defaultHistory = 20

// Handler holds API route handlers.
type Handler struct {
	svc *library.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *library.Service) *Handler {
	return &Handler{svc: svc}
}

// filePath extracts the vault-relative path from the wildcard segment.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func filePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Search handles GET /api/search.
//
//	@Summary		Semantic search across the vault
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	true	"Search query"
//	@Param			topK		query		int		false	"Max results"
//	@Param			minScore	query		number	false	"Minimum cosine score"
//	@Param			maxContext	query		int		false	"Snippet character budget"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Failure		504			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	query := search.Query{Text: text}
	query.TopK, _ = strconv.Atoi(q.Get("topK"))
	query.MaxContextChars, _ = strconv.Atoi(q.Get("maxContext"))
	if raw := q.Get("minScore"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("minScore must be a number"))
			return
		}
		query.MinScore = &v
	}

	results, err := h.svc.Search(r.Context(), query)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: text, Results: results})
}

// Status handles GET /api/index/status.
//
//	@Summary		Index status, recent runs and log tail
//	@Tags			index
//	@Produce		json
//	@Param			history	query		int	false	"Number of runs and log lines"
//	@Success		200		{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/index/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	history := defaultHistory
	if raw := r.URL.Query().Get("history"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			history = n
		}
	}
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context(), history))
}

// Rebuild handles POST /api/index/rebuild.
//
//	@Summary		Rebuild the whole index
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	RebuildResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Failure		504	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Rebuild(r.Context())
	if err != nil {
		writeError(w, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resync handles POST /api/index/resync.
//
//	@Summary		Queue updates for files that changed on disk
//	@Tags			index
//	@Produce		json
//	@Success		202	{object}	ResyncResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/resync [post]
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Resync(r.Context())
	if err != nil {
		writeError(w, "resync", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ResyncResponse{Queued: n})
}

// Clear handles DELETE /api/index.
//
//	@Summary		Delete the index
//	@Tags			index
//	@Success		204	"Index deleted"
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index [delete]
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		writeError(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReindexFile handles PUT /api/index/files/*.
//
//	@Summary		Re-embed one file
//	@Tags			index
//	@Produce		json
//	@Param			path	path		string	true	"Vault-relative path"
//	@Success		200		{object}	FileResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/files/{path} [put]
func (h *Handler) ReindexFile(w http.ResponseWriter, r *http.Request) {
	path := filePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Reindex(r.Context(), path)
	if err != nil {
		writeError(w, "reindex", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RemoveFile handles DELETE /api/index/files/*.
//
//	@Summary		Drop one file from the index
//	@Tags			index
//	@Produce		json
//	@Param			path	path		string	true	"Vault-relative path"
//	@Success		200		{object}	FileResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/files/{path} [delete]
func (h *Handler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	path := filePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Remove(r.Context(), path)
	if err != nil {
		writeError(w, "remove", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Read a document with its index entries
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Vault-relative path"
//	@Success		200		{object}	DocumentResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := filePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.ReadDocument(r.Context(), path)
	if err != nil {
		writeError(w, "read document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Active index configuration
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// UpdateSettings handles PUT /api/settings.
//
//	@Summary		Patch the index configuration
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	cfg, err := h.svc.UpdateSettings(patch)
	if err != nil {
		writeError(w, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
