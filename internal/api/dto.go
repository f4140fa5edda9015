package api

import (
	"github.com/starford/semdex/internal/index"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/library"
	"github.com/starford/semdex/internal/search"
)

// SearchResult is a single ranked hit (aliased from the search layer).
type SearchResult = search.Result

// SearchResponse wraps search results.
type SearchResponse struct {
	Query   string         `json:"query" example:"how are embeddings cached" validate:"required"`
	Results []SearchResult `json:"results" validate:"required"`
}

// StatusResponse is the index status report.
type StatusResponse = library.StatusReport

// RebuildResponse summarizes a rebuild.
type RebuildResponse = index.RebuildResult

// FileResponse reports a per-file index operation.
type FileResponse = index.FileResult

// ResyncResponse reports how many tasks a resync enqueued.
type ResyncResponse struct {
	Queued int `json:"queued" example:"3" validate:"required"`
}

// DocumentResponse is a vault document with its index entries.
type DocumentResponse = library.Document

// SettingsResponse is the active index configuration with the API key masked.
type SettingsResponse = indexconf.Config
