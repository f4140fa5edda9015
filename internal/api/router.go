package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/semdex/internal/library"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *library.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/search", h.Search)

	r.Route("/index", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/rebuild", h.Rebuild)
		r.Post("/resync", h.Resync)
		r.Delete("/", h.Clear)
		r.Put("/files/*", h.ReindexFile)
		r.Delete("/files/*", h.RemoveFile)
	})

	r.Get("/documents/*", h.GetDocument)

	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
