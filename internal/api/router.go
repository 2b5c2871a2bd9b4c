package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// projectID scopes the raw file surface; requests for other projects 404.
func NewRouter(h *Handler, fh *FileHandler, authEnabled bool, token, projectID string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Graph views.
	r.Get("/graph", h.Graph)
	r.Get("/layout", h.Layout)

	// Node CRUD.
	r.Get("/nodes", h.ListNodes)
	r.Post("/nodes", h.CreateNode)
	r.Get("/nodes/*", h.GetNode)
	r.Put("/nodes/*", h.UpdateNode)
	r.Delete("/nodes/*", h.DeleteNode)
	r.Post("/move", h.MoveNode)

	// Soft links.
	r.Post("/edges", h.CreateEdge)
	r.Delete("/edges", h.DeleteEdge)

	// Search.
	r.Get("/search", h.Search)

	// Raw file surface for remote-backend peers.
	if fh != nil {
		r.Route("/projects/{project}", func(pr chi.Router) {
			pr.Use(requireProject(projectID))
			pr.Get("/entries", fh.ListEntries)
			pr.Get("/files/*", fh.ReadFile)
			pr.Put("/files/*", fh.WriteFile)
			pr.Delete("/files/*", fh.RemoveFile)
			pr.Post("/move", fh.MoveFile)
			pr.Post("/dirs", fh.MakeDir)
		})
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// requireProject rejects requests addressed to a different project.
func requireProject(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if projectID != "" && chi.URLParam(r, "project") != projectID {
				writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
