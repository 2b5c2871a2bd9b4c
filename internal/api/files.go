package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/holt/lattice/internal/backend"
	"github.com/holt/lattice/internal/store"
)

// FileHandler serves the raw project file surface that remote-backend
// peers consume. Operations go straight through the adapter; the local
// graph is resynchronized afterwards so both views stay consistent.
type FileHandler struct {
	adapter backend.Adapter
	st      *store.Store
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(adapter backend.Adapter, st *store.Store) *FileHandler {
	return &FileHandler{adapter: adapter, st: st}
}

// ListEntries handles GET /api/projects/{project}/entries.
func (h *FileHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.adapter.List(r.Context(), r.URL.Query().Get("root"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []backend.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ReadFile handles GET /api/projects/{project}/files/*.
func (h *FileHandler) ReadFile(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	raw, err := h.adapter.Read(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, raw)
}

// WriteFile handles PUT /api/projects/{project}/files/*.
func (h *FileHandler) WriteFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := nodePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if err := h.adapter.Write(r.Context(), path, string(data)); err != nil {
		writeError(w, err)
		return
	}
	if err := h.st.RefreshEntry(r.Context(), path); err != nil {
		slog.Warn("file write: graph refresh failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveFile handles DELETE /api/projects/{project}/files/*.
func (h *FileHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.adapter.Remove(r.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	h.resync(r)
	w.WriteHeader(http.StatusNoContent)
}

// MoveFile handles POST /api/projects/{project}/move.
func (h *FileHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("oldPath and newPath are required"))
		return
	}
	if err := h.adapter.Move(r.Context(), req.OldPath, req.NewPath); err != nil {
		writeError(w, err)
		return
	}
	h.resync(r)
	w.WriteHeader(http.StatusNoContent)
}

// MakeDir handles POST /api/projects/{project}/dirs.
func (h *FileHandler) MakeDir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.adapter.MakeDir(r.Context(), req.Path); err != nil {
		writeError(w, err)
		return
	}
	h.st.RefreshContainer(req.Path)
	w.WriteHeader(http.StatusCreated)
}

// resync rebuilds the graph wholesale. Destructive file operations can
// touch whole subtrees, so a targeted refresh is not enough.
func (h *FileHandler) resync(r *http.Request) {
	if err := h.st.LoadAll(r.Context()); err != nil {
		slog.Warn("file op: graph resync failed", slog.String("error", err.Error()))
	}
}
