package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/holt/lattice/internal/checksum"
	"github.com/holt/lattice/internal/codec"
	"github.com/holt/lattice/internal/index"
	"github.com/holt/lattice/internal/layout"
	"github.com/holt/lattice/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	st         *store.Store
	idx        *index.DB
	layoutOpts layout.Options
}

// NewHandler creates a new Handler.
func NewHandler(st *store.Store, idx *index.DB, layoutOpts layout.Options) *Handler {
	return &Handler{st: st, idx: idx, layoutOpts: layoutOpts}
}

// nodePath extracts the node path from the URL (everything after the
// route prefix). Supports encoded slashes from generated clients.
func nodePath(r *http.Request) string {
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

// Graph handles GET /api/graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	snap := h.st.Snapshot()
	resp := GraphResponse{
		Nodes:     make([]NodeDetail, 0, len(snap.Nodes)),
		HardEdges: make([]EdgeDTO, 0, len(snap.HardEdges)),
		SoftEdges: make([]EdgeDTO, 0, len(snap.SoftEdges)),
	}
	for i := range snap.Nodes {
		resp.Nodes = append(resp.Nodes, nodeDetail(&snap.Nodes[i]))
	}
	for _, e := range snap.HardEdges {
		resp.HardEdges = append(resp.HardEdges, EdgeDTO{Source: e.Source, Target: e.Target})
	}
	for _, e := range snap.SoftEdges {
		resp.SoftEdges = append(resp.SoftEdges, EdgeDTO{Source: e.Source, Target: e.Target})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Layout handles GET /api/layout?mode=.
func (h *Handler) Layout(w http.ResponseWriter, r *http.Request) {
	mode, err := layout.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, err)
		return
	}

	snap := h.st.Snapshot()
	nodes := make([]layout.Node, 0, len(snap.Nodes))
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		nodes = append(nodes, layout.Node{ID: n.ID, Label: n.Label(), IsContainer: n.IsContainer})
	}
	positions, err := layout.Compute(nodes, snap.HardEdges, snap.SoftEdges, mode, h.layoutOpts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":      mode,
		"positions": positions,
	})
}

// ListNodes handles GET /api/nodes.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	snap := h.st.Snapshot()
	nodes := make([]NodeDetail, 0, len(snap.Nodes))
	for i := range snap.Nodes {
		d := nodeDetail(&snap.Nodes[i])
		d.Body = "" // listings stay lightweight
		nodes = append(nodes, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "total": len(nodes)})
}

// GetNode handles GET /api/nodes/*.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	n, err := h.st.Node(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeDetail(n))
}

// CreateNode handles POST /api/nodes.
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}

	var meta *codec.Metadata
	if req.Metadata != nil {
		var err error
		if meta, err = jsonToPatch(req.Metadata); err != nil {
			writeError(w, err)
			return
		}
	}
	body := ""
	if req.Body != nil {
		body = *req.Body
	}

	n, err := h.st.Create(r.Context(), req.ParentPath, req.Name, req.IsContainer, meta, body)
	if err != nil {
		slog.Error("create node failed", slog.String("name", req.Name), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nodeDetail(n))
}

// UpdateNode handles PUT /api/nodes/*. An If-Match header, when present,
// must carry the checksum of the document being replaced.
func (h *Handler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := nodePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		current, err := h.st.Node(path)
		if err != nil {
			writeError(w, err)
			return
		}
		cs := checksum.Sum([]byte(codec.Serialize(current.Meta, current.Body)))
		if cs != ifMatch {
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
			return
		}
	}

	var patch *codec.Metadata
	if req.Metadata != nil {
		var err error
		if patch, err = jsonToPatch(req.Metadata); err != nil {
			writeError(w, err)
			return
		}
	}

	n, err := h.st.Update(r.Context(), path, patch, req.Body)
	if err != nil {
		slog.Error("update node failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeDetail(n))
}

// DeleteNode handles DELETE /api/nodes/*.
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.st.Remove(r.Context(), path); err != nil {
		slog.Error("delete node failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveNode handles POST /api/move.
func (h *Handler) MoveNode(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("oldPath and newPath are required"))
		return
	}
	if err := h.st.Move(r.Context(), req.OldPath, req.NewPath); err != nil {
		slog.Error("move node failed",
			slog.String("old", req.OldPath),
			slog.String("new", req.NewPath),
			slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	n, err := h.st.Node(req.NewPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeDetail(n))
}

// CreateEdge handles POST /api/edges.
func (h *Handler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.SourcePath == "" || req.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("sourcePath and targetId are required"))
		return
	}
	if err := h.st.CreateSoftLink(r.Context(), req.SourcePath, req.TargetID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEdge handles DELETE /api/edges.
func (h *Handler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.SourcePath == "" || req.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("sourcePath and targetId are required"))
		return
	}
	if err := h.st.RemoveSoftLink(r.Context(), req.SourcePath, req.TargetID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := index.Query{
		Text:     q.Get("q"),
		NodeType: q.Get("type"),
	}
	if v := q.Get("hasTask"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("hasTask must be a boolean"))
			return
		}
		query.HasTask = &b
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))

	hits, err := h.idx.Search(query)
	if err != nil {
		slog.Error("search failed", slog.String("query", query.Text), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
