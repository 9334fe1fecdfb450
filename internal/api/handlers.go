package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mmrzaf/listmat/internal/app"
	"github.com/mmrzaf/listmat/internal/domain"
)

type Handler struct {
	lists *app.ListService
}

func NewHandler(lists *app.ListService) *Handler {
	return &Handler{lists: lists}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/entities", h.ListEntities)

	mux.HandleFunc("GET /api/v1/lists", h.ListLists)
	mux.HandleFunc("POST /api/v1/lists", h.CreateList)
	mux.HandleFunc("GET /api/v1/lists/{id}", h.GetList)
	mux.HandleFunc("PUT /api/v1/lists/{id}", h.UpdateList)
	mux.HandleFunc("GET /api/v1/lists/{id}/content", h.GetContent)
	mux.HandleFunc("POST /api/v1/lists/{id}/refresh", h.StartRefresh)
	mux.HandleFunc("POST /api/v1/lists/{id}/refresh/cancel", h.CancelRefresh)
	mux.HandleFunc("GET /api/v1/lists/{id}/generations", h.ListGenerations)
	mux.HandleFunc("POST /api/v1/lists/{id}/gc", h.GC)
	mux.HandleFunc("GET /api/v1/generations/{id}", h.GetGeneration)

	mux.HandleFunc("GET /api/v1/lists/{id}/exports", h.ListExports)
	mux.HandleFunc("POST /api/v1/lists/{id}/exports", h.StartExport)
	mux.HandleFunc("GET /api/v1/exports/{id}", h.GetExport)
	mux.HandleFunc("POST /api/v1/exports/{id}/cancel", h.CancelExport)
}

func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lists.Entities())
}

// Lists

func (h *Handler) ListLists(w http.ResponseWriter, r *http.Request) {
	out, err := h.lists.ListLists(r.Context(), queryInt(r, "limit", 50, 500))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateListRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	l, err := h.lists.CreateList(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) GetList(w http.ResponseWriter, r *http.Request) {
	l, err := h.lists.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type updateListRequest struct {
	domain.CreateListRequest
	Version int64 `json:"version"`
}

func (h *Handler) UpdateList(w http.ResponseWriter, r *http.Request) {
	var req updateListRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	l, err := h.lists.UpdateList(r.Context(), r.PathValue("id"), req.Version, &req.CreateListRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	after := int64(-1)
	if q := r.URL.Query().Get("after"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		after = n
	}
	page, err := h.lists.Content(r.Context(), r.PathValue("id"), after, queryInt(r, "limit", 1000, 100000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Refresh

func (h *Handler) StartRefresh(w http.ResponseWriter, r *http.Request) {
	g, err := h.lists.StartRefresh(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, g)
}

func (h *Handler) CancelRefresh(w http.ResponseWriter, r *http.Request) {
	g, err := h.lists.CancelRefresh(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	out, err := h.lists.ListGenerations(r.Context(), r.PathValue("id"), queryInt(r, "limit", 20, 200))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	g, err := h.lists.GetGeneration(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) GC(w http.ResponseWriter, r *http.Request) {
	n, err := h.lists.GC(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted_rows": n})
}

// Exports

func (h *Handler) StartExport(w http.ResponseWriter, r *http.Request) {
	var req domain.ExportRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	j, err := h.lists.StartExport(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	out, err := h.lists.ListExports(r.Context(), r.PathValue("id"), queryInt(r, "limit", 20, 200))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	j, err := h.lists.GetExport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handler) CancelExport(w http.ResponseWriter, r *http.Request) {
	j, err := h.lists.CancelExport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(code string) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeConflict, domain.CodeNoRefresh, domain.CodeExportNotRunning, domain.CodeNoSuccess:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	var de *domain.Error
	if !errors.As(err, &de) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: code, Message: "internal error"})
		return
	}
	writeJSON(w, statusFor(code), errorBody{Code: code, Message: err.Error()})
}

func queryInt(r *http.Request, key string, def, max int) int {
	if q := r.URL.Query().Get(key); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONStrict(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
