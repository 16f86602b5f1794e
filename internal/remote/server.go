package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/optisync/internal/model"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves r over the same JSON API HTTPClient speaks.
func Handler(r Remote, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{remote: r, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/{collection}", h.fetch)
	mux.HandleFunc("POST /v1/{collection}", h.create)
	mux.HandleFunc("PATCH /v1/{collection}/{id}", h.update)
	mux.HandleFunc("DELETE /v1/{collection}/{id}", h.remove)
	return mux
}

type handler struct {
	remote Remote
	logger *slog.Logger
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	f := Filter{Collection: r.PathValue("collection")}
	if q := r.URL.Query(); len(q) > 0 {
		f.Where = make(map[string]string, len(q))
		for k := range q {
			f.Where[k] = q.Get(k)
		}
	}
	entities, err := h.remote.FetchCollection(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entityList{Entities: entities})
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	e, err := h.remote.CreateEntity(r.Context(), r.PathValue("collection"), req.Fields, req.OpID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	e, err := h.remote.UpdateEntity(r.Context(), r.PathValue("collection"), r.PathValue("id"), req.Fields, req.OpID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	err := h.remote.DeleteEntity(r.Context(), r.PathValue("collection"), r.PathValue("id"), r.Header.Get(OpIDHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request) (writeRequest, bool) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
		return req, false
	}
	if req.OpID == "" {
		req.OpID = r.Header.Get(OpIDHeader)
	}
	if req.Fields == nil {
		req.Fields = model.Fields{}
	}
	return req, true
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		status, code = http.StatusConflict, "conflict"
	}
	h.logger.Warn("remote request failed",
		"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
