package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/NamanBalaji/rdm/internal/engine"
	"github.com/NamanBalaji/rdm/internal/errors"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/task"
)

const maxBatchBody = 1 << 20

// batchRequest is the body of POST /dm/add.
type batchRequest struct {
	URLAndFileNames map[string]string `json:"urlAndFileNames"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	engine *engine.Engine
}

// NewHandler exposes the engine under /dm/.
func NewHandler(e *engine.Engine) http.Handler {
	h := &handler{engine: e}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dm/add", h.add)
	mux.HandleFunc("POST /dm/add", h.addBatch)
	mux.HandleFunc("GET /dm/addload", h.addAndDownload)
	mux.HandleFunc("GET /dm/download", h.command(e.Download))
	mux.HandleFunc("GET /dm/pause", h.command(e.Pause))
	mux.HandleFunc("GET /dm/resume", h.command(e.Resume))
	mux.HandleFunc("GET /dm/cancel", h.command(e.Cancel))
	mux.HandleFunc("GET /dm/status", h.status)
	mux.HandleFunc("GET /dm/tasks", h.list)
	mux.HandleFunc("GET /dm/stats", h.stats)
	mux.HandleFunc("POST /dm/pool", h.pool)

	return mux
}

func (h *handler) add(w http.ResponseWriter, r *http.Request) {
	h.addWith(w, r, h.engine.Add)
}

func (h *handler) addAndDownload(w http.ResponseWriter, r *http.Request) {
	h.addWith(w, r, h.engine.AddAndDownload)
}

func (h *handler) addWith(w http.ResponseWriter, r *http.Request, add func(url, fileName string) (string, error)) {
	url := r.URL.Query().Get("url")
	fileName := r.URL.Query().Get("filename")

	if err := checkFileName(fileName); err != nil {
		writeError(w, err)
		return
	}

	id, err := add(url, fileName)
	if err != nil && id == "" {
		writeError(w, err)
		return
	}

	if err != nil {
		// the task exists but could not be started; report its state
		logger.Warnf("Task %s added but not started: %v", id, err)
	}

	h.writeView(w, id)
}

func (h *handler) addBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	urls := make([]string, 0, len(body.URLAndFileNames))
	for url := range body.URLAndFileNames {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	reqs := make([]engine.Request, 0, len(urls))
	for _, url := range urls {
		name := body.URLAndFileNames[url]
		if err := checkFileName(name); err != nil {
			writeError(w, err)
			return
		}

		reqs = append(reqs, engine.Request{URL: url, FileName: name})
	}

	ids, err := h.engine.AddBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]task.View, 0, len(ids))
	for _, id := range ids {
		if v, ok := h.engine.Get(id); ok {
			views = append(views, v)
		}
	}

	writeJSON(w, http.StatusOK, views)
}

// command adapts an id-addressed engine operation to a handler returning the task view.
func (h *handler) command(op func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")

		if err := op(id); err != nil {
			writeError(w, err)
			return
		}

		h.writeView(w, id)
	}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, r.URL.Query().Get("id"))
}

func (h *handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.List())
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *handler) pool(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "size must be an integer"})
		return
	}

	if err := h.engine.SetPoolSize(size); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *handler) writeView(w http.ResponseWriter, id string) {
	v, ok := h.engine.Get(id)
	if !ok {
		writeError(w, errors.NewUnknownTaskError(id))
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// checkFileName rejects names that would place the target outside the download directory.
func checkFileName(name string) error {
	if name == "" {
		return nil
	}

	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", errors.ErrInvalidFileName, name)
	}

	return nil
}

func statusCode(err error) int {
	switch {
	case errors.IsUnknownTask(err):
		return http.StatusNotFound
	case errors.IsInvalidTransition(err), errors.Is(err, errors.ErrTargetInUse):
		return http.StatusConflict
	case errors.IsShutdown(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrInvalidURL), errors.Is(err, errors.ErrInvalidFileName):
		return http.StatusBadRequest
	case errors.IsCorruptProgress(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		logger.Errorf("Request failed: %v", err)
	}

	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugf("Failed to encode response: %v", err)
	}
}
