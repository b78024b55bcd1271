package listener

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Handler exposes the controller over HTTP:
//
//	GET  /api/v1/listener/status
//	POST /api/v1/listener/start
//	POST /api/v1/listener/stop
type Handler struct {
	c      *Controller
	logger *zap.Logger
}

// NewHandler returns the control API for c.
func NewHandler(c *Controller, logger *zap.Logger) *Handler {
	return &Handler{c: c, logger: logger}
}

// RegisterRoutes mounts the control API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/listener/status", h.handleStatus)
	mux.HandleFunc("POST /api/v1/listener/start", h.handleStart)
	mux.HandleFunc("POST /api/v1/listener/stop", h.handleStop)
}

// StopResponse is returned by POST /stop. Teardown failures are informational.
type StopResponse struct {
	Status         Status   `json:"status"`
	TeardownErrors []string `json:"teardown_errors,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.c.Status())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	err := h.c.Start()
	var already *AlreadyListeningError
	var startup *StartupError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.c.Status())
	case errors.As(err, &already):
		writeError(w, http.StatusConflict, err.Error(), r.URL.Path)
	case errors.As(err, &startup):
		writeError(w, http.StatusBadGateway, err.Error(), r.URL.Path)
	default:
		h.logger.Error("listener start", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error(), r.URL.Path)
	}
}

func (h *Handler) handleStop(w http.ResponseWriter, _ *http.Request) {
	resp := StopResponse{}
	if err := h.c.Stop(); err != nil {
		var td *TeardownError
		for _, e := range unwrapAll(err) {
			if errors.As(e, &td) {
				resp.TeardownErrors = append(resp.TeardownErrors, td.Error())
			}
		}
	}
	resp.Status = h.c.Status()
	writeJSON(w, http.StatusOK, resp)
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":     "https://tagwatch.dev/problems/" + problemSlug(status),
		"title":    http.StatusText(status),
		"status":   status,
		"detail":   detail,
		"instance": instance,
	})
}

func problemSlug(status int) string {
	switch status {
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "reader-unavailable"
	}
	return "internal-error"
}
