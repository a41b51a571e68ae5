// Package api serves session records over HTTP. It never starts or changes
// runs; the engine owns every write.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/internal/stream"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store *store.Manager
	hub   *stream.Hub
	log   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(st *store.Manager, hub *stream.Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: st, hub: hub, log: log}
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	status := models.SessionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.StatusPending, models.StatusRunning, models.StatusCompleted, models.StatusError:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	sessions, err := h.store.List(status)
	if err != nil {
		h.log.Error("Failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// WatchSession handles GET /v1/sessions/{id}/ws
func (h *Handler) WatchSession(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeSession(w, r, mux.Vars(r)["id"])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
