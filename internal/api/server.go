package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(rateLimiter *ratelimit.Limiter, corsOrigin string) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Record reads are rate limited; the live feed is one long request
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter))
	limited.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet, http.MethodOptions)
	limited.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/sessions/{id}/ws", h.WatchSession).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if corsOrigin == "" {
		corsOrigin = "*"
	}
	r.Use(CORSMiddleware(corsOrigin))
	r.Use(LoggingMiddleware(h.log.With(zap.String("component", "api"))))

	return r
}
