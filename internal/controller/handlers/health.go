package handlers

import (
	"net/http"

	"analysisweb/pkg/api"
)

// Healthz reports that the process is serving requests.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, api.StatusResponse{Status: "healthy"})
}

// Readyz reports 503 until the entity store answers a ping.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.httpError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, api.StatusResponse{Status: "ready"})
}
