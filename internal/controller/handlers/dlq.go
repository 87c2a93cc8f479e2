package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
)

const defaultDLQLimit = 20

// ListDLQ handles GET /dispatch/dlq?limit=&offset=.
// It lists dispatches that exhausted their retries, most recent first.
func (h *Handlers) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		h.httpError(w, "Dispatch queue is not enabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	limit := defaultDLQLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	offset := 0
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.httpError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		offset = n
	}

	entries, err := h.dlq.ListDLQ(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]api.DLQEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.DLQEntry{
			ID:           e.ID,
			JobID:        e.JobID.String(),
			JobLabel:     e.JobLabel,
			ErrorMessage: e.ErrorMessage,
			Attempts:     e.Attempts,
			FailedAt:     e.FailedAt,
		})
	}
	h.respondJson(w, http.StatusOK, out)
}

// RetryDLQ handles POST /dispatch/dlq/{job_id}/retry.
// The dispatch is queued again with a fresh attempt counter.
func (h *Handlers) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		h.httpError(w, "Dispatch queue is not enabled", http.StatusNotFound)
		return
	}

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	if err := h.dlq.RetryFromDLQ(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job is not in the dead letter queue", http.StatusNotFound)
			return
		}
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.StatusResponse{Status: "queued"})
}
