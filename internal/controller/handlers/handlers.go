// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/logger"
	"analysisweb/internal/service"
	"analysisweb/internal/store"
	"analysisweb/pkg/api"
)

// maxMemory is the part of a multipart body kept in memory; larger files
// spill to temporary files.
const maxMemory = 32 << 20

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc    *service.Service
	store  Pinger
	dlq    store.DeadLetters
	logger *slog.Logger
}

// New creates a new Handlers instance. dlq is nil when the store has no
// dispatch queue.
func New(svc *service.Service, pinger Pinger, dlq store.DeadLetters, logger *slog.Logger) *Handlers {
	return &Handlers{svc: svc, store: pinger, dlq: dlq, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// respondError reports err with the status of its kind. Unclassified
// errors are logged and hidden from the client.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.httpError(w, apperrors.Message(err), status)
}

// parseForm parses a multipart or url-encoded request body. The caller
// must call cleanup once the uploaded files are no longer needed.
func parseForm(r *http.Request) (form *multipart.Form, cleanup func(), err error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, nil, apperrors.InvalidInput("Invalid multipart form: %v", err)
		}
		return r.MultipartForm, func() { r.MultipartForm.RemoveAll() }, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, nil, apperrors.InvalidInput("Invalid form: %v", err)
	}
	return &multipart.Form{Value: r.PostForm}, func() {}, nil
}

// formValue returns the first value of key, or nil if key was not sent.
func formValue(form *multipart.Form, key string) *string {
	vs, ok := form.Value[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

// formValues returns every value of key, or nil if key was not sent.
func formValues(form *multipart.Form, key string) []string {
	vs, ok := form.Value[key]
	if !ok {
		return nil
	}
	return append([]string{}, vs...)
}
