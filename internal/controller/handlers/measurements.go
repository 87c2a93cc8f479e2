package handlers

import (
	"net/http"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/metadata"
	"analysisweb/internal/service"
	"analysisweb/pkg/api"
)

// CreateMeasurement handles POST /measurements.
// Every uploaded file becomes a measurement file labelled by its form field.
func (h *Handlers) CreateMeasurement(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := parseForm(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cleanup()

	m, err := h.svc.CreateMeasurement(r.Context(), service.MeasurementForm{
		Label:     formValue(form, "label"),
		StartDate: formValue(form, "start_date"),
		EndDate:   formValue(form, "end_date"),
		MetaData:  formValue(form, "meta_data"),
		Files:     artifacts.FromMultipart(form),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, api.CreatedResponse{Status: "success", ID: m.ID.String()})
}

// ListMeasurements handles GET /measurements.
func (h *Handlers) ListMeasurements(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListMeasurements(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]api.Measurement, 0, len(list))
	for i := range list {
		out = append(out, measurementView(&list[i]))
	}
	h.respondJson(w, http.StatusOK, out)
}

// GetMeasurement handles GET /measurements/{id}.
func (h *Handlers) GetMeasurement(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMeasurement(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, measurementView(m))
}

// UpdateMeasurement handles PUT /measurements/{id}.
func (h *Handlers) UpdateMeasurement(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := parseForm(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cleanup()

	m, err := h.svc.UpdateMeasurement(r.Context(), r.PathValue("id"), service.MeasurementForm{
		Label:     formValue(form, "label"),
		StartDate: formValue(form, "start_date"),
		EndDate:   formValue(form, "end_date"),
		MetaData:  formValue(form, "meta_data"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, measurementView(m))
}

// DeleteMeasurement handles DELETE /measurements/{id} and returns the
// deleted measurement.
func (h *Handlers) DeleteMeasurement(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.DeleteMeasurement(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, measurementView(m))
}

// MeasurementMeta handles GET /measurements/meta.
func (h *Handlers) MeasurementMeta(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, metadata.Describe(h.svc.MeasurementSchema()))
}
