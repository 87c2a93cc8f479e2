package handlers

import (
	"net/http"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/metadata"
	"analysisweb/internal/service"
	"analysisweb/pkg/api"
)

func analysisForm(r *http.Request) (service.AnalysisForm, func(), error) {
	form, cleanup, err := parseForm(r)
	if err != nil {
		return service.AnalysisForm{}, nil, err
	}
	return service.AnalysisForm{
		Label:    formValue(form, "label"),
		Inputs:   formValues(form, "input"),
		Outputs:  formValues(form, "output"),
		MetaData: formValue(form, "meta_data"),
		Files:    artifacts.FromMultipart(form),
	}, cleanup, nil
}

// CreateAnalysis handles POST /analyses.
// The request carries repeated input and output template items and exactly
// one bundle file.
func (h *Handlers) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := analysisForm(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cleanup()

	a, err := h.svc.CreateAnalysis(r.Context(), form)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, api.CreatedResponse{Status: "success", ID: a.ID.String()})
}

// ListAnalyses handles GET /analyses.
func (h *Handlers) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAnalyses(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]api.Analysis, 0, len(list))
	for i := range list {
		out = append(out, analysisView(&list[i]))
	}
	h.respondJson(w, http.StatusOK, out)
}

// GetAnalysis handles GET /analyses/{id}.
func (h *Handlers) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, analysisView(a))
}

// UpdateAnalysis handles PUT /analyses/{id}.
func (h *Handlers) UpdateAnalysis(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := analysisForm(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cleanup()

	a, err := h.svc.UpdateAnalysis(r.Context(), r.PathValue("id"), form)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, analysisView(a))
}

// DeleteAnalysis handles DELETE /analyses/{id} and returns the deleted analysis.
func (h *Handlers) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.DeleteAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, analysisView(a))
}

// AnalysisMeta handles GET /analyses/meta.
func (h *Handlers) AnalysisMeta(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, metadata.Describe(h.svc.AnalysisSchema()))
}
