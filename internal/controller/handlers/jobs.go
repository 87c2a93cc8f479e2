package handlers

import (
	"context"
	"net/http"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/service"
	"analysisweb/internal/store"
	"analysisweb/pkg/api"
)

// CreateJob handles POST /jobs.
// It stores the job with its inputs and dispatches it. The job runs
// asynchronously, so the response is 202 Accepted with the job id.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := parseForm(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cleanup()

	job, err := h.svc.CreateJob(r.Context(), service.JobForm{
		Label:         formValue(form, "label"),
		AnalysisID:    formValue(form, "analysis"),
		MeasurementID: formValue(form, "measurement"),
		Inputs:        formValues(form, "input"),
		Files:         artifacts.FromMultipart(form),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusAccepted, api.CreatedResponse{Status: "success", ID: job.ID.String()})
}

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListJobs(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]api.Job, 0, len(list))
	for i := range list {
		out = append(out, jobView(&list[i]))
	}
	h.respondJson(w, http.StatusOK, out)
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, jobView(job))
}

// DeleteJob handles DELETE /jobs/{id} and returns the deleted job.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.DeleteJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, jobView(job))
}

type ingestFunc func(ctx context.Context, id string, files artifacts.Uploads) (*store.Job, error)

// ingest parses the uploaded files of a callback and hands them to fn.
func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request, fn ingestFunc) {
	form, cleanup, err := parseForm(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cleanup()

	job, err := fn(r.Context(), r.PathValue("id"), artifacts.FromMultipart(form))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, jobView(job))
}

// IngestOutputs handles POST /jobs/{id}/output.
// Called by the analysis executable with its table and figure outputs.
func (h *Handlers) IngestOutputs(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, h.svc.IngestOutputs)
}

// IngestReport handles POST /jobs/{id}/report.
// Called by the analysis executable, possibly several times per job.
func (h *Handlers) IngestReport(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, h.svc.IngestReport)
}

// IngestLog handles POST /jobs/{id}/log.
// Called by the worker once the executable has exited. It completes the job.
func (h *Handlers) IngestLog(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, h.svc.IngestLog)
}
