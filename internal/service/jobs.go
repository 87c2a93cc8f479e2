package service

import (
	"context"
	"fmt"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/artifacts"
	"analysisweb/internal/dispatch"
	"analysisweb/internal/resolver"
	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Ingestion kinds, reported as the kind attribute of ingestion metrics.
const (
	IngestOutput = "output"
	IngestReport = "report"
	IngestLog    = "log"
)

// JobForm carries the fields of a job submission. Nil fields were not
// supplied. Inputs holds one token per analysis input.
type JobForm struct {
	Label         *string
	AnalysisID    *string
	MeasurementID *string
	Inputs        []string
	Files         artifacts.Uploads
}

// transitions lists the allowed job status changes.
var transitions = map[store.JobStatus][]store.JobStatus{
	store.JobStatusSubmitted: {store.JobStatusCompleted},
}

func canTransition(from, to store.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateJob resolves the inputs of a submission against its analysis,
// stores the job in SUBMITTED state with its uploaded input files, writes
// the dispatch document and submits the job for execution.
//
// If the submission is rejected the job is deleted again.
func (s *Service) CreateJob(ctx context.Context, form JobForm) (*store.Job, error) {
	if form.Label == nil || form.AnalysisID == nil || form.Inputs == nil {
		return nil, apperrors.InvalidInput("Missing input")
	}

	analysisID, err := parseID("analysis", *form.AnalysisID)
	if err != nil {
		return nil, err
	}
	var measurementID *uuid.UUID
	if form.MeasurementID != nil && *form.MeasurementID != "" {
		id, err := parseID("measurement", *form.MeasurementID)
		if err != nil {
			return nil, err
		}
		measurementID = &id
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	analysis, err := s.store.LockAnalysis(ctx, tx, analysisID, store.LockShared)
	if err != nil {
		return nil, storeErr(err, "analysis", analysisID)
	}
	var measurement *store.Measurement
	if measurementID != nil {
		if measurement, err = s.store.GetMeasurement(ctx, tx, *measurementID); err != nil {
			return nil, storeErr(err, "measurement", *measurementID)
		}
	}

	resolved, err := resolver.Resolve(analysis.Inputs, form.Inputs, measurement, form.Files)
	if err != nil {
		return nil, err
	}

	job := &store.Job{
		ID:            uuid.New(),
		Label:         *form.Label,
		Status:        store.JobStatusSubmitted,
		AnalysisID:    analysis.ID,
		MeasurementID: measurementID,
		CreatedAt:     s.now(),
	}
	for _, r := range resolved {
		job.Inputs = append(job.Inputs, r.JobInput())
	}

	if err := s.store.CreateJob(ctx, tx, job); err != nil {
		return nil, err
	}

	if err := s.layout.CreateJobDirs(job.ID); err != nil {
		return nil, err
	}
	task, err := s.prepareJob(job, analysis, measurement, resolved)
	if err == nil {
		err = commit(tx)
	}
	if err != nil {
		s.removeDir(ctx, s.layout.JobDir(job.ID))
		return nil, err
	}

	log := s.log(ctx).With("job_id", job.ID, "analysis_id", analysis.ID)
	if err := s.submitter.Submit(ctx, task); err != nil {
		s.metrics.DispatchFailed(ctx)
		log.Error("dispatch failed, deleting job", "error", err)
		if cerr := s.compensate(ctx, job.ID); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return nil, fmt.Errorf("failed to dispatch job: %w", err)
	}

	s.metrics.JobCreated(ctx)
	log.Info("job submitted", "inputs", len(job.Inputs))
	return job, nil
}

// prepareJob stores the uploaded inputs of job and writes its dispatch
// document into the job directory.
func (s *Service) prepareJob(job *store.Job, analysis *store.Analysis, measurement *store.Measurement, resolved []resolver.Resolved) (api.DispatchTask, error) {
	for _, r := range resolved {
		if r.Upload == nil {
			continue
		}
		if err := artifacts.Save(*r.Upload, s.layout.JobInput(job.ID, r.Value)); err != nil {
			return api.DispatchTask{}, err
		}
	}

	task, err := dispatch.NewTask(job, analysis, measurement, s.layout, s.callbacks)
	if err != nil {
		return api.DispatchTask{}, err
	}
	if err := dispatch.WriteDocument(task); err != nil {
		return api.DispatchTask{}, err
	}
	return task, nil
}

// compensate removes a committed job whose dispatch failed.
func (s *Service) compensate(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteJob(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete undispatched job %s: %w", id, err)
	}
	s.removeDir(ctx, s.layout.JobDir(id))
	return nil
}

func (s *Service) GetJob(ctx context.Context, rawID string) (*store.Job, error) {
	id, err := parseID("job", rawID)
	if err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, nil, id)
	return job, storeErr(err, "job", id)
}

func (s *Service) ListJobs(ctx context.Context) ([]store.Job, error) {
	return s.store.ListJobs(ctx)
}

// IngestOutputs stores the table and figure outputs posted by the analysis
// executable. Outputs are accepted once: a table output needs a .csv file
// under its label, a figure output a .png file under "{label}.fig" and an
// .html file under "{label}.html".
func (s *Service) IngestOutputs(ctx context.Context, rawID string, files artifacts.Uploads) (*store.Job, error) {
	return s.ingest(ctx, rawID, IngestOutput, func(tx store.Tx, job *store.Job, stage *artifacts.Stage) error {
		if job.HasOutputs() {
			return apperrors.Forbidden("Job does already have output")
		}
		if len(files) == 0 {
			return apperrors.InvalidInput("No output files in request body")
		}

		analysis, err := s.store.GetAnalysis(ctx, tx, job.AnalysisID)
		if err != nil {
			return storeErr(err, "analysis", job.AnalysisID)
		}

		names := make(map[string]bool)
		add := func(u artifacts.Upload, ext, kind string) (string, error) {
			name := artifacts.SecureFilename(u.Filename)
			if name == "" || !artifacts.HasExt(name, ext) {
				return "", apperrors.InvalidInput("Unexpected file name %q for %s type", u.Filename, kind)
			}
			if names[name] {
				return "", apperrors.InvalidInput("Duplicate output file name %q", name)
			}
			names[name] = true
			return name, stage.Add(u, s.layout.JobOutput(job.ID, name))
		}

		var tables []store.JobTableOutput
		var figures []store.JobFigureOutput
		for _, out := range analysis.Outputs {
			switch out.Kind {
			case store.KindTable:
				u, ok := files.Get(out.Label)
				if !ok {
					return apperrors.InvalidInput("Missing file with label %s", out.Label)
				}
				name, err := add(u, ".csv", "table")
				if err != nil {
					return err
				}
				tables = append(tables, store.JobTableOutput{Label: out.Label, Path: name})

			case store.KindFigure:
				fig, okFig := files.Get(out.Label + ".fig")
				html, okHTML := files.Get(out.Label + ".html")
				if !okFig || !okHTML {
					return apperrors.InvalidInput("Missing file with label %s", out.Label)
				}
				figName, err := add(fig, ".png", "figure")
				if err != nil {
					return err
				}
				htmlName, err := add(html, ".html", "figure")
				if err != nil {
					return err
				}
				figures = append(figures, store.JobFigureOutput{Label: out.Label, Path: figName, HTMLPath: htmlName})
			}
		}

		return s.store.AddJobOutputs(ctx, tx, job.ID, tables, figures)
	})
}

// IngestReport stores every posted file under reports/{field}, replacing
// earlier versions. Reports are recorded once per field name.
func (s *Service) IngestReport(ctx context.Context, rawID string, files artifacts.Uploads) (*store.Job, error) {
	return s.ingest(ctx, rawID, IngestReport, func(tx store.Tx, job *store.Job, stage *artifacts.Stage) error {
		if len(files) == 0 {
			return apperrors.InvalidInput("No reports in request body")
		}

		var added []store.JobReport
		seen := make(map[string]bool)
		for _, u := range files {
			name := artifacts.SecureFilename(u.Field)
			if name == "" {
				return apperrors.InvalidInput("Invalid report name %q", u.Field)
			}
			if err := stage.Add(u, s.layout.JobReport(job.ID, name)); err != nil {
				return err
			}
			if !job.HasReport(name) && !seen[name] {
				added = append(added, store.JobReport{Path: name})
			}
			seen[name] = true
		}

		if len(added) == 0 {
			return nil
		}
		return s.store.AddJobReports(ctx, tx, job.ID, added)
	})
}

// IngestLog stores the execution log of a job and completes it. The log is
// the last callback of a job and is accepted once.
func (s *Service) IngestLog(ctx context.Context, rawID string, files artifacts.Uploads) (*store.Job, error) {
	return s.ingest(ctx, rawID, IngestLog, func(tx store.Tx, job *store.Job, stage *artifacts.Stage) error {
		switch {
		case len(files) == 0:
			return apperrors.InvalidInput("No file in request body")
		case len(files) > 1:
			return apperrors.InvalidInput("Only one log can be added to the job")
		case job.LogPath != "":
			return apperrors.InvalidInput("This job already has a log")
		case !canTransition(job.Status, store.JobStatusCompleted):
			return apperrors.InvalidInput("Job is %s", job.Status)
		}

		if err := stage.Add(files[0], s.layout.JobLog(job.ID)); err != nil {
			return err
		}
		return s.store.SetJobLog(ctx, tx, job.ID, artifacts.LogFile, store.JobStatusCompleted)
	})
}

// ingest runs fn on the locked job with a fresh stage, then publishes the
// staged files and commits. Any failure discards the stage, so a failed
// call leaves neither rows nor files behind.
func (s *Service) ingest(ctx context.Context, rawID, kind string, fn func(tx store.Tx, job *store.Job, stage *artifacts.Stage) error) (job *store.Job, err error) {
	defer func() { s.metrics.Ingestion(ctx, kind, err) }()

	id, err := parseID("job", rawID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	locked, err := s.store.LockJob(ctx, tx, id)
	if err != nil {
		return nil, storeErr(err, "job", id)
	}

	stage, err := s.layout.NewStage(id)
	if err != nil {
		return nil, err
	}
	published := false
	defer func() {
		if published {
			return
		}
		if derr := stage.Discard(); derr != nil {
			s.log(ctx).Error("failed to discard staged files", "job_id", id, "error", derr)
		}
	}()

	if err := fn(tx, locked, stage); err != nil {
		return nil, err
	}
	if err := stage.Publish(); err != nil {
		return nil, err
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	published = true

	if err := stage.Cleanup(); err != nil {
		s.log(ctx).Warn("failed to clean up staging directory", "job_id", id, "error", err)
	}
	s.log(ctx).Info("job artifacts ingested", "job_id", id, "kind", kind, "files", stage.Len())

	job, err = s.store.GetJob(ctx, nil, id)
	return job, storeErr(err, "job", id)
}

// DeleteJob deletes a job with everything it owns and returns it as it was
// before deletion.
func (s *Service) DeleteJob(ctx context.Context, rawID string) (*store.Job, error) {
	id, err := parseID("job", rawID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	job, err := s.store.LockJob(ctx, tx, id)
	if err != nil {
		return nil, storeErr(err, "job", id)
	}
	if err := s.store.DeleteJob(ctx, tx, id); err != nil {
		return nil, storeErr(err, "job", id)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	s.removeDir(ctx, s.layout.JobDir(id))
	s.log(ctx).Info("job deleted", "job_id", id)
	return job, nil
}
