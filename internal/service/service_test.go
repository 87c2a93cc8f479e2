package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/artifacts"
	"analysisweb/internal/dispatch"
	"analysisweb/internal/store"
	"analysisweb/internal/store/memory"
	"analysisweb/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []api.DispatchTask
	err   error
}

func (r *recordingSubmitter) Submit(ctx context.Context, task api.DispatchTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	submitter *recordingSubmitter
	layout    artifacts.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := memory.New()
	require.NoError(t, err)

	layout, err := artifacts.NewLayout(t.TempDir())
	require.NoError(t, err)

	sub := &recordingSubmitter{}
	svc := New(st, sub, Config{
		Layout:    layout,
		Callbacks: dispatch.Callbacks{BaseURL: "http://controller:6161/"},
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &fixture{svc: svc, store: st, submitter: sub, layout: layout}
}

func ptr(s string) *string { return &s }

func requireKind(t *testing.T, want apperrors.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, apperrors.KindOf(err), "error: %v", err)
}

func (f *fixture) measurement(t *testing.T) *store.Measurement {
	t.Helper()
	m, err := f.svc.CreateMeasurement(context.Background(), MeasurementForm{
		Label:     ptr("run 1"),
		StartDate: ptr("2024-03-01T10:00:00Z"),
		EndDate:   ptr("2024-03-01 12:30"),
		Files: artifacts.Uploads{
			artifacts.FromBytes("spectrum", "spectrum data.dat", []byte("1 2 3")),
		},
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) analysis(t *testing.T) *store.Analysis {
	t.Helper()
	a, err := f.svc.CreateAnalysis(context.Background(), AnalysisForm{
		Label: ptr("peaks"),
		Inputs: []string{
			`{'label': 'threshold', 'type': 'Value'}`,
			`{'label': 'spectrum', 'type': 'file'}`,
			`{'label': 'calibration', 'type': 'file'}`,
		},
		Outputs: []string{
			`{"label": "peaks", "type": "table"}`,
			`{"label": "plot", "type": "FIGURE"}`,
		},
		Files: artifacts.Uploads{artifacts.FromBytes("bundle", "peaks.syx", []byte("<flow/>"))},
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) job(t *testing.T, a *store.Analysis, m *store.Measurement) *store.Job {
	t.Helper()
	job, err := f.svc.CreateJob(context.Background(), JobForm{
		Label:         ptr("first"),
		AnalysisID:    ptr(a.ID.String()),
		MeasurementID: ptr(m.ID.String()),
		Inputs:        []string{"0.5", "$measurement", "$file:calib"},
		Files:         artifacts.Uploads{artifacts.FromBytes("calib", "calib.csv", []byte("a,b"))},
	})
	require.NoError(t, err)
	return job
}

func TestCreateMeasurement(t *testing.T) {
	f := newFixture(t)
	m := f.measurement(t)

	assert.Equal(t, "run 1", m.Label)
	assert.Equal(t, []store.MeasurementFile{{Label: "spectrum", Path: "spectrum_data.dat"}}, m.Files)
	assert.JSONEq(t, `{}`, string(m.MetaData))

	data, err := os.ReadFile(f.layout.MeasurementFile(m.ID, "spectrum_data.dat"))
	require.NoError(t, err)
	assert.Equal(t, "1 2 3", string(data))

	got, err := f.svc.GetMeasurement(context.Background(), m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, m.StartDate, got.StartDate)
}

func TestCreateMeasurement_Invalid(t *testing.T) {
	files := artifacts.Uploads{artifacts.FromBytes("a", "a.dat", nil)}

	tests := []struct {
		name string
		form MeasurementForm
	}{
		{"missing label", MeasurementForm{StartDate: ptr("2024-01-01"), EndDate: ptr("2024-01-02"), Files: files}},
		{"no files", MeasurementForm{Label: ptr("m"), StartDate: ptr("2024-01-01"), EndDate: ptr("2024-01-02")}},
		{"end before start", MeasurementForm{Label: ptr("m"), StartDate: ptr("2024-01-02"), EndDate: ptr("2024-01-01"), Files: files}},
		{"bad date", MeasurementForm{Label: ptr("m"), StartDate: ptr("yesterday"), EndDate: ptr("2024-01-01"), Files: files}},
		{"base metadata", MeasurementForm{Label: ptr("m"), StartDate: ptr("2024-01-01"), EndDate: ptr("2024-01-02"), MetaData: ptr(`{"x": 1}`), Files: files}},
		{"duplicate labels", MeasurementForm{Label: ptr("m"), StartDate: ptr("2024-01-01"), EndDate: ptr("2024-01-02"), Files: append(files, artifacts.FromBytes("a", "b.dat", nil))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateMeasurement(context.Background(), tt.form)
			requireKind(t, apperrors.KindInvalidInput, err)

			list, err := f.svc.ListMeasurements(context.Background())
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestUpdateMeasurement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.measurement(t)

	updated, err := f.svc.UpdateMeasurement(ctx, m.ID.String(), MeasurementForm{Label: ptr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Label)
	assert.Equal(t, m.Files, updated.Files)

	_, err = f.svc.UpdateMeasurement(ctx, m.ID.String(), MeasurementForm{EndDate: ptr("2020-01-01")})
	requireKind(t, apperrors.KindInvalidInput, err)

	got, err := f.svc.GetMeasurement(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
	assert.Equal(t, m.EndDate, got.EndDate)
}

func TestDeleteMeasurement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.measurement(t)
	a := f.analysis(t)
	job := f.job(t, a, m)

	_, err := f.svc.DeleteMeasurement(ctx, m.ID.String())
	requireKind(t, apperrors.KindForbidden, err)
	assert.DirExists(t, f.layout.MeasurementDir(m.ID))

	_, err = f.svc.DeleteJob(ctx, job.ID.String())
	require.NoError(t, err)

	deleted, err := f.svc.DeleteMeasurement(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, m.ID, deleted.ID)
	assert.NoDirExists(t, f.layout.MeasurementDir(m.ID))

	_, err = f.svc.GetMeasurement(ctx, m.ID.String())
	requireKind(t, apperrors.KindNotFound, err)
}

func TestCreateAnalysis(t *testing.T) {
	f := newFixture(t)
	a := f.analysis(t)

	assert.Equal(t, "peaks.syx", a.Bundle)
	assert.Equal(t, []store.TemplateItem{
		{Label: "threshold", Kind: store.KindValue},
		{Label: "spectrum", Kind: store.KindFile},
		{Label: "calibration", Kind: store.KindFile},
	}, a.Inputs)
	assert.Equal(t, store.KindFigure, a.Outputs[1].Kind)
	assert.FileExists(t, f.layout.AnalysisBundle(a.ID, "peaks.syx"))
}

func TestCreateAnalysis_Invalid(t *testing.T) {
	bundle := artifacts.Uploads{artifacts.FromBytes("bundle", "flow.syx", nil)}
	in := []string{`{"label": "x", "type": "value"}`}
	out := []string{`{"label": "y", "type": "table"}`}

	tests := []struct {
		name string
		form AnalysisForm
	}{
		{"missing output", AnalysisForm{Label: ptr("a"), Inputs: in, Files: bundle}},
		{"no bundle", AnalysisForm{Label: ptr("a"), Inputs: in, Outputs: out}},
		{"wrong extension", AnalysisForm{Label: ptr("a"), Inputs: in, Outputs: out,
			Files: artifacts.Uploads{artifacts.FromBytes("bundle", "flow.py", nil)}}},
		{"bad input kind", AnalysisForm{Label: ptr("a"), Inputs: []string{`{"label": "x", "type": "table"}`}, Outputs: out, Files: bundle}},
		{"missing type", AnalysisForm{Label: ptr("a"), Inputs: []string{`{"label": "x"}`}, Outputs: out, Files: bundle}},
		{"duplicate output label", AnalysisForm{Label: ptr("a"), Inputs: in,
			Outputs: []string{`{"label": "y", "type": "table"}`, `{"label": "y", "type": "figure"}`}, Files: bundle}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateAnalysis(context.Background(), tt.form)
			requireKind(t, apperrors.KindInvalidInput, err)
		})
	}
}

func TestUpdateAnalysis_WithoutJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.analysis(t)

	updated, err := f.svc.UpdateAnalysis(ctx, a.ID.String(), AnalysisForm{
		Inputs: []string{`{"label": "only", "type": "value"}`},
		Files:  artifacts.Uploads{artifacts.FromBytes("bundle", "v2.SYX", []byte("v2"))},
	})
	require.NoError(t, err)
	assert.Equal(t, []store.TemplateItem{{Label: "only", Kind: store.KindValue}}, updated.Inputs)
	assert.Len(t, updated.Outputs, 2)
	assert.Equal(t, "v2.SYX", updated.Bundle)
	assert.FileExists(t, f.layout.AnalysisBundle(a.ID, "v2.SYX"))
	assert.NoFileExists(t, f.layout.AnalysisBundle(a.ID, "peaks.syx"))
}

func TestUpdateAnalysis_WithJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.measurement(t)
	a := f.analysis(t)
	f.job(t, a, m)

	updated, err := f.svc.UpdateAnalysis(ctx, a.ID.String(), AnalysisForm{
		Label:   ptr("peaks v2"),
		Outputs: []string{`{"label": "peak table"}`, `{"label": "peak plot", "type": "figure"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "peaks v2", updated.Label)
	assert.Equal(t, []store.TemplateItem{
		{Label: "peak table", Kind: store.KindTable},
		{Label: "peak plot", Kind: store.KindFigure},
	}, updated.Outputs)
	assert.Equal(t, a.Inputs, updated.Inputs)

	_, err = f.svc.UpdateAnalysis(ctx, a.ID.String(), AnalysisForm{
		Outputs: []string{`{"label": "peaks", "type": "table"}`},
	})
	requireKind(t, apperrors.KindForbidden, err)

	_, err = f.svc.UpdateAnalysis(ctx, a.ID.String(), AnalysisForm{
		Inputs: []string{`{"type": "file"}`, `{"type": "file"}`, `{"type": "file"}`},
	})
	requireKind(t, apperrors.KindForbidden, err)

	_, err = f.svc.UpdateAnalysis(ctx, a.ID.String(), AnalysisForm{
		Outputs: []string{`{"label": "same"}`, `{"label": "same"}`},
	})
	requireKind(t, apperrors.KindInvalidInput, err)

	_, err = f.svc.UpdateAnalysis(ctx, a.ID.String(), AnalysisForm{
		Files: artifacts.Uploads{artifacts.FromBytes("bundle", "other.syx", nil)},
	})
	requireKind(t, apperrors.KindForbidden, err)

	_, err = f.svc.DeleteAnalysis(ctx, a.ID.String())
	requireKind(t, apperrors.KindForbidden, err)

	got, err := f.svc.GetAnalysis(ctx, a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, updated.Outputs, got.Outputs)
	assert.Equal(t, "peaks.syx", got.Bundle)
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)
	m := f.measurement(t)
	a := f.analysis(t)
	job := f.job(t, a, m)

	assert.Equal(t, store.JobStatusSubmitted, job.Status)
	assert.Equal(t, []store.JobInput{
		{Label: "threshold", Value: "0.5", Source: store.SourceValue},
		{Label: "spectrum", Value: "spectrum_data.dat", Source: store.SourceMeasurement},
		{Label: "calibration", Value: "calib.csv", Source: store.SourceUpload},
	}, job.Inputs)
	assert.FileExists(t, f.layout.JobInput(job.ID, "calib.csv"))
	for _, dir := range []string{artifacts.InputDir, artifacts.OutputDir, artifacts.ReportsDir} {
		assert.DirExists(t, filepath.Join(f.layout.JobDir(job.ID), dir))
	}

	require.Len(t, f.submitter.tasks, 1)
	task := f.submitter.tasks[0]
	assert.Equal(t, f.layout.AnalysisBundle(a.ID, "peaks.syx"), task.BundlePath)
	assert.Equal(t, "http://controller:6161/jobs/"+job.ID.String()+"/log", task.LogURL)

	data, err := os.ReadFile(f.layout.JobDocument(job.ID))
	require.NoError(t, err)
	var doc api.DispatchDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []api.DispatchInput{
		{Label: "threshold", Value: "0.5"},
		{Label: "spectrum", Value: f.layout.MeasurementFile(m.ID, "spectrum_data.dat")},
		{Label: "calibration", Value: f.layout.JobInput(job.ID, "calib.csv")},
	}, doc.Input)
	assert.Equal(t, []api.DispatchOutput{{Type: "table", Label: "peaks"}, {Type: "figure", Label: "plot"}}, doc.Output)
	assert.Equal(t, "http://controller:6161/jobs/"+job.ID.String()+"/output", doc.PostURL)
	assert.Equal(t, "http://controller:6161/jobs/"+job.ID.String()+"/report", doc.ReportURL)

	got, err := f.svc.GetAnalysis(context.Background(), a.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.Jobs, 1)
}

func TestCreateJob_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.measurement(t)
	a := f.analysis(t)

	tests := []struct {
		name string
		form JobForm
		kind apperrors.Kind
	}{
		{"missing inputs", JobForm{Label: ptr("j"), AnalysisID: ptr(a.ID.String())}, apperrors.KindInvalidInput},
		{"too few inputs", JobForm{Label: ptr("j"), AnalysisID: ptr(a.ID.String()), Inputs: []string{"1"}}, apperrors.KindInvalidInput},
		{"reference for value", JobForm{Label: ptr("j"), AnalysisID: ptr(a.ID.String()), MeasurementID: ptr(m.ID.String()),
			Inputs: []string{"$measurement", "$measurement", "x"}}, apperrors.KindInvalidInput},
		{"measurement missing", JobForm{Label: ptr("j"), AnalysisID: ptr(a.ID.String()),
			Inputs: []string{"1", "$measurement", "x"}}, apperrors.KindInvalidInput},
		{"no matching measurement label", JobForm{Label: ptr("j"), AnalysisID: ptr(a.ID.String()), MeasurementID: ptr(m.ID.String()),
			Inputs: []string{"1", "spectrum.dat", "$measurement"}}, apperrors.KindInvalidInput},
		{"unknown analysis", JobForm{Label: ptr("j"), AnalysisID: ptr("7d8f2a0c-35cb-4a57-b6a4-4cf2f9c9f1d2"), Inputs: []string{}}, apperrors.KindNotFound},
		{"malformed analysis id", JobForm{Label: ptr("j"), AnalysisID: ptr("12"), Inputs: []string{}}, apperrors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(ctx, tt.form)
			requireKind(t, tt.kind, err)
		})
	}

	jobs, err := f.svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Empty(t, f.submitter.tasks)
}

func TestCreateJob_DispatchFailureDeletesJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.measurement(t)
	a := f.analysis(t)
	f.submitter.err = errors.New("queue unavailable")

	_, err := f.svc.CreateJob(ctx, JobForm{
		Label:         ptr("j"),
		AnalysisID:    ptr(a.ID.String()),
		MeasurementID: ptr(m.ID.String()),
		Inputs:        []string{"1", "$measurement", "$file:calib"},
		Files:         artifacts.Uploads{artifacts.FromBytes("calib", "calib.csv", nil)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))

	jobs, err := f.svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	entries, err := os.ReadDir(filepath.Join(f.layout.Root, artifacts.KindJob))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// the measurement is deletable again
	_, err = f.svc.DeleteMeasurement(ctx, m.ID.String())
	require.NoError(t, err)
}

func outputFiles() artifacts.Uploads {
	return artifacts.Uploads{
		artifacts.FromBytes("peaks", "peaks.csv", []byte("x,y")),
		artifacts.FromBytes("plot.fig", "plot.png", []byte("png")),
		artifacts.FromBytes("plot.html", "plot.html", []byte("<html/>")),
	}
}

func TestIngestOutputs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, f.analysis(t), f.measurement(t))

	got, err := f.svc.IngestOutputs(ctx, job.ID.String(), outputFiles())
	require.NoError(t, err)
	assert.Equal(t, []store.JobTableOutput{{Label: "peaks", Path: "peaks.csv"}}, got.Tables)
	assert.Equal(t, []store.JobFigureOutput{{Label: "plot", Path: "plot.png", HTMLPath: "plot.html"}}, got.Figures)
	assert.Equal(t, store.JobStatusSubmitted, got.Status)
	for _, name := range []string{"peaks.csv", "plot.png", "plot.html"} {
		assert.FileExists(t, f.layout.JobOutput(job.ID, name))
	}

	_, err = f.svc.IngestOutputs(ctx, job.ID.String(), outputFiles())
	requireKind(t, apperrors.KindForbidden, err)
}

func TestIngestOutputs_RejectedLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, f.analysis(t), f.measurement(t))

	tests := []struct {
		name  string
		files artifacts.Uploads
	}{
		{"no files", nil},
		{"missing figure html", outputFiles()[:2]},
		{"wrong table extension", artifacts.Uploads{
			artifacts.FromBytes("peaks", "peaks.txt", nil),
			outputFiles()[1], outputFiles()[2],
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IngestOutputs(ctx, job.ID.String(), tt.files)
			requireKind(t, apperrors.KindInvalidInput, err)

			got, err := f.svc.GetJob(ctx, job.ID.String())
			require.NoError(t, err)
			assert.False(t, got.HasOutputs())

			entries, err := os.ReadDir(filepath.Join(f.layout.JobDir(job.ID), artifacts.OutputDir))
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}

	_, err := f.svc.IngestOutputs(ctx, job.ID.String(), outputFiles())
	require.NoError(t, err)
}

func TestIngestOutputs_ConcurrentCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, f.analysis(t), f.measurement(t))

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.IngestOutputs(ctx, job.ID.String(), outputFiles())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	got, err := f.svc.GetJob(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.Tables, 1)
	assert.Len(t, got.Figures, 1)
}

func TestIngestReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, f.analysis(t), f.measurement(t))

	_, err := f.svc.IngestReport(ctx, job.ID.String(), nil)
	requireKind(t, apperrors.KindInvalidInput, err)

	_, err = f.svc.IngestReport(ctx, job.ID.String(), artifacts.Uploads{
		artifacts.FromBytes("summary.pdf", "whatever.pdf", []byte("v1")),
	})
	require.NoError(t, err)

	got, err := f.svc.IngestReport(ctx, job.ID.String(), artifacts.Uploads{
		artifacts.FromBytes("summary.pdf", "whatever.pdf", []byte("v2")),
		artifacts.FromBytes("notes.txt", "n.txt", []byte("n")),
	})
	require.NoError(t, err)
	assert.Equal(t, []store.JobReport{{Path: "summary.pdf"}, {Path: "notes.txt"}}, got.Reports)

	data, err := os.ReadFile(f.layout.JobReport(job.ID, "summary.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestIngestLog_CompletesJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, f.analysis(t), f.measurement(t))

	_, err := f.svc.IngestLog(ctx, job.ID.String(), artifacts.Uploads{
		artifacts.FromBytes("log", "a.html", nil),
		artifacts.FromBytes("other", "b.html", nil),
	})
	requireKind(t, apperrors.KindInvalidInput, err)

	// the log of a failed execution completes the job as well
	log := []byte("<html><body>Traceback<br>exit status 1<br></body></html>")
	got, err := f.svc.IngestLog(ctx, job.ID.String(), artifacts.Uploads{artifacts.FromBytes("log", "log.html", log)})
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, got.Status)
	assert.Equal(t, artifacts.LogFile, got.LogPath)

	data, err := os.ReadFile(f.layout.JobLog(job.ID))
	require.NoError(t, err)
	assert.Equal(t, log, data)

	_, err = f.svc.IngestLog(ctx, job.ID.String(), artifacts.Uploads{artifacts.FromBytes("log", "log.html", nil)})
	requireKind(t, apperrors.KindInvalidInput, err)
}

func TestIngest_UnknownJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.IngestLog(ctx, "7d8f2a0c-35cb-4a57-b6a4-4cf2f9c9f1d2", outputFiles()[:1])
	requireKind(t, apperrors.KindNotFound, err)
	_, err = f.svc.IngestReport(ctx, "not-a-uuid", outputFiles())
	requireKind(t, apperrors.KindInvalidInput, err)
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, f.analysis(t), f.measurement(t))

	_, err := f.svc.IngestOutputs(ctx, job.ID.String(), outputFiles())
	require.NoError(t, err)

	deleted, err := f.svc.DeleteJob(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Len(t, deleted.Tables, 1)
	assert.NoDirExists(t, f.layout.JobDir(job.ID))

	_, err = f.svc.GetJob(ctx, job.ID.String())
	requireKind(t, apperrors.KindNotFound, err)
	_, err = f.svc.DeleteJob(ctx, job.ID.String())
	requireKind(t, apperrors.KindNotFound, err)
}
