package handlers

import (
	"analysisweb/internal/artifacts"
	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
)

func ids(list []uuid.UUID) []string {
	out := make([]string, 0, len(list))
	for _, id := range list {
		out = append(out, id.String())
	}
	return out
}

func measurementView(m *store.Measurement) api.Measurement {
	v := api.Measurement{
		ID:        m.ID.String(),
		Label:     m.Label,
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		MetaData:  m.MetaData,
		Files:     make([]api.File, 0, len(m.Files)),
		Jobs:      ids(m.Jobs),
		CreatedAt: m.CreatedAt,
	}
	for _, f := range m.Files {
		v.Files = append(v.Files, api.File{
			Label: f.Label,
			Path:  f.Path,
			URL:   artifacts.URL(artifacts.KindMeasurement, m.ID, f.Path),
		})
	}
	return v
}

func templateView(items []store.TemplateItem) []api.TemplateItem {
	out := make([]api.TemplateItem, 0, len(items))
	for _, item := range items {
		out = append(out, api.TemplateItem{Label: item.Label, Type: string(item.Kind)})
	}
	return out
}

func analysisView(a *store.Analysis) api.Analysis {
	return api.Analysis{
		ID:    a.ID.String(),
		Label: a.Label,
		Bundle: api.File{
			Path: a.Bundle,
			URL:  artifacts.URL(artifacts.KindAnalysis, a.ID, a.Bundle),
		},
		MetaData:  a.MetaData,
		Input:     templateView(a.Inputs),
		Output:    templateView(a.Outputs),
		Jobs:      ids(a.Jobs),
		CreatedAt: a.CreatedAt,
	}
}

func jobView(j *store.Job) api.Job {
	v := api.Job{
		ID:       j.ID.String(),
		Label:    j.Label,
		Status:   string(j.Status),
		Date:     j.CreatedAt,
		Analysis: j.AnalysisID.String(),
		Input:    make([]api.JobInput, 0, len(j.Inputs)),
		Table:    make([]api.File, 0, len(j.Tables)),
		Figure:   make([]api.FigureOutput, 0, len(j.Figures)),
		Reports:  make([]api.File, 0, len(j.Reports)),
	}
	if j.MeasurementID != nil {
		id := j.MeasurementID.String()
		v.Measurement = &id
	}

	for _, in := range j.Inputs {
		view := api.JobInput{Label: in.Label, Value: in.Value, Source: string(in.Source)}
		switch {
		case in.Source == store.SourceUpload:
			view.URL = artifacts.URL(artifacts.KindJob, j.ID, artifacts.InputDir, in.Value)
		case in.Source == store.SourceMeasurement && j.MeasurementID != nil:
			view.URL = artifacts.URL(artifacts.KindMeasurement, *j.MeasurementID, in.Value)
		}
		v.Input = append(v.Input, view)
	}

	for _, t := range j.Tables {
		v.Table = append(v.Table, api.File{
			Label: t.Label,
			Path:  t.Path,
			URL:   artifacts.URL(artifacts.KindJob, j.ID, artifacts.OutputDir, t.Path),
		})
	}
	for _, f := range j.Figures {
		v.Figure = append(v.Figure, api.FigureOutput{
			Label: f.Label,
			Path:  f.Path,
			URL:   artifacts.URL(artifacts.KindJob, j.ID, artifacts.OutputDir, f.Path),
			HTML: api.File{
				Path: f.HTMLPath,
				URL:  artifacts.URL(artifacts.KindJob, j.ID, artifacts.OutputDir, f.HTMLPath),
			},
		})
	}
	for _, r := range j.Reports {
		v.Reports = append(v.Reports, api.File{
			Path: r.Path,
			URL:  artifacts.URL(artifacts.KindJob, j.ID, artifacts.ReportsDir, r.Path),
		})
	}
	if j.LogPath != "" {
		v.Log = &api.File{
			Path: j.LogPath,
			URL:  artifacts.URL(artifacts.KindJob, j.ID, j.LogPath),
		}
	}
	return v
}
