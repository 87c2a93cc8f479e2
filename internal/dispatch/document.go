// Package dispatch builds the hand-off contract for the analysis executable
// and submits it for asynchronous execution.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
)

// Callbacks builds the URLs the executable and the worker post results to.
type Callbacks struct {
	BaseURL string
}

func (c Callbacks) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Outputs is the callback for table and figure outputs.
func (c Callbacks) Outputs(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/jobs/%s/output", c.base(), jobID)
}

// Report is the callback for reports.
func (c Callbacks) Report(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/jobs/%s/report", c.base(), jobID)
}

// Log is the callback for the execution log.
func (c Callbacks) Log(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/jobs/%s/log", c.base(), jobID)
}

// Build creates the dispatch document of job. measurement must be the job's
// measurement, or nil if it has none.
func Build(job *store.Job, analysis *store.Analysis, measurement *store.Measurement, layout artifacts.Layout, cb Callbacks) (api.DispatchDocument, error) {
	if len(job.Inputs) != len(analysis.Inputs) {
		return api.DispatchDocument{}, fmt.Errorf("job %s has %d inputs, analysis %s declares %d",
			job.ID, len(job.Inputs), analysis.ID, len(analysis.Inputs))
	}

	doc := api.DispatchDocument{
		Input:     make([]api.DispatchInput, 0, len(job.Inputs)),
		Output:    make([]api.DispatchOutput, 0, len(analysis.Outputs)),
		JobID:     job.ID.String(),
		PostURL:   cb.Outputs(job.ID),
		ReportURL: cb.Report(job.ID),
	}

	for i, in := range job.Inputs {
		value := in.Value
		switch {
		case analysis.Inputs[i].Kind == store.KindValue:
		case in.Source == store.SourceMeasurement:
			if measurement == nil {
				return api.DispatchDocument{}, fmt.Errorf("job %s input %q references a measurement but none was given", job.ID, in.Label)
			}
			value = layout.MeasurementFile(measurement.ID, in.Value)
		default:
			if !artifacts.IsPlainName(in.Value) {
				return api.DispatchDocument{}, fmt.Errorf("job %s input %q: %q is not a file name", job.ID, in.Label, in.Value)
			}
			value = layout.JobInput(job.ID, in.Value)
		}
		doc.Input = append(doc.Input, api.DispatchInput{Label: in.Label, Value: value})
	}

	for _, out := range analysis.Outputs {
		doc.Output = append(doc.Output, api.DispatchOutput{Type: string(out.Kind), Label: out.Label})
	}

	return doc, nil
}

// NewTask builds the document of job and wraps it into a task.
func NewTask(job *store.Job, analysis *store.Analysis, measurement *store.Measurement, layout artifacts.Layout, cb Callbacks) (api.DispatchTask, error) {
	doc, err := Build(job, analysis, measurement, layout, cb)
	if err != nil {
		return api.DispatchTask{}, err
	}
	return api.DispatchTask{
		JobID:        job.ID.String(),
		BundlePath:   layout.AnalysisBundle(analysis.ID, analysis.Bundle),
		DocumentPath: layout.JobDocument(job.ID),
		WorkDir:      layout.JobDir(job.ID),
		LogURL:       cb.Log(job.ID),
		Document:     doc,
	}, nil
}

// WriteDocument stores the document of task at task.DocumentPath.
func WriteDocument(task api.DispatchTask) error {
	data, err := json.MarshalIndent(task.Document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dispatch document: %w", err)
	}
	return artifacts.WriteFile(task.DocumentPath, strings.NewReader(string(data)))
}
