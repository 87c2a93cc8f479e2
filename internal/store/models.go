// Package store contains the persistence layer for analysisweb.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReferenced is returned when deleting a measurement or analysis
	// that jobs still reference.
	ErrReferenced = errors.New("referenced by jobs")
)

// TemplateKind is the declared type of an analysis input or output.
type TemplateKind string

const (
	KindValue  TemplateKind = "value"
	KindFile   TemplateKind = "file"
	KindTable  TemplateKind = "table"
	KindFigure TemplateKind = "figure"
)

// TemplateItem is one positional entry of an analysis input or output template.
type TemplateItem struct {
	Label string       `json:"label"`
	Kind  TemplateKind `json:"type"`
}

type (
	AnalysisInput  = TemplateItem
	AnalysisOutput = TemplateItem
)

// Measurement is a named collection of data files that jobs can reference.
type Measurement struct {
	ID        uuid.UUID
	Label     string
	StartDate time.Time
	EndDate   time.Time
	MetaData  json.RawMessage
	Files     []MeasurementFile
	CreatedAt time.Time

	// Jobs holds the ids of jobs referencing this measurement.
	// It is populated on reads and ignored on writes.
	Jobs []uuid.UUID
}

// FileByLabel returns the file with the given label.
func (m *Measurement) FileByLabel(label string) (MeasurementFile, bool) {
	for _, f := range m.Files {
		if f.Label == label {
			return f, true
		}
	}
	return MeasurementFile{}, false
}

// MeasurementFile is stored under measurement/{id}/{Path}.
type MeasurementFile struct {
	Label string
	Path  string
}

// Analysis is a reusable pipeline template: typed inputs and outputs plus an
// executable bundle stored under analysis/{id}/{Bundle}.
type Analysis struct {
	ID        uuid.UUID
	Label     string
	Bundle    string
	MetaData  json.RawMessage
	Inputs    []AnalysisInput
	Outputs   []AnalysisOutput
	CreatedAt time.Time

	// Jobs holds the ids of jobs referencing this analysis.
	// It is populated on reads and ignored on writes.
	Jobs []uuid.UUID
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "SUBMITTED"
	JobStatusCompleted JobStatus = "COMPLETED"
)

// InputSource records how a job input value was resolved.
type InputSource string

const (
	// SourceValue is a literal value.
	SourceValue InputSource = "value"
	// SourceUpload is a filename under job/{id}/input/.
	SourceUpload InputSource = "upload"
	// SourceMeasurement is a filename under measurement/{measurement_id}/.
	SourceMeasurement InputSource = "measurement"
)

// Job is one execution request of an analysis.
type Job struct {
	ID            uuid.UUID
	Label         string
	Status        JobStatus
	LogPath       string
	AnalysisID    uuid.UUID
	MeasurementID *uuid.UUID
	Inputs        []JobInput
	Tables        []JobTableOutput
	Figures       []JobFigureOutput
	Reports       []JobReport
	CreatedAt     time.Time
}

// HasOutputs reports whether any table or figure output was ingested.
func (j *Job) HasOutputs() bool {
	return len(j.Tables) > 0 || len(j.Figures) > 0
}

// HasReport reports whether a report with the given path exists.
func (j *Job) HasReport(path string) bool {
	for _, r := range j.Reports {
		if r.Path == path {
			return true
		}
	}
	return false
}

type JobInput struct {
	Label  string
	Value  string
	Source InputSource
}

// JobTableOutput is stored under job/{id}/output/{Path}.
type JobTableOutput struct {
	Label string
	Path  string
}

// JobFigureOutput references an image and its companion HTML page,
// both stored under job/{id}/output/.
type JobFigureOutput struct {
	Label    string
	Path     string
	HTMLPath string
}

// JobReport is stored under job/{id}/reports/{Path}.
type JobReport struct {
	Path string
}
