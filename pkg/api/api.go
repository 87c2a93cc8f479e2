// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the Controller and the Worker.
package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// CreatedResponse is returned when an entity was created.
type CreatedResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// File is a stored artifact. Path is relative to the entity directory,
// URL is relative to the API root.
type File struct {
	Label string `json:"label,omitempty"`
	Path  string `json:"path"`
	URL   string `json:"url"`
}

// Measurement is the measurement representation in API responses.
type Measurement struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	MetaData  json.RawMessage `json:"meta_data"`
	Files     []File          `json:"files"`
	Jobs      []string        `json:"jobs"`
	CreatedAt time.Time       `json:"created_at"`
}

// TemplateItem is an analysis input or output declaration.
type TemplateItem struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Analysis is the analysis representation in API responses.
type Analysis struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Bundle    File            `json:"bundle"`
	MetaData  json.RawMessage `json:"meta_data"`
	Input     []TemplateItem  `json:"input"`
	Output    []TemplateItem  `json:"output"`
	Jobs      []string        `json:"jobs"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobInput is a resolved job input.
type JobInput struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// FigureOutput is a figure with its image and companion HTML page.
type FigureOutput struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	URL   string `json:"url"`
	HTML  File   `json:"html"`
}

// Job is the job representation in API responses.
type Job struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Status      string         `json:"status"`
	Date        time.Time      `json:"date"`
	Analysis    string         `json:"analysis"`
	Measurement *string        `json:"measurement,omitempty"`
	Input       []JobInput     `json:"input"`
	Table       []File         `json:"table_output"`
	Figure      []FigureOutput `json:"figure_output"`
	Reports     []File         `json:"reports"`
	Log         *File          `json:"log,omitempty"`
}

// DispatchInput is one resolved input in the dispatch document.
type DispatchInput struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// DispatchOutput is one declared output in the dispatch document.
type DispatchOutput struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// DispatchDocument is written to job/{id}/inp.json and read by the analysis
// executable. It posts its outputs to PostURL and its reports to ReportURL.
type DispatchDocument struct {
	Input     []DispatchInput  `json:"input"`
	Output    []DispatchOutput `json:"output"`
	JobID     string           `json:"job_id"`
	PostURL   string           `json:"post_url"`
	ReportURL string           `json:"report_url"`
}

// DispatchTask is handed to the task submitter. The worker runs the bundle
// with the document and posts the resulting HTML log to LogURL.
type DispatchTask struct {
	JobID        string            `json:"job_id"`
	BundlePath   string            `json:"bundle_path"`
	DocumentPath string            `json:"document_path"`
	WorkDir      string            `json:"work_dir"`
	LogURL       string            `json:"log_url"`
	Document     DispatchDocument  `json:"document"`
	Trace        map[string]string `json:"trace,omitempty"`
}

// DLQEntry represents a dispatch task that exhausted its retries.
type DLQEntry struct {
	ID           int64      `json:"id"`
	JobID        string     `json:"job_id"`
	JobLabel     string     `json:"job_label"`
	ErrorMessage *string    `json:"error_message"`
	Attempts     int        `json:"attempts"`
	FailedAt     *time.Time `json:"failed_at"`
}

// StatusResponse is a plain acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}
