package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is a store transaction. Repository methods accept a nil Tx and then
// run outside of any transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store combines every repository the services need.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	MeasurementStore
	AnalysisStore
	JobStore
}

// MeasurementStore handles the persistence of measurements and their files.
type MeasurementStore interface {
	// CreateMeasurement inserts a measurement with its files.
	CreateMeasurement(ctx context.Context, tx Tx, m *Measurement) error

	// GetMeasurement returns a measurement with its files and referencing job ids.
	GetMeasurement(ctx context.Context, tx Tx, id uuid.UUID) (*Measurement, error)

	ListMeasurements(ctx context.Context) ([]Measurement, error)

	// UpdateMeasurement updates label, dates and metadata. Files are left untouched.
	UpdateMeasurement(ctx context.Context, tx Tx, m *Measurement) error

	// DeleteMeasurement deletes a measurement and cascades to its files.
	DeleteMeasurement(ctx context.Context, tx Tx, id uuid.UUID) error
}

// LockMode selects the row lock taken by LockAnalysis.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// AnalysisStore handles the persistence of analyses and their templates.
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, tx Tx, a *Analysis) error

	// GetAnalysis returns an analysis with its templates and referencing job ids.
	GetAnalysis(ctx context.Context, tx Tx, id uuid.UUID) (*Analysis, error)

	// LockAnalysis returns the analysis and holds a row lock on it until tx
	// ends. A shared lock admits other shared holders; an exclusive lock
	// waits for all of them.
	LockAnalysis(ctx context.Context, tx Tx, id uuid.UUID, mode LockMode) (*Analysis, error)

	ListAnalyses(ctx context.Context) ([]Analysis, error)

	// UpdateAnalysis replaces label, bundle, metadata and both templates.
	UpdateAnalysis(ctx context.Context, tx Tx, a *Analysis) error

	DeleteAnalysis(ctx context.Context, tx Tx, id uuid.UUID) error
}

// JobStore handles the persistence of jobs and everything they own.
type JobStore interface {
	// CreateJob inserts a job with its resolved inputs.
	CreateJob(ctx context.Context, tx Tx, job *Job) error

	GetJob(ctx context.Context, tx Tx, id uuid.UUID) (*Job, error)

	// LockJob returns the job and holds an exclusive lock on it until tx ends.
	LockJob(ctx context.Context, tx Tx, id uuid.UUID) (*Job, error)

	ListJobs(ctx context.Context) ([]Job, error)

	// AddJobOutputs appends table and figure outputs.
	AddJobOutputs(ctx context.Context, tx Tx, id uuid.UUID, tables []JobTableOutput, figures []JobFigureOutput) error

	// AddJobReports appends reports.
	AddJobReports(ctx context.Context, tx Tx, id uuid.UUID, reports []JobReport) error

	// SetJobLog stores the log path and moves the job to status.
	SetJobLog(ctx context.Context, tx Tx, id uuid.UUID, logPath string, status JobStatus) error

	// DeleteJob deletes a job and cascades to its inputs, outputs and reports.
	DeleteJob(ctx context.Context, tx Tx, id uuid.UUID) error
}
