// Package artifacts owns the on-disk tree under the upload folder:
//
//	measurement/{id}/{file}
//	analysis/{id}/{bundle}
//	job/{id}/input/{file}
//	job/{id}/output/{file}
//	job/{id}/reports/{file}
//	job/{id}/log.html
//	job/{id}/inp.json
package artifacts

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	measurementDir = "measurement"
	analysisDir    = "analysis"
	jobDir         = "job"

	InputDir     = "input"
	OutputDir    = "output"
	ReportsDir   = "reports"
	LogFile      = "log.html"
	DocumentFile = "inp.json"

	dirPerm = 0o755
)

// Layout resolves artifact locations below Root.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at the absolute form of root.
func NewLayout(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve upload folder %q: %w", root, err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) MeasurementDir(id uuid.UUID) string {
	return filepath.Join(l.Root, measurementDir, id.String())
}

func (l Layout) MeasurementFile(id uuid.UUID, name string) string {
	return filepath.Join(l.MeasurementDir(id), name)
}

func (l Layout) AnalysisDir(id uuid.UUID) string {
	return filepath.Join(l.Root, analysisDir, id.String())
}

func (l Layout) AnalysisBundle(id uuid.UUID, name string) string {
	return filepath.Join(l.AnalysisDir(id), name)
}

func (l Layout) JobDir(id uuid.UUID) string {
	return filepath.Join(l.Root, jobDir, id.String())
}

func (l Layout) JobInput(id uuid.UUID, name string) string {
	return filepath.Join(l.JobDir(id), InputDir, name)
}

func (l Layout) JobOutput(id uuid.UUID, name string) string {
	return filepath.Join(l.JobDir(id), OutputDir, name)
}

func (l Layout) JobReport(id uuid.UUID, name string) string {
	return filepath.Join(l.JobDir(id), ReportsDir, name)
}

func (l Layout) JobLog(id uuid.UUID) string {
	return filepath.Join(l.JobDir(id), LogFile)
}

func (l Layout) JobDocument(id uuid.UUID) string {
	return filepath.Join(l.JobDir(id), DocumentFile)
}

// CreateJobDirs creates job/{id}/ with its input, output and reports directories.
// It fails if the job directory already exists.
func (l Layout) CreateJobDirs(id uuid.UUID) error {
	dir := l.JobDir(id)
	if err := os.MkdirAll(filepath.Dir(dir), dirPerm); err != nil {
		return err
	}
	if err := os.Mkdir(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	for _, sub := range []string{InputDir, OutputDir, ReportsDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), dirPerm); err != nil {
			return fmt.Errorf("failed to create job %s directory: %w", sub, err)
		}
	}
	return nil
}

// URL returns the public path an artifact is served under, relative to the
// API root, e.g. files/job/{id}/output/table.csv.
func URL(kind string, id uuid.UUID, elem ...string) string {
	parts := append([]string{"files", kind, id.String()}, elem...)
	return path.Join(parts...)
}

// Kinds accepted by URL.
const (
	KindMeasurement = measurementDir
	KindAnalysis    = analysisDir
	KindJob         = jobDir
)
