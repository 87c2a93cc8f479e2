package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

func (s *Store) CreateMeasurement(ctx context.Context, tx store.Tx, m *store.Measurement) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		if obj, _ := txn.First(measurementsTable, idIndex, m.ID.String()); obj != nil {
			return fmt.Errorf("measurement %s already exists", m.ID)
		}
		rec := &measurementRecord{ID: m.ID.String(), Measurement: cloneMeasurement(*m)}
		rec.Measurement.Jobs = nil
		return txn.Insert(measurementsTable, rec)
	})
}

func (s *Store) GetMeasurement(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Measurement, error) {
	txn, err := s.read(tx)
	if err != nil {
		return nil, err
	}
	return getMeasurement(txn, id)
}

func getMeasurement(txn *memdb.Txn, id uuid.UUID) (*store.Measurement, error) {
	obj, err := first(txn, measurementsTable, id)
	if err != nil {
		return nil, err
	}
	m := cloneMeasurement(obj.(*measurementRecord).Measurement)
	if m.Jobs, err = jobIDs(txn, measurementIndex, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMeasurements(ctx context.Context) ([]store.Measurement, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(measurementsTable, idIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}

	var out []store.Measurement
	for obj := it.Next(); obj != nil; obj = it.Next() {
		m, err := getMeasurement(txn, obj.(*measurementRecord).Measurement.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateMeasurement(ctx context.Context, tx store.Tx, m *store.Measurement) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		obj, err := first(txn, measurementsTable, m.ID)
		if err != nil {
			return err
		}
		updated := cloneMeasurement(obj.(*measurementRecord).Measurement)
		updated.Label = m.Label
		updated.StartDate = m.StartDate
		updated.EndDate = m.EndDate
		updated.MetaData = cloneRaw(m.MetaData)
		return txn.Insert(measurementsTable, &measurementRecord{ID: m.ID.String(), Measurement: updated})
	})
}

func (s *Store) DeleteMeasurement(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		obj, err := first(txn, measurementsTable, id)
		if err != nil {
			return err
		}
		if ref, _ := txn.First(jobsTable, measurementIndex, id.String()); ref != nil {
			return store.ErrReferenced
		}
		return txn.Delete(measurementsTable, obj)
	})
}

func (s *Store) CreateAnalysis(ctx context.Context, tx store.Tx, a *store.Analysis) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		if obj, _ := txn.First(analysesTable, idIndex, a.ID.String()); obj != nil {
			return fmt.Errorf("analysis %s already exists", a.ID)
		}
		rec := &analysisRecord{ID: a.ID.String(), Analysis: cloneAnalysis(*a)}
		rec.Analysis.Jobs = nil
		return txn.Insert(analysesTable, rec)
	})
}

func (s *Store) GetAnalysis(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Analysis, error) {
	txn, err := s.read(tx)
	if err != nil {
		return nil, err
	}
	return getAnalysis(txn, id)
}

// LockAnalysis reads the analysis inside tx. Holding the write transaction
// is the lock, whatever the mode.
func (s *Store) LockAnalysis(ctx context.Context, tx store.Tx, id uuid.UUID, mode store.LockMode) (*store.Analysis, error) {
	if tx == nil {
		return nil, fmt.Errorf("LockAnalysis requires a transaction")
	}
	return s.GetAnalysis(ctx, tx, id)
}

func getAnalysis(txn *memdb.Txn, id uuid.UUID) (*store.Analysis, error) {
	obj, err := first(txn, analysesTable, id)
	if err != nil {
		return nil, err
	}
	a := cloneAnalysis(obj.(*analysisRecord).Analysis)
	if a.Jobs, err = jobIDs(txn, analysisIndex, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAnalyses(ctx context.Context) ([]store.Analysis, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(analysesTable, idIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	var out []store.Analysis
	for obj := it.Next(); obj != nil; obj = it.Next() {
		a, err := getAnalysis(txn, obj.(*analysisRecord).Analysis.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateAnalysis(ctx context.Context, tx store.Tx, a *store.Analysis) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		obj, err := first(txn, analysesTable, a.ID)
		if err != nil {
			return err
		}
		updated := cloneAnalysis(*a)
		updated.CreatedAt = obj.(*analysisRecord).Analysis.CreatedAt
		updated.Jobs = nil
		return txn.Insert(analysesTable, &analysisRecord{ID: a.ID.String(), Analysis: updated})
	})
}

func (s *Store) DeleteAnalysis(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		obj, err := first(txn, analysesTable, id)
		if err != nil {
			return err
		}
		if ref, _ := txn.First(jobsTable, analysisIndex, id.String()); ref != nil {
			return store.ErrReferenced
		}
		return txn.Delete(analysesTable, obj)
	})
}

func (s *Store) CreateJob(ctx context.Context, tx store.Tx, job *store.Job) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		if obj, _ := txn.First(jobsTable, idIndex, job.ID.String()); obj != nil {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		if _, err := first(txn, analysesTable, job.AnalysisID); err != nil {
			return fmt.Errorf("analysis %s: %w", job.AnalysisID, err)
		}

		rec := &jobRecord{ID: job.ID.String(), AnalysisID: job.AnalysisID.String(), Job: cloneJob(*job)}
		if job.MeasurementID != nil {
			if _, err := first(txn, measurementsTable, *job.MeasurementID); err != nil {
				return fmt.Errorf("measurement %s: %w", *job.MeasurementID, err)
			}
			rec.MeasurementID = job.MeasurementID.String()
		}
		return txn.Insert(jobsTable, rec)
	})
}

func (s *Store) GetJob(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Job, error) {
	txn, err := s.read(tx)
	if err != nil {
		return nil, err
	}
	obj, err := first(txn, jobsTable, id)
	if err != nil {
		return nil, err
	}
	job := cloneJob(obj.(*jobRecord).Job)
	return &job, nil
}

// LockJob reads the job inside tx. Holding the write transaction is the lock.
func (s *Store) LockJob(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Job, error) {
	if tx == nil {
		return nil, fmt.Errorf("LockJob requires a transaction")
	}
	return s.GetJob(ctx, tx, id)
}

func (s *Store) ListJobs(ctx context.Context) ([]store.Job, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(jobsTable, idIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var out []store.Job
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, cloneJob(obj.(*jobRecord).Job))
	}
	sortJobs(out)
	return out, nil
}

// updateJob applies fn to a copy of the stored job and writes it back.
func (s *Store) updateJob(tx store.Tx, id uuid.UUID, fn func(job *store.Job) error) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		obj, err := first(txn, jobsTable, id)
		if err != nil {
			return err
		}
		rec := *obj.(*jobRecord)
		rec.Job = cloneJob(rec.Job)
		if err := fn(&rec.Job); err != nil {
			return err
		}
		return txn.Insert(jobsTable, &rec)
	})
}

func (s *Store) AddJobOutputs(ctx context.Context, tx store.Tx, id uuid.UUID, tables []store.JobTableOutput, figures []store.JobFigureOutput) error {
	return s.updateJob(tx, id, func(job *store.Job) error {
		job.Tables = append(job.Tables, tables...)
		job.Figures = append(job.Figures, figures...)
		return nil
	})
}

func (s *Store) AddJobReports(ctx context.Context, tx store.Tx, id uuid.UUID, reports []store.JobReport) error {
	return s.updateJob(tx, id, func(job *store.Job) error {
		for _, r := range reports {
			if job.HasReport(r.Path) {
				return fmt.Errorf("job %s already has report %q", id, r.Path)
			}
			job.Reports = append(job.Reports, r)
		}
		return nil
	})
}

func (s *Store) SetJobLog(ctx context.Context, tx store.Tx, id uuid.UUID, logPath string, status store.JobStatus) error {
	return s.updateJob(tx, id, func(job *store.Job) error {
		job.LogPath = logPath
		job.Status = status
		return nil
	})
}

func (s *Store) DeleteJob(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	return s.write(tx, func(txn *memdb.Txn) error {
		obj, err := first(txn, jobsTable, id)
		if err != nil {
			return err
		}
		return txn.Delete(jobsTable, obj)
	})
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneMeasurement(m store.Measurement) store.Measurement {
	m.MetaData = cloneRaw(m.MetaData)
	m.Files = append([]store.MeasurementFile(nil), m.Files...)
	m.Jobs = append([]uuid.UUID(nil), m.Jobs...)
	return m
}

func cloneAnalysis(a store.Analysis) store.Analysis {
	a.MetaData = cloneRaw(a.MetaData)
	a.Inputs = append([]store.AnalysisInput(nil), a.Inputs...)
	a.Outputs = append([]store.AnalysisOutput(nil), a.Outputs...)
	a.Jobs = append([]uuid.UUID(nil), a.Jobs...)
	return a
}

func cloneJob(j store.Job) store.Job {
	if j.MeasurementID != nil {
		id := *j.MeasurementID
		j.MeasurementID = &id
	}
	j.Inputs = append([]store.JobInput(nil), j.Inputs...)
	j.Tables = append([]store.JobTableOutput(nil), j.Tables...)
	j.Figures = append([]store.JobFigureOutput(nil), j.Figures...)
	j.Reports = append([]store.JobReport(nil), j.Reports...)
	return j
}
