package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = "id, label, status, log_path, analysis_id, measurement_id, created_at"

// CreateJob inserts the job row and its inputs in order.
func (s *Store) CreateJob(ctx context.Context, tx store.Tx, job *store.Job) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO jobs (id, label, status, analysis_id, measurement_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.Label, string(job.Status), job.AnalysisID, job.MeasurementID, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	for i, in := range job.Inputs {
		_, err := executor.ExecContext(ctx, `
			INSERT INTO job_inputs (job_id, position, label, value, source)
			VALUES ($1, $2, $3, $4, $5)
		`, job.ID, i, in.Label, in.Value, string(in.Source))
		if err != nil {
			return fmt.Errorf("failed to insert job input %q: %w", in.Label, err)
		}
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Job, error) {
	return s.getJob(ctx, s.getExecutor(tx), "WHERE id = $1", id)
}

// LockJob selects the job row FOR UPDATE, so concurrent callbacks for the
// same job queue up behind tx.
func (s *Store) LockJob(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Job, error) {
	if tx == nil {
		return nil, fmt.Errorf("LockJob requires a transaction")
	}
	return s.getJob(ctx, s.getExecutor(tx), "WHERE id = $1 FOR UPDATE", id)
}

func (s *Store) getJob(ctx context.Context, executor store.DBTransaction, where string, id uuid.UUID) (*store.Job, error) {
	row := executor.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs "+where, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, translate(err)
	}

	jobs := []store.Job{*job}
	if err := loadJobChildren(ctx, executor, jobs); err != nil {
		return nil, err
	}
	return &jobs[0], nil
}

func (s *Store) ListJobs(ctx context.Context) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	if err := loadJobChildren(ctx, s.db, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*store.Job, error) {
	var job store.Job
	var status string
	var logPath sql.NullString
	var measurementID uuid.NullUUID
	if err := row.Scan(&job.ID, &job.Label, &status, &logPath, &job.AnalysisID, &measurementID, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Status = store.JobStatus(status)
	job.LogPath = logPath.String
	if measurementID.Valid {
		id := measurementID.UUID
		job.MeasurementID = &id
	}
	return &job, nil
}

// loadJobChildren fills inputs, outputs and reports of jobs in place.
func loadJobChildren(ctx context.Context, executor store.DBTransaction, jobs []store.Job) error {
	index := make(map[uuid.UUID]int, len(jobs))
	ids := make([]uuid.UUID, 0, len(jobs))
	for i, j := range jobs {
		index[j.ID] = i
		ids = append(ids, j.ID)
	}

	children := []struct {
		query string
		scan  func(rows *sql.Rows) error
	}{
		{
			query: "SELECT job_id, label, value, source FROM job_inputs WHERE job_id = ANY($1) ORDER BY job_id, position",
			scan: func(rows *sql.Rows) error {
				var owner uuid.UUID
				var in store.JobInput
				var source string
				if err := rows.Scan(&owner, &in.Label, &in.Value, &source); err != nil {
					return err
				}
				in.Source = store.InputSource(source)
				j := &jobs[index[owner]]
				j.Inputs = append(j.Inputs, in)
				return nil
			},
		},
		{
			query: "SELECT job_id, label, path FROM job_table_outputs WHERE job_id = ANY($1) ORDER BY id",
			scan: func(rows *sql.Rows) error {
				var owner uuid.UUID
				var out store.JobTableOutput
				if err := rows.Scan(&owner, &out.Label, &out.Path); err != nil {
					return err
				}
				j := &jobs[index[owner]]
				j.Tables = append(j.Tables, out)
				return nil
			},
		},
		{
			query: "SELECT job_id, label, path, html_path FROM job_figure_outputs WHERE job_id = ANY($1) ORDER BY id",
			scan: func(rows *sql.Rows) error {
				var owner uuid.UUID
				var out store.JobFigureOutput
				if err := rows.Scan(&owner, &out.Label, &out.Path, &out.HTMLPath); err != nil {
					return err
				}
				j := &jobs[index[owner]]
				j.Figures = append(j.Figures, out)
				return nil
			},
		},
		{
			query: "SELECT job_id, path FROM job_reports WHERE job_id = ANY($1) ORDER BY id",
			scan: func(rows *sql.Rows) error {
				var owner uuid.UUID
				var r store.JobReport
				if err := rows.Scan(&owner, &r.Path); err != nil {
					return err
				}
				j := &jobs[index[owner]]
				j.Reports = append(j.Reports, r)
				return nil
			},
		},
	}

	for _, child := range children {
		rows, err := executor.QueryContext(ctx, child.query, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("failed to load job children: %w", err)
		}
		for rows.Next() {
			if err := child.scan(rows); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan job child: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddJobOutputs(ctx context.Context, tx store.Tx, id uuid.UUID, tables []store.JobTableOutput, figures []store.JobFigureOutput) error {
	executor := s.getExecutor(tx)

	for _, t := range tables {
		if _, err := executor.ExecContext(ctx,
			"INSERT INTO job_table_outputs (job_id, label, path) VALUES ($1, $2, $3)",
			id, t.Label, t.Path,
		); err != nil {
			return fmt.Errorf("failed to insert table output %q: %w", t.Label, err)
		}
	}
	for _, f := range figures {
		if _, err := executor.ExecContext(ctx,
			"INSERT INTO job_figure_outputs (job_id, label, path, html_path) VALUES ($1, $2, $3, $4)",
			id, f.Label, f.Path, f.HTMLPath,
		); err != nil {
			return fmt.Errorf("failed to insert figure output %q: %w", f.Label, err)
		}
	}
	return nil
}

func (s *Store) AddJobReports(ctx context.Context, tx store.Tx, id uuid.UUID, reports []store.JobReport) error {
	executor := s.getExecutor(tx)

	for _, r := range reports {
		if _, err := executor.ExecContext(ctx,
			"INSERT INTO job_reports (job_id, path) VALUES ($1, $2)",
			id, r.Path,
		); err != nil {
			return fmt.Errorf("failed to insert report %q: %w", r.Path, err)
		}
	}
	return nil
}

func (s *Store) SetJobLog(ctx context.Context, tx store.Tx, id uuid.UUID, logPath string, status store.JobStatus) error {
	res, err := s.getExecutor(tx).ExecContext(ctx,
		"UPDATE jobs SET log_path = $1, status = $2 WHERE id = $3",
		logPath, string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job log: %w", err)
	}
	return expectRow(res)
}

// DeleteJob deletes the job. Inputs, outputs, reports and any pending
// dispatch cascade.
func (s *Store) DeleteJob(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectRow(res)
}
