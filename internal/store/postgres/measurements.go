package postgres

import (
	"context"
	"fmt"

	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateMeasurement inserts the measurement row and its files in order.
func (s *Store) CreateMeasurement(ctx context.Context, tx store.Tx, m *store.Measurement) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO measurements (id, label, start_date, end_date, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.Label, m.StartDate, m.EndDate, metaJSON(m.MetaData), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	for i, f := range m.Files {
		_, err := executor.ExecContext(ctx, `
			INSERT INTO measurement_files (measurement_id, position, label, path)
			VALUES ($1, $2, $3, $4)
		`, m.ID, i, f.Label, f.Path)
		if err != nil {
			return fmt.Errorf("failed to insert measurement file %q: %w", f.Label, err)
		}
	}
	return nil
}

func (s *Store) GetMeasurement(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Measurement, error) {
	list, err := s.queryMeasurements(ctx, s.getExecutor(tx), "WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (s *Store) ListMeasurements(ctx context.Context) ([]store.Measurement, error) {
	return s.queryMeasurements(ctx, s.db, "")
}

// queryMeasurements loads the measurements matching where, then their files
// and referencing jobs.
func (s *Store) queryMeasurements(ctx context.Context, executor store.DBTransaction, where string, args ...interface{}) ([]store.Measurement, error) {
	rows, err := executor.QueryContext(ctx, `
		SELECT id, label, start_date, end_date, meta_data, created_at
		FROM measurements `+where+`
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var measurements []store.Measurement
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var m store.Measurement
		var meta []byte
		if err := rows.Scan(&m.ID, &m.Label, &m.StartDate, &m.EndDate, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.MetaData = meta
		index[m.ID] = len(measurements)
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(measurements) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(measurements))
	for _, m := range measurements {
		ids = append(ids, m.ID)
	}

	fileRows, err := executor.QueryContext(ctx, `
		SELECT measurement_id, label, path
		FROM measurement_files
		WHERE measurement_id = ANY($1)
		ORDER BY measurement_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query measurement files: %w", err)
	}
	defer fileRows.Close()

	for fileRows.Next() {
		var owner uuid.UUID
		var f store.MeasurementFile
		if err := fileRows.Scan(&owner, &f.Label, &f.Path); err != nil {
			return nil, fmt.Errorf("failed to scan measurement file: %w", err)
		}
		m := &measurements[index[owner]]
		m.Files = append(m.Files, f)
	}
	if err := fileRows.Err(); err != nil {
		return nil, err
	}

	refs, err := jobRefs(ctx, executor, "measurement_id", ids)
	if err != nil {
		return nil, err
	}
	for owner, jobs := range refs {
		measurements[index[owner]].Jobs = jobs
	}
	return measurements, nil
}

// UpdateMeasurement updates label, dates and metadata.
func (s *Store) UpdateMeasurement(ctx context.Context, tx store.Tx, m *store.Measurement) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE measurements
		SET label = $1, start_date = $2, end_date = $3, meta_data = $4
		WHERE id = $5
	`, m.Label, m.StartDate, m.EndDate, metaJSON(m.MetaData), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update measurement: %w", err)
	}
	return expectRow(res)
}

// DeleteMeasurement deletes the measurement; its files cascade. Referencing
// jobs make it fail with store.ErrReferenced.
func (s *Store) DeleteMeasurement(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, "DELETE FROM measurements WHERE id = $1", id)
	if err != nil {
		return translate(err)
	}
	return expectRow(res)
}

// jobRefs returns, per owner id, the ids of jobs whose column references it.
func jobRefs(ctx context.Context, executor store.DBTransaction, column string, owners []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	rows, err := executor.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, %[1]s
		FROM jobs
		WHERE %[1]s = ANY($1)
		ORDER BY created_at ASC
	`, column), pq.Array(owners))
	if err != nil {
		return nil, fmt.Errorf("failed to query job references: %w", err)
	}
	defer rows.Close()

	refs := make(map[uuid.UUID][]uuid.UUID)
	for rows.Next() {
		var jobID, owner uuid.UUID
		if err := rows.Scan(&jobID, &owner); err != nil {
			return nil, fmt.Errorf("failed to scan job reference: %w", err)
		}
		refs[owner] = append(refs[owner], jobID)
	}
	return refs, rows.Err()
}
