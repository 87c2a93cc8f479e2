package postgres

import (
	"context"
	"fmt"

	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var templateTables = []string{"analysis_inputs", "analysis_outputs"}

func (s *Store) CreateAnalysis(ctx context.Context, tx store.Tx, a *store.Analysis) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO analyses (id, label, bundle, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.Label, a.Bundle, metaJSON(a.MetaData), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return insertTemplates(ctx, executor, a)
}

func insertTemplates(ctx context.Context, executor store.DBTransaction, a *store.Analysis) error {
	for t, items := range [][]store.TemplateItem{a.Inputs, a.Outputs} {
		for i, item := range items {
			_, err := executor.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (analysis_id, position, label, kind)
				VALUES ($1, $2, $3, $4)
			`, templateTables[t]), a.ID, i, item.Label, string(item.Kind))
			if err != nil {
				return fmt.Errorf("failed to insert %s %q: %w", templateTables[t], item.Label, err)
			}
		}
	}
	return nil
}

func (s *Store) GetAnalysis(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Analysis, error) {
	return s.getAnalysis(ctx, s.getExecutor(tx), "", id)
}

// LockAnalysis selects the analysis row FOR SHARE or FOR UPDATE. Job
// creation holds the shared lock while it resolves inputs against the
// templates, so a template rewrite cannot interleave with it.
func (s *Store) LockAnalysis(ctx context.Context, tx store.Tx, id uuid.UUID, mode store.LockMode) (*store.Analysis, error) {
	if tx == nil {
		return nil, fmt.Errorf("LockAnalysis requires a transaction")
	}
	lock := "FOR SHARE"
	if mode == store.LockExclusive {
		lock = "FOR UPDATE"
	}
	return s.getAnalysis(ctx, s.getExecutor(tx), lock, id)
}

func (s *Store) getAnalysis(ctx context.Context, executor store.DBTransaction, lock string, id uuid.UUID) (*store.Analysis, error) {
	list, err := s.queryAnalyses(ctx, executor, "WHERE id = $1", lock, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (s *Store) ListAnalyses(ctx context.Context) ([]store.Analysis, error) {
	return s.queryAnalyses(ctx, s.db, "", "")
}

func (s *Store) queryAnalyses(ctx context.Context, executor store.DBTransaction, where, lock string, args ...interface{}) ([]store.Analysis, error) {
	rows, err := executor.QueryContext(ctx, `
		SELECT id, label, bundle, meta_data, created_at
		FROM analyses `+where+`
		ORDER BY created_at ASC `+lock, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []store.Analysis
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var a store.Analysis
		var meta []byte
		if err := rows.Scan(&a.ID, &a.Label, &a.Bundle, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		a.MetaData = meta
		index[a.ID] = len(analyses)
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(analyses) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(analyses))
	for _, a := range analyses {
		ids = append(ids, a.ID)
	}

	for t, table := range templateTables {
		itemRows, err := executor.QueryContext(ctx, fmt.Sprintf(`
			SELECT analysis_id, label, kind
			FROM %s
			WHERE analysis_id = ANY($1)
			ORDER BY analysis_id, position
		`, table), pq.Array(ids))
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}

		for itemRows.Next() {
			var owner uuid.UUID
			var item store.TemplateItem
			var kind string
			if err := itemRows.Scan(&owner, &item.Label, &kind); err != nil {
				itemRows.Close()
				return nil, fmt.Errorf("failed to scan %s: %w", table, err)
			}
			item.Kind = store.TemplateKind(kind)
			a := &analyses[index[owner]]
			if t == 0 {
				a.Inputs = append(a.Inputs, item)
			} else {
				a.Outputs = append(a.Outputs, item)
			}
		}
		if err := itemRows.Err(); err != nil {
			return nil, err
		}
	}

	refs, err := jobRefs(ctx, executor, "analysis_id", ids)
	if err != nil {
		return nil, err
	}
	for owner, jobs := range refs {
		analyses[index[owner]].Jobs = jobs
	}
	return analyses, nil
}

// UpdateAnalysis rewrites the analysis row and replaces both templates.
func (s *Store) UpdateAnalysis(ctx context.Context, tx store.Tx, a *store.Analysis) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE analyses
		SET label = $1, bundle = $2, meta_data = $3
		WHERE id = $4
	`, a.Label, a.Bundle, metaJSON(a.MetaData), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}

	for _, table := range templateTables {
		if _, err := executor.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE analysis_id = $1", table), a.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return insertTemplates(ctx, executor, a)
}

func (s *Store) DeleteAnalysis(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, "DELETE FROM analyses WHERE id = $1", id)
	if err != nil {
		return translate(err)
	}
	return expectRow(res)
}
