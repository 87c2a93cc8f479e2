package service

import (
	"context"
	"errors"
	"os"
	"strings"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/artifacts"
	"analysisweb/internal/metadata"
	"analysisweb/internal/store"
	"analysisweb/internal/template"

	"github.com/google/uuid"
)

// AnalysisForm carries the fields of an analysis request. Nil fields were
// not supplied. Inputs and Outputs hold the raw template items.
type AnalysisForm struct {
	Label    *string
	Inputs   []string
	Outputs  []string
	MetaData *string
	Files    artifacts.Uploads
}

// CreateAnalysis validates both templates and stores the analysis with its
// bundle, which must be the only uploaded file.
func (s *Service) CreateAnalysis(ctx context.Context, form AnalysisForm) (*store.Analysis, error) {
	if form.Label == nil || form.Inputs == nil || form.Outputs == nil || len(form.Files) != 1 {
		return nil, apperrors.InvalidInput("Missing input")
	}

	a := &store.Analysis{
		ID:        uuid.New(),
		Label:     *form.Label,
		CreatedAt: s.now(),
	}

	var err error
	if a.Inputs, err = validateTemplate(form.Inputs, template.Input); err != nil {
		return nil, err
	}
	if a.Outputs, err = validateTemplate(form.Outputs, template.Output); err != nil {
		return nil, err
	}

	meta := metadata.Value{}
	if form.MetaData != nil {
		if meta, err = parseMetadata(*form.MetaData, s.analysisSchema); err != nil {
			return nil, err
		}
	}
	a.MetaData = metadata.Encode(meta)

	bundle := form.Files[0]
	if a.Bundle, err = s.bundleName(bundle); err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	if err := s.store.CreateAnalysis(ctx, tx, a); err != nil {
		return nil, err
	}

	err = artifacts.Save(bundle, s.layout.AnalysisBundle(a.ID, a.Bundle))
	if err == nil {
		err = commit(tx)
	}
	if err != nil {
		s.removeDir(ctx, s.layout.AnalysisDir(a.ID))
		return nil, err
	}

	s.log(ctx).Info("analysis created", "analysis_id", a.ID, "inputs", len(a.Inputs), "outputs", len(a.Outputs))
	return a, nil
}

func validateTemplate(raw []string, d template.Direction) ([]store.TemplateItem, error) {
	items, err := template.ParseItems(raw)
	if err != nil {
		return nil, err
	}
	return template.ValidateItems(items, d)
}

// bundleName returns the stored file name of an uploaded bundle.
func (s *Service) bundleName(u artifacts.Upload) (string, error) {
	name := artifacts.SecureFilename(u.Filename)
	for _, ext := range s.bundleExt {
		if name != "" && artifacts.HasExt(name, ext) {
			return name, nil
		}
	}
	return "", apperrors.InvalidInput("Analysis must be a %s file", strings.Join(s.bundleExt, " or "))
}

func (s *Service) GetAnalysis(ctx context.Context, rawID string) (*store.Analysis, error) {
	id, err := parseID("analysis", rawID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAnalysis(ctx, nil, id)
	return a, storeErr(err, "analysis", id)
}

func (s *Service) ListAnalyses(ctx context.Context) ([]store.Analysis, error) {
	return s.store.ListAnalyses(ctx)
}

// UpdateAnalysis edits an analysis. While no job references it, supplied
// templates replace the existing ones and a supplied bundle replaces the
// stored one. Once jobs exist, templates keep their count and kinds and
// only labels change; the bundle is frozen.
func (s *Service) UpdateAnalysis(ctx context.Context, rawID string, form AnalysisForm) (*store.Analysis, error) {
	id, err := parseID("analysis", rawID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	a, err := s.store.LockAnalysis(ctx, tx, id, store.LockExclusive)
	if err != nil {
		return nil, storeErr(err, "analysis", id)
	}

	if template.CanReplace(a) {
		err = s.replaceTemplates(a, form)
	} else {
		err = editTemplates(a, form)
	}
	if err != nil {
		return nil, err
	}

	if form.Label != nil {
		a.Label = *form.Label
	}
	if form.MetaData != nil {
		meta, err := parseMetadata(*form.MetaData, s.analysisSchema)
		if err != nil {
			return nil, err
		}
		a.MetaData = metadata.Encode(meta)
	}

	previous := a.Bundle
	var bundle *artifacts.Upload
	if len(form.Files) > 0 {
		if !template.CanReplace(a) {
			return nil, apperrors.Forbidden("Cannot replace the bundle of an analysis associated with job")
		}
		if len(form.Files) != 1 {
			return nil, apperrors.InvalidInput("Missing input")
		}
		bundle = &form.Files[0]
		if a.Bundle, err = s.bundleName(*bundle); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateAnalysis(ctx, tx, a); err != nil {
		return nil, storeErr(err, "analysis", id)
	}

	if bundle != nil {
		if err := artifacts.Save(*bundle, s.layout.AnalysisBundle(a.ID, a.Bundle)); err != nil {
			return nil, err
		}
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	if bundle != nil && previous != a.Bundle {
		old := s.layout.AnalysisBundle(a.ID, previous)
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log(ctx).Error("failed to remove replaced bundle", "path", old, "error", err)
		}
	}
	return a, nil
}

func (s *Service) replaceTemplates(a *store.Analysis, form AnalysisForm) error {
	var err error
	if form.Inputs != nil {
		if a.Inputs, err = validateTemplate(form.Inputs, template.Input); err != nil {
			return err
		}
	}
	if form.Outputs != nil {
		if a.Outputs, err = validateTemplate(form.Outputs, template.Output); err != nil {
			return err
		}
	}
	return nil
}

func editTemplates(a *store.Analysis, form AnalysisForm) error {
	edit := func(existing []store.TemplateItem, raw []string, d template.Direction) ([]store.TemplateItem, error) {
		if raw == nil {
			return existing, nil
		}
		items, err := template.ParseItems(raw)
		if err != nil {
			return nil, err
		}
		if err := template.ValidateEdit(existing, items, d); err != nil {
			return nil, err
		}
		edited := template.ApplyLabels(existing, items)
		if err := template.UniqueLabels(edited, d); err != nil {
			return nil, err
		}
		return edited, nil
	}

	var err error
	if a.Inputs, err = edit(a.Inputs, form.Inputs, template.Input); err != nil {
		return err
	}
	a.Outputs, err = edit(a.Outputs, form.Outputs, template.Output)
	return err
}

// DeleteAnalysis deletes an unreferenced analysis with its bundle and
// returns it as it was before deletion.
func (s *Service) DeleteAnalysis(ctx context.Context, rawID string) (*store.Analysis, error) {
	id, err := parseID("analysis", rawID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	a, err := s.store.LockAnalysis(ctx, tx, id, store.LockExclusive)
	if err != nil {
		return nil, storeErr(err, "analysis", id)
	}
	if len(a.Jobs) > 0 {
		return nil, apperrors.Forbidden("Item cannot be removed because it is associated with a job")
	}
	if err := s.store.DeleteAnalysis(ctx, tx, id); err != nil {
		return nil, storeErr(err, "analysis", id)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	s.removeDir(ctx, s.layout.AnalysisDir(id))
	s.log(ctx).Info("analysis deleted", "analysis_id", id)
	return a, nil
}
