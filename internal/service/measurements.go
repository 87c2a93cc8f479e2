package service

import (
	"context"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/artifacts"
	"analysisweb/internal/metadata"
	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// MeasurementForm carries the fields of a measurement request. Nil fields
// were not supplied.
type MeasurementForm struct {
	Label     *string
	StartDate *string
	EndDate   *string
	MetaData  *string
	Files     artifacts.Uploads
}

// CreateMeasurement stores a measurement and its files. Every upload becomes
// a file labelled by its form field.
func (s *Service) CreateMeasurement(ctx context.Context, form MeasurementForm) (*store.Measurement, error) {
	if form.Label == nil || form.StartDate == nil || form.EndDate == nil || len(form.Files) == 0 {
		return nil, apperrors.InvalidInput("Missing input")
	}

	m := &store.Measurement{
		ID:        uuid.New(),
		Label:     *form.Label,
		CreatedAt: s.now(),
	}
	if err := s.applyDates(m, form.StartDate, form.EndDate); err != nil {
		return nil, err
	}

	meta := metadata.Value{}
	if form.MetaData != nil {
		var err error
		if meta, err = parseMetadata(*form.MetaData, s.measurementSchema); err != nil {
			return nil, err
		}
	}
	m.MetaData = metadata.Encode(meta)

	labels := make(map[string]bool)
	paths := make(map[string]bool)
	for _, u := range form.Files {
		name := artifacts.SecureFilename(u.Filename)
		switch {
		case name == "":
			return nil, apperrors.InvalidInput("Invalid file name %q", u.Filename)
		case labels[u.Field]:
			return nil, apperrors.InvalidInput("Duplicate file label %q", u.Field)
		case paths[name]:
			return nil, apperrors.InvalidInput("Duplicate file name %q", name)
		}
		labels[u.Field], paths[name] = true, true
		m.Files = append(m.Files, store.MeasurementFile{Label: u.Field, Path: name})
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	if err := s.store.CreateMeasurement(ctx, tx, m); err != nil {
		return nil, err
	}

	dir := s.layout.MeasurementDir(m.ID)
	err = s.saveFiles(m, form.Files)
	if err == nil {
		err = commit(tx)
	}
	if err != nil {
		s.removeDir(ctx, dir)
		return nil, err
	}

	s.log(ctx).Info("measurement created", "measurement_id", m.ID, "files", len(m.Files))
	return m, nil
}

func (s *Service) saveFiles(m *store.Measurement, uploads artifacts.Uploads) error {
	for i, f := range m.Files {
		if err := artifacts.Save(uploads[i], s.layout.MeasurementFile(m.ID, f.Path)); err != nil {
			return err
		}
	}
	return nil
}

// applyDates parses the supplied dates into m and checks end >= start.
func (s *Service) applyDates(m *store.Measurement, start, end *string) error {
	var errs *multierror.Error
	if start != nil {
		t, err := parseDate("start_date", *start)
		errs = multierror.Append(errs, err)
		m.StartDate = t
	}
	if end != nil {
		t, err := parseDate("end_date", *end)
		errs = multierror.Append(errs, err)
		m.EndDate = t
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	if m.EndDate.Before(m.StartDate) {
		return apperrors.InvalidInput("end date < start date")
	}
	return nil
}

func (s *Service) GetMeasurement(ctx context.Context, rawID string) (*store.Measurement, error) {
	id, err := parseID("measurement", rawID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMeasurement(ctx, nil, id)
	return m, storeErr(err, "measurement", id)
}

func (s *Service) ListMeasurements(ctx context.Context) ([]store.Measurement, error) {
	return s.store.ListMeasurements(ctx)
}

// UpdateMeasurement changes label, dates and metadata. Files are kept.
func (s *Service) UpdateMeasurement(ctx context.Context, rawID string, form MeasurementForm) (*store.Measurement, error) {
	id, err := parseID("measurement", rawID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	m, err := s.store.GetMeasurement(ctx, tx, id)
	if err != nil {
		return nil, storeErr(err, "measurement", id)
	}

	if form.Label != nil {
		m.Label = *form.Label
	}
	if err := s.applyDates(m, form.StartDate, form.EndDate); err != nil {
		return nil, err
	}
	if form.MetaData != nil {
		meta, err := parseMetadata(*form.MetaData, s.measurementSchema)
		if err != nil {
			return nil, err
		}
		m.MetaData = metadata.Encode(meta)
	}

	if err := s.store.UpdateMeasurement(ctx, tx, m); err != nil {
		return nil, storeErr(err, "measurement", id)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMeasurement deletes an unreferenced measurement with its files and
// returns it as it was before deletion.
func (s *Service) DeleteMeasurement(ctx context.Context, rawID string) (*store.Measurement, error) {
	id, err := parseID("measurement", rawID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	m, err := s.store.GetMeasurement(ctx, tx, id)
	if err != nil {
		return nil, storeErr(err, "measurement", id)
	}
	if len(m.Jobs) > 0 {
		return nil, apperrors.Forbidden("Item cannot be removed because it is associated with a job")
	}
	if err := s.store.DeleteMeasurement(ctx, tx, id); err != nil {
		return nil, storeErr(err, "measurement", id)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	s.removeDir(ctx, s.layout.MeasurementDir(id))
	s.log(ctx).Info("measurement deleted", "measurement_id", id)
	return m, nil
}
