// Package service implements the operations of the analysisweb API on top
// of the entity store and the artifact tree: measurement and analysis
// management, and the job lifecycle from submission to completion.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/artifacts"
	"analysisweb/internal/dispatch"
	"analysisweb/internal/logger"
	"analysisweb/internal/metadata"
	"analysisweb/internal/observability"
	"analysisweb/internal/store"

	"github.com/google/uuid"
)

// DefaultBundleExtensions are accepted when Config.BundleExtensions is empty.
var DefaultBundleExtensions = []string{".syx"}

// Config holds the dependencies of Service that are not stores.
type Config struct {
	Layout            artifacts.Layout
	Callbacks         dispatch.Callbacks
	BundleExtensions  []string
	MeasurementSchema metadata.Schema
	AnalysisSchema    metadata.Schema
}

// Service is the API surface shared by the HTTP handlers.
type Service struct {
	store     store.Store
	submitter dispatch.TaskSubmitter
	layout    artifacts.Layout
	callbacks dispatch.Callbacks
	bundleExt []string

	measurementSchema metadata.Schema
	analysisSchema    metadata.Schema

	metrics *observability.Instruments
	logger  *slog.Logger

	now func() time.Time
}

// New creates a Service. metrics may be nil.
func New(st store.Store, submitter dispatch.TaskSubmitter, cfg Config, metrics *observability.Instruments, log *slog.Logger) *Service {
	if len(cfg.BundleExtensions) == 0 {
		cfg.BundleExtensions = DefaultBundleExtensions
	}
	if cfg.MeasurementSchema == nil {
		cfg.MeasurementSchema = metadata.Base{Entity: "measurement"}
	}
	if cfg.AnalysisSchema == nil {
		cfg.AnalysisSchema = metadata.Base{Entity: "analysis"}
	}
	return &Service{
		store:             st,
		submitter:         submitter,
		layout:            cfg.Layout,
		callbacks:         cfg.Callbacks,
		bundleExt:         cfg.BundleExtensions,
		measurementSchema: cfg.MeasurementSchema,
		analysisSchema:    cfg.AnalysisSchema,
		metrics:           metrics,
		logger:            log,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Layout returns the artifact layout the service writes to.
func (s *Service) Layout() artifacts.Layout {
	return s.layout
}

// MeasurementSchema returns the metadata schema of measurements.
func (s *Service) MeasurementSchema() metadata.Schema {
	return s.measurementSchema
}

// AnalysisSchema returns the metadata schema of analyses.
func (s *Service) AnalysisSchema() metadata.Schema {
	return s.analysisSchema
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.logger)
}

// parseID parses the id of an entity of type typ.
func parseID(typ, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.InvalidInput("Invalid %s id %q", typ, raw)
	}
	return id, nil
}

// storeErr maps repository errors to API errors.
func storeErr(err error, typ string, id uuid.UUID) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound(typ, id.String())
	case errors.Is(err, store.ErrReferenced):
		return apperrors.Forbidden("Item cannot be removed because it is associated with a job")
	default:
		return err
	}
}

// parseMetadata decodes raw and sets it on a holder governed by schema.
func parseMetadata(raw string, schema metadata.Schema) (metadata.Value, error) {
	v, err := metadata.Parse(raw)
	if err != nil {
		return nil, apperrors.InvalidInput("%s", err.Error())
	}
	h := metadata.New(schema)
	if err := h.Set(v); err != nil {
		return nil, apperrors.InvalidInput("%s", err.Error())
	}
	return h.Get(), nil
}

// dateLayouts are tried in order when parsing form dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.InvalidInput("Invalid %s %q", field, raw)
}

// removeDir deletes an entity directory and logs failures. It is used after
// the rows are gone, when the request can no longer fail.
func (s *Service) removeDir(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.log(ctx).Error("failed to remove directory", "dir", dir, "error", err)
	}
}

func rollback(tx store.Tx) {
	_ = tx.Rollback()
}

func commit(tx store.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
