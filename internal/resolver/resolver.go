// Package resolver type-checks the raw input tokens of a job submission
// against the input template of its analysis.
//
// Tokens are either literals or references:
//
//	$file:KEY     a file uploaded with the submission under form field KEY
//	$measurement  the file of the job's measurement labelled like the input
package resolver

import (
	"strings"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/artifacts"
	"analysisweb/internal/store"
)

const (
	referencePrefix   = "$"
	filePrefix        = "$file:"
	measurementPrefix = "$measurement"
)

// Resolved is one input after resolution.
type Resolved struct {
	Label  string
	Value  string
	Source store.InputSource

	// Upload is set when Source is store.SourceUpload and the file was
	// submitted with the job. The caller persists it as
	// job/{id}/input/{Value}.
	Upload *artifacts.Upload
}

// JobInput converts r into the stored row.
func (r Resolved) JobInput() store.JobInput {
	return store.JobInput{Label: r.Label, Value: r.Value, Source: r.Source}
}

// Resolve resolves tokens position by position in declaration order.
// measurement may be nil.
func Resolve(inputs []store.AnalysisInput, tokens []string, measurement *store.Measurement, uploads artifacts.Uploads) ([]Resolved, error) {
	if len(tokens) != len(inputs) {
		return nil, apperrors.InvalidInput("Too few or too many input values, expecting %d but got %d",
			len(inputs), len(tokens))
	}

	out := make([]Resolved, 0, len(inputs))
	seen := make(map[string]bool)
	for i, in := range inputs {
		r, err := resolveOne(in, tokens[i], measurement, uploads)
		if err != nil {
			return nil, err
		}
		if r.Upload != nil {
			if seen[r.Value] {
				return nil, apperrors.InvalidInput("Input %q: file name %q is used by more than one input", in.Label, r.Value)
			}
			seen[r.Value] = true
		}
		out = append(out, r)
	}
	return out, nil
}

func resolveOne(in store.AnalysisInput, token string, measurement *store.Measurement, uploads artifacts.Uploads) (Resolved, error) {
	r := Resolved{Label: in.Label}

	if in.Kind == store.KindValue {
		if strings.HasPrefix(token, referencePrefix) {
			return r, apperrors.InvalidInput("Input %q: expected value, found reference", in.Label)
		}
		r.Value, r.Source = token, store.SourceValue
		return r, nil
	}

	switch {
	case strings.HasPrefix(token, filePrefix):
		key := strings.TrimPrefix(token, filePrefix)
		r.Source = store.SourceUpload
		up, ok := uploads.Get(key)
		if !ok {
			// Not uploaded with this request: KEY names an already stored file.
			if !artifacts.IsPlainName(key) {
				return r, apperrors.InvalidInput("Input %q: invalid file name %q", in.Label, key)
			}
			r.Value = key
			return r, nil
		}
		name := artifacts.SecureFilename(up.Filename)
		if name == "" {
			return r, apperrors.InvalidInput("Input %q: invalid file name %q", in.Label, up.Filename)
		}
		r.Value = name
		r.Upload = &up
		return r, nil

	case strings.HasPrefix(token, measurementPrefix):
		if measurement == nil {
			return r, apperrors.InvalidInput("Input %q references a measurement but no measurement was given", in.Label)
		}
		f, ok := measurement.FileByLabel(in.Label)
		if !ok {
			return r, apperrors.InvalidInput("Input %q: no matching measurement label", in.Label)
		}
		r.Value, r.Source = f.Path, store.SourceMeasurement
		return r, nil

	default:
		// A literal on a file input names a file in the job's input directory.
		if !artifacts.IsPlainName(token) {
			return r, apperrors.InvalidInput("Input %q: invalid file name %q", in.Label, token)
		}
		r.Value, r.Source = token, store.SourceValue
		return r, nil
	}
}
