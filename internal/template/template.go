// Package template validates analysis input and output templates and
// enforces their immutability once jobs reference the analysis.
package template

import (
	"encoding/json"
	"strings"

	"analysisweb/internal/apperrors"
	"analysisweb/internal/store"
)

// Direction selects the allowed kinds of a template.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

func (d Direction) allowed() []store.TemplateKind {
	if d == Output {
		return []store.TemplateKind{store.KindTable, store.KindFigure}
	}
	return []store.TemplateKind{store.KindValue, store.KindFile}
}

// RawItem is a template entry as submitted. Nil fields were not supplied.
type RawItem struct {
	Label *string `json:"label"`
	Kind  *string `json:"type"`
}

// ParseItems decodes form values such as {'label': 'x', 'type': 'value'}.
// Single quotes are accepted in place of double quotes.
func ParseItems(raw []string) ([]RawItem, error) {
	items := make([]RawItem, 0, len(raw))
	for _, r := range raw {
		var item RawItem
		if err := json.Unmarshal([]byte(strings.ReplaceAll(r, "'", `"`)), &item); err != nil {
			return nil, apperrors.InvalidInput("Invalid template item %q", r)
		}
		items = append(items, item)
	}
	return items, nil
}

// ValidateItem requires both label and type, and the type to be one of
// the kinds allowed for d, ignoring case. The returned kind is lower case.
func ValidateItem(item RawItem, d Direction) (store.TemplateItem, error) {
	if item.Label == nil || item.Kind == nil {
		return store.TemplateItem{}, apperrors.InvalidInput("Missing input")
	}

	kind := store.TemplateKind(strings.ToLower(*item.Kind))
	for _, k := range d.allowed() {
		if k == kind {
			return store.TemplateItem{Label: *item.Label, Kind: kind}, nil
		}
	}

	allowed := d.allowed()
	return store.TemplateItem{}, apperrors.InvalidInput("%s type must be either '%s' or '%s'",
		titleCase(d.String()), allowed[0], allowed[1])
}

// ValidateItems validates every item in order and stops at the first error.
// Labels must be unique within d.
func ValidateItems(items []RawItem, d Direction) ([]store.TemplateItem, error) {
	out := make([]store.TemplateItem, 0, len(items))
	for _, item := range items {
		v, err := ValidateItem(item, d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := UniqueLabels(out, d); err != nil {
		return nil, err
	}
	return out, nil
}

// UniqueLabels rejects templates in which two items share a label.
func UniqueLabels(items []store.TemplateItem, d Direction) error {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.Label] {
			return apperrors.InvalidInput("Duplicate %s label %q", d, item.Label)
		}
		seen[item.Label] = true
	}
	return nil
}

// CanReplace reports whether the templates of a may be fully replaced,
// which is the case until a job references it.
func CanReplace(a *store.Analysis) bool {
	return len(a.Jobs) == 0
}

// ValidateEdit checks edits against the frozen templates of an analysis
// that is referenced by jobs: the count must match and every supplied kind
// must match the existing kind at its position, ignoring case.
func ValidateEdit(existing []store.TemplateItem, edits []RawItem, d Direction) error {
	if len(edits) != len(existing) {
		return apperrors.Forbidden("Cannot add/remove %s for analysis associated with job (expected %d, got %d)",
			d, len(existing), len(edits))
	}
	for i, e := range edits {
		if e.Kind != nil && !strings.EqualFold(*e.Kind, string(existing[i].Kind)) {
			return apperrors.Forbidden("Cannot change type of %s %q for analysis associated with job",
				d, existing[i].Label)
		}
	}
	return nil
}

// ApplyLabels returns a copy of existing with labels taken from edits.
// Edits without a label keep the existing one. Call ValidateEdit first.
func ApplyLabels(existing []store.TemplateItem, edits []RawItem) []store.TemplateItem {
	out := make([]store.TemplateItem, len(existing))
	copy(out, existing)
	for i := range out {
		if i < len(edits) && edits[i].Label != nil {
			out[i].Label = *edits[i].Label
		}
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
