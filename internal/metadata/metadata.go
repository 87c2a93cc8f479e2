// Package metadata implements the metadata capability of measurements and
// analyses. The base schema carries no metadata; deployments may describe
// user-defined fields in a YAML schema file.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Value is a metadata document.
type Value map[string]any

// Holder is the metadata capability attached to an entity.
type Holder interface {
	Get() Value
	Set(Value) error
}

// Schema validates metadata documents and describes their fields.
type Schema interface {
	// Name identifies the entity the schema belongs to, e.g. "measurement".
	Name() string
	Fields() []Field
	Validate(Value) error
}

// Field describes one user-defined metadata field.
type Field struct {
	Name        string    `yaml:"name" json:"name"`
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Options     []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// InvalidError is returned when a metadata document does not fit its schema.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "Invalid metadata: " + e.Reason
}

// New returns a Holder for an entity governed by schema.
func New(schema Schema) Holder {
	return &holder{schema: schema, value: Value{}}
}

type holder struct {
	schema Schema
	value  Value
}

func (h *holder) Get() Value {
	return h.value
}

func (h *holder) Set(v Value) error {
	if v == nil {
		v = Value{}
	}
	if err := h.schema.Validate(v); err != nil {
		return err
	}
	h.value = v
	return nil
}

// Parse decodes raw form input. An empty string is an empty document.
func Parse(raw string) (Value, error) {
	if raw == "" {
		return Value{}, nil
	}
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &InvalidError{Reason: "meta_data must be a JSON object"}
	}
	return v, nil
}

// Encode serializes a metadata document for storage.
func Encode(v Value) json.RawMessage {
	if v == nil {
		v = Value{}
	}
	data, _ := json.Marshal(v)
	return data
}

// Decode parses a stored metadata document.
func Decode(raw json.RawMessage) Value {
	v := Value{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// Base is the schema of entities without user-defined metadata.
type Base struct {
	Entity string
}

func (b Base) Name() string    { return b.Entity }
func (b Base) Fields() []Field { return nil }

// Validate rejects every non-empty document.
func (b Base) Validate(v Value) error {
	if len(v) > 0 {
		return &InvalidError{Reason: fmt.Sprintf("%s does not have any metadata", b.Entity)}
	}
	return nil
}

// UserSchema is a schema loaded from a YAML file.
type UserSchema struct {
	Entity      string  `yaml:"entity"`
	FieldList   []Field `yaml:"fields"`
	AllowExtras bool    `yaml:"allow_extra_fields"`
}

func (s *UserSchema) Name() string    { return s.Entity }
func (s *UserSchema) Fields() []Field { return s.FieldList }

// Validate checks required fields, field types and, unless the schema
// allows extra fields, rejects unknown keys.
func (s *UserSchema) Validate(v Value) error {
	known := make(map[string]Field, len(s.FieldList))
	for _, f := range s.FieldList {
		known[f.Name] = f
		val, ok := v[f.Name]
		if !ok || val == nil {
			if f.Required {
				return &InvalidError{Reason: fmt.Sprintf("missing required field %q", f.Name)}
			}
			continue
		}
		if err := f.check(val); err != nil {
			return err
		}
	}

	if !s.AllowExtras {
		var unknown []string
		for k := range v {
			if _, ok := known[k]; !ok {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return &InvalidError{Reason: fmt.Sprintf("unknown field %q", unknown[0])}
		}
	}
	return nil
}

func (f Field) check(val any) error {
	bad := func() error {
		return &InvalidError{Reason: fmt.Sprintf("field %q must be of type %s", f.Name, f.Type)}
	}

	switch f.Type {
	case TypeString, "":
		s, ok := val.(string)
		if !ok {
			return bad()
		}
		if len(f.Options) > 0 && !contains(f.Options, s) {
			return &InvalidError{Reason: fmt.Sprintf("field %q must be one of %v", f.Name, f.Options)}
		}
	case TypeNumber:
		if _, ok := val.(float64); !ok {
			return bad()
		}
	case TypeInteger:
		n, ok := val.(float64)
		if !ok || n != float64(int64(n)) {
			return bad()
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return bad()
		}
	case TypeDate:
		s, ok := val.(string)
		if !ok {
			return bad()
		}
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return bad()
			}
		}
	default:
		return &InvalidError{Reason: fmt.Sprintf("field %q has unsupported type %s", f.Name, f.Type)}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// LoadSchema reads a YAML schema file for entity. An empty path yields the
// Base schema.
func LoadSchema(path, entity string) (Schema, error) {
	if path == "" {
		return Base{Entity: entity}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s metadata schema: %w", entity, err)
	}

	var s UserSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s metadata schema: %w", entity, err)
	}
	if s.Entity == "" {
		s.Entity = entity
	}

	seen := map[string]bool{}
	for _, f := range s.FieldList {
		if f.Name == "" {
			return nil, fmt.Errorf("%s metadata schema: field without a name", entity)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%s metadata schema: duplicate field %q", entity, f.Name)
		}
		seen[f.Name] = true
	}
	return &s, nil
}

// Describe returns the document served by the meta endpoints.
func Describe(s Schema) map[string]any {
	fields := s.Fields()
	if fields == nil {
		fields = []Field{}
	}
	return map[string]any{
		"entity": s.Name(),
		"fields": fields,
	}
}
