// Optional external validation hook run before records are persisted.

package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/invopop/jsonschema"
)

// Validator checks a record before it is written. A non-nil error rejects the
// write with [CodeInvalidData].
type Validator interface {
	Validate(collection string, r Record) error
}

// ValidatorFunc adapts a function to [Validator].
type ValidatorFunc func(collection string, r Record) error

// Validate implements [Validator].
func (f ValidatorFunc) Validate(collection string, r Record) error {
	return f(collection, r)
}

// field is the expected shape of one record field.
type field struct {
	types    []string
	required bool
}

// SchemaValidator checks records of selected collections against the JSON
// schema reflected from Go struct types. Only required fields and top-level
// JSON types are enforced; unknown fields are accepted and nil is accepted
// for optional fields.
type SchemaValidator struct {
	schemas map[string]map[string]field
}

// NewSchemaValidator returns an empty validator. Collections without a
// registered schema always pass.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]map[string]field)}
}

// Register derives the schema of collection from v, a struct or pointer to
// struct. Fields without omitempty are required.
func (s *SchemaValidator) Register(collection string, v any) error {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("schema type must be a struct or pointer to struct, got %T", v)
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s.RegisterSchema(collection, r.ReflectFromType(t))
	return nil
}

// RegisterSchema installs schema, an object schema, for collection.
func (s *SchemaValidator) RegisterSchema(collection string, schema *jsonschema.Schema) {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	fields := make(map[string]field)
	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			fields[pair.Key] = field{types: schemaTypes(pair.Value), required: required[pair.Key]}
		}
	}
	s.schemas[collection] = fields
}

// LoadSchema parses a JSON schema document and installs it for collection.
func (s *SchemaValidator) LoadSchema(collection string, data []byte) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("invalid schema for %s: %w", collection, err)
	}
	if schema.Type != "" && schema.Type != "object" {
		return fmt.Errorf("schema for %s must describe an object, got %q", collection, schema.Type)
	}
	s.RegisterSchema(collection, &schema)
	return nil
}

func schemaTypes(p *jsonschema.Schema) []string {
	if p == nil {
		return nil
	}
	if p.Type != "" {
		return []string{p.Type}
	}
	var out []string
	for _, alt := range append(slices.Clone(p.AnyOf), p.OneOf...) {
		out = append(out, schemaTypes(alt)...)
	}
	return out
}

// Validate implements [Validator].
func (s *SchemaValidator) Validate(collection string, r Record) error {
	fields, ok := s.schemas[collection]
	if !ok {
		return nil
	}
	var errs []error
	for name, f := range fields {
		v, present := r[name]
		if !present || v == nil {
			if f.required && name != IDField {
				errs = append(errs, fmt.Errorf("field %q is required", name))
			}
			continue
		}
		if len(f.types) != 0 && !slices.ContainsFunc(f.types, func(t string) bool { return matchesType(t, v) }) {
			errs = append(errs, fmt.Errorf("field %q must be %v, got %T", name, f.types, v))
		}
	}
	return errors.Join(errs...)
}

func matchesType(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "null":
		return v == nil
	default:
		return true
	}
}
