// Package schema implements the JSON-Schema subset used for tool input and
// output contracts: typed validation with well-defined coercions, defaults,
// and structured field errors. Full-document well-formedness of raw schemas
// is delegated to the jsonschema compiler at registration time.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Type is a JSON-Schema primitive type.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
)

func (t Type) valid() bool {
	switch t {
	case TypeObject, TypeArray, TypeString, TypeNumber, TypeBoolean, TypeNull:
		return true
	default:
		return false
	}
}

// Schema is one node of the supported JSON-Schema subset.
type Schema struct {
	Type        Type               `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	Default     any                `json:"default,omitempty"`
	Description string             `json:"description,omitempty"`
	OneOf       []*Schema          `json:"oneOf,omitempty"`
}

// Parse decodes a raw JSON document into a Schema.
func Parse(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema document")
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &s, nil
}

// Check verifies the schema itself is well-formed: known types, compilable
// patterns, coherent bounds. Returns field errors with code INVALID_SCHEMA.
func (s *Schema) Check() []FieldError {
	var errs []FieldError
	s.check("", &errs)
	return errs
}

func (s *Schema) check(path string, errs *[]FieldError) {
	if s == nil {
		return
	}
	if s.Type != "" && !s.Type.valid() {
		*errs = append(*errs, FieldError{
			Path:    path,
			Code:    CodeInvalidSchema,
			Message: fmt.Sprintf("unknown type %q", s.Type),
		})
	}
	if s.Pattern != "" {
		if _, err := regexp.Compile(s.Pattern); err != nil {
			*errs = append(*errs, FieldError{
				Path:    path,
				Code:    CodeInvalidSchema,
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
	if s.Minimum != nil && s.Maximum != nil && *s.Minimum > *s.Maximum {
		*errs = append(*errs, FieldError{
			Path:    path,
			Code:    CodeInvalidSchema,
			Message: "minimum greater than maximum",
		})
	}
	if s.MinLength != nil && s.MaxLength != nil && *s.MinLength > *s.MaxLength {
		*errs = append(*errs, FieldError{
			Path:    path,
			Code:    CodeInvalidSchema,
			Message: "minLength greater than maxLength",
		})
	}
	for name, prop := range s.Properties {
		prop.check(joinPath(path, name), errs)
	}
	if s.Items != nil {
		s.Items.check(path+"[]", errs)
	}
	for i, branch := range s.OneOf {
		branch.check(fmt.Sprintf("%s<oneOf:%d>", path, i), errs)
	}
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
