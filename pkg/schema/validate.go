package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

// ErrorCode identifies a validation failure class.
type ErrorCode string

const (
	CodeRequiredField   ErrorCode = "REQUIRED_FIELD"
	CodeTypeError       ErrorCode = "TYPE_ERROR"
	CodeMinLength       ErrorCode = "MIN_LENGTH"
	CodeMaxLength       ErrorCode = "MAX_LENGTH"
	CodePatternMismatch ErrorCode = "PATTERN_MISMATCH"
	CodeEnumMismatch    ErrorCode = "ENUM_MISMATCH"
	CodeMinValue        ErrorCode = "MIN_VALUE"
	CodeMaxValue        ErrorCode = "MAX_VALUE"
	CodeInvalidSchema   ErrorCode = "INVALID_SCHEMA"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
)

// FieldError describes one validation failure at a path within the value.
type FieldError struct {
	Path    string    `json:"path"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Value   any       `json:"value,omitempty"`
}

func (e FieldError) String() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s at %q: %s", e.Code, e.Path, e.Message)
}

// Warning records a coercion applied in non-strict mode.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Options tune validation behaviour.
type Options struct {
	// Strict turns coercions and additional object properties into errors.
	Strict bool
}

// Result is the outcome of a validation pass. Validation never returns a Go
// error for value failures; callers inspect OK and Errors.
type Result struct {
	OK       bool         `json:"ok"`
	Errors   []FieldError `json:"errors,omitempty"`
	Warnings []Warning    `json:"warnings,omitempty"`

	// Value is the possibly-coerced value with defaults filled in. Valid
	// even on failure for the parts that validated.
	Value any `json:"value,omitempty"`
}

// Validate checks value against s, applying coercions and defaults per the
// options. The schema is checked for well-formedness first; a malformed
// schema fails validation with INVALID_SCHEMA errors.
func Validate(value any, s *Schema, opts Options) Result {
	if s == nil {
		return Result{OK: true, Value: value}
	}
	if errs := s.Check(); len(errs) > 0 {
		return Result{OK: false, Errors: errs, Value: value}
	}
	v := &validator{opts: opts}
	out := v.validate(value, s, "")
	return Result{
		OK:       len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
		Value:    out,
	}
}

// ValidateOrFail is a convenience wrapper for callers that want error
// propagation instead of a result value.
func ValidateOrFail(value any, s *Schema, opts Options) (any, error) {
	res := Validate(value, s, opts)
	if res.OK {
		return res.Value, nil
	}
	details := make([]string, len(res.Errors))
	for i, fe := range res.Errors {
		details[i] = fe.String()
	}
	return res.Value, errcode.New(errcode.ValidationFailed, "schema validation failed").WithDetails(details...)
}

type validator struct {
	opts     Options
	errors   []FieldError
	warnings []Warning
}

func (v *validator) fail(path string, code ErrorCode, value any, format string, args ...any) {
	v.errors = append(v.errors, FieldError{
		Path:    path,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Value:   value,
	})
}

func (v *validator) warn(path, format string, args ...any) {
	v.warnings = append(v.warnings, Warning{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validate(value any, s *Schema, path string) any {
	if len(s.OneOf) > 0 {
		return v.validateOneOf(value, s, path)
	}

	if value == nil {
		if s.Type == TypeNull || s.Type == "" {
			return nil
		}
		v.fail(path, CodeTypeError, nil, "expected %s, got null", s.Type)
		return nil
	}

	switch s.Type {
	case TypeString:
		return v.validateString(value, s, path)
	case TypeNumber:
		return v.validateNumber(value, s, path)
	case TypeBoolean:
		return v.validateBoolean(value, s, path)
	case TypeArray:
		return v.validateArray(value, s, path)
	case TypeObject:
		return v.validateObject(value, s, path)
	case TypeNull:
		v.fail(path, CodeTypeError, value, "expected null")
		return value
	default:
		// No type constraint: only enum applies.
		v.checkEnum(value, s, path)
		return value
	}
}

func (v *validator) validateOneOf(value any, s *Schema, path string) any {
	for _, branch := range s.OneOf {
		sub := &validator{opts: v.opts}
		out := sub.validate(value, branch, path)
		if len(sub.errors) == 0 {
			v.warnings = append(v.warnings, sub.warnings...)
			return out
		}
	}
	v.fail(path, CodeValidationError, value, "value matches none of %d oneOf branches", len(s.OneOf))
	return value
}

func (v *validator) validateString(value any, s *Schema, path string) any {
	str, ok := value.(string)
	if !ok {
		v.fail(path, CodeTypeError, value, "expected string, got %T", value)
		return value
	}
	n := utf8.RuneCountInString(str)
	if s.MinLength != nil && n < *s.MinLength {
		v.fail(path, CodeMinLength, str, "length %d below minimum %d", n, *s.MinLength)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		v.fail(path, CodeMaxLength, str, "length %d above maximum %d", n, *s.MaxLength)
	}
	if s.Pattern != "" {
		// Pattern compiles: Check ran before validation.
		re := regexp.MustCompile(s.Pattern)
		if !re.MatchString(str) {
			v.fail(path, CodePatternMismatch, str, "value does not match pattern %q", s.Pattern)
		}
	}
	v.checkEnum(str, s, path)
	return str
}

func (v *validator) validateNumber(value any, s *Schema, path string) any {
	num, ok := toFloat(value)
	if !ok {
		str, isStr := value.(string)
		if isStr && !v.opts.Strict {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
			if err == nil && !math.IsInf(parsed, 0) && !math.IsNaN(parsed) {
				v.warn(path, "coerced string %q to number", str)
				num, ok = parsed, true
			}
		}
		if !ok {
			v.fail(path, CodeTypeError, value, "expected number, got %T", value)
			return value
		}
	}
	if s.Minimum != nil && num < *s.Minimum {
		v.fail(path, CodeMinValue, num, "value %v below minimum %v", num, *s.Minimum)
	}
	if s.Maximum != nil && num > *s.Maximum {
		v.fail(path, CodeMaxValue, num, "value %v above maximum %v", num, *s.Maximum)
	}
	v.checkEnum(num, s, path)
	return num
}

var (
	truthy = map[string]bool{"true": true, "1": true, "yes": true, "on": true}
	falsy  = map[string]bool{"false": true, "0": true, "no": true, "off": true}
)

func (v *validator) validateBoolean(value any, s *Schema, path string) any {
	b, ok := value.(bool)
	if !ok {
		str, isStr := value.(string)
		if isStr && !v.opts.Strict {
			lower := strings.ToLower(strings.TrimSpace(str))
			switch {
			case truthy[lower]:
				v.warn(path, "coerced string %q to boolean true", str)
				return true
			case falsy[lower]:
				v.warn(path, "coerced string %q to boolean false", str)
				return false
			}
		}
		v.fail(path, CodeTypeError, value, "expected boolean, got %T", value)
		return value
	}
	return b
}

func (v *validator) validateArray(value any, s *Schema, path string) any {
	arr, ok := value.([]any)
	if !ok {
		if str, isStr := value.(string); isStr && !v.opts.Strict {
			if parsed, err := parseJSONArray(str); err == nil {
				v.warn(path, "coerced JSON string to array")
				arr, ok = parsed, true
			}
		}
		if !ok && !v.opts.Strict && !isComposite(value) {
			v.warn(path, "wrapped scalar into single-element array")
			arr, ok = []any{value}, true
		}
		if !ok {
			v.fail(path, CodeTypeError, value, "expected array, got %T", value)
			return value
		}
	}
	if s.Items == nil {
		return arr
	}
	out := make([]any, len(arr))
	for i, item := range arr {
		out[i] = v.validate(item, s.Items, fmt.Sprintf("%s[%d]", path, i))
	}
	return out
}

func (v *validator) validateObject(value any, s *Schema, path string) any {
	obj, ok := value.(map[string]any)
	if !ok {
		if str, isStr := value.(string); isStr && !v.opts.Strict {
			if parsed, err := parseJSONObject(str); err == nil {
				v.warn(path, "coerced JSON string to object")
				obj, ok = parsed, true
			}
		}
		if !ok {
			v.fail(path, CodeTypeError, value, "expected object, got %T", value)
			return value
		}
	}

	out := make(map[string]any, len(obj))
	for key, val := range obj {
		prop, known := s.Properties[key]
		if !known {
			if v.opts.Strict && len(s.Properties) > 0 {
				v.fail(joinPath(path, key), CodeValidationError, val, "additional property not allowed")
				continue
			}
			out[key] = val
			continue
		}
		out[key] = v.validate(val, prop, joinPath(path, key))
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
		if _, present := obj[name]; !present {
			v.fail(joinPath(path, name), CodeRequiredField, nil, "required field missing")
		}
	}
	for name, prop := range s.Properties {
		if _, present := obj[name]; present || required[name] {
			continue
		}
		if prop != nil && prop.Default != nil {
			out[name] = prop.Default
		}
	}
	return out
}

func (v *validator) checkEnum(value any, s *Schema, path string) {
	if len(s.Enum) == 0 {
		return
	}
	for _, allowed := range s.Enum {
		if enumEqual(value, allowed) {
			return
		}
	}
	v.fail(path, CodeEnumMismatch, value, "value not in enum")
}

func enumEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return a == b
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func isComposite(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

func parseJSONArray(s string) ([]any, error) {
	var out []any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseJSONObject(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
