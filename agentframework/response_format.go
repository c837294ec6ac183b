// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldType is the value type of a [Field].
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// Field is one entry of a [ResponseFormat].
type Field struct {
	Name        string
	Type        FieldType
	Optional    bool
	Description string
}

// ResponseFormat describes the shape a final answer is coerced into. Fields
// are ordered; the order is used to map positional answers such as
// "Alex Morgan, 34, Software Engineer".
type ResponseFormat struct {
	Name        string
	Description string
	Fields      []Field
}

// NewResponseFormat creates a [ResponseFormat].
func NewResponseFormat(name string, fields ...Field) *ResponseFormat {
	return &ResponseFormat{Name: name, Fields: fields}
}

// Validate checks that field names are present and unique and that every
// type is known.
func (rf *ResponseFormat) Validate() error {
	if rf == nil {
		return nil
	}
	seen := make(map[string]bool, len(rf.Fields))
	for _, f := range rf.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: response format %q has a field without a name", ErrInitialization, rf.Name)
		}
		key := normalizeKey(f.Name)
		if seen[key] {
			return fmt.Errorf("%w: response format %q declares %q twice", ErrInitialization, rf.Name, f.Name)
		}
		seen[key] = true
		switch f.Type {
		case FieldString, FieldInteger, FieldNumber, FieldBoolean:
		default:
			return fmt.Errorf("%w: field %q has unsupported type %q", ErrInitialization, f.Name, f.Type)
		}
	}
	return nil
}

// JSONSchema renders the format as a JSON Schema object. Every field is
// listed as required; optional ones additionally accept null, which is the
// form strict structured-output modes expect.
func (rf *ResponseFormat) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(rf.Fields))
	required := make([]string, 0, len(rf.Fields))
	for _, f := range rf.Fields {
		p := map[string]any{"type": string(f.Type)}
		if f.Optional {
			p["type"] = []string{string(f.Type), "null"}
		}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
		required = append(required, f.Name)
	}
	b, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
	return b
}

// UnknownValue is the type of [Unknown].
type UnknownValue struct{}

// Unknown marks an optional field whose value could not be extracted.
var Unknown = UnknownValue{}

func (UnknownValue) String() string { return "unknown" }

// MarshalJSON encodes Unknown as null.
func (UnknownValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// StructuredValue is a coerced answer keyed by field name. Values are
// string, int, float64, bool or [Unknown].
type StructuredValue map[string]any

// Get returns the value for field.
func (v StructuredValue) Get(field string) (any, bool) {
	x, ok := v[field]
	return x, ok
}

// IsUnknown reports whether field is absent or set to [Unknown].
func (v StructuredValue) IsUnknown(field string) bool {
	x, ok := v[field]
	if !ok {
		return true
	}
	_, unknown := x.(UnknownValue)
	return unknown
}

// String returns field formatted as text. Unknown fields print as "unknown".
func (v StructuredValue) String(field string) string {
	x, ok := v[field]
	if !ok {
		return Unknown.String()
	}
	return fmt.Sprint(x)
}

// Int returns field as an int.
func (v StructuredValue) Int(field string) (int, bool) {
	x, ok := v[field].(int)
	return x, ok
}

// Float returns field as a float64. Integer fields are widened.
func (v StructuredValue) Float(field string) (float64, bool) {
	switch x := v[field].(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

// Bool returns field as a bool.
func (v StructuredValue) Bool(field string) (bool, bool) {
	x, ok := v[field].(bool)
	return x, ok
}

// Decode copies the value into a struct using its json tags. Unknown fields
// decode as null, leaving pointer fields nil.
func (v StructuredValue) Decode(into any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, into)
}

// Coerce extracts a [StructuredValue] matching rf from raw model output.
//
// Three shapes are recognised, in order: a JSON object (bare, in a fenced
// code block or embedded in prose), "key: value" lines, and comma or
// newline separated values taken in field order. Optional fields that are
// missing or fail to convert become [Unknown]. A required field that is
// missing or fails to convert returns a *[CoercionError].
//
// A nil rf yields a nil value and no error.
func Coerce(raw string, rf *ResponseFormat) (StructuredValue, error) {
	if rf == nil {
		return nil, nil
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}

	fields, ok := extractJSONObject(raw)
	if !ok {
		fields, ok = extractKeyValues(raw, rf)
	}
	if !ok {
		fields = extractPositional(raw, rf)
	}

	out := make(StructuredValue, len(rf.Fields))
	var failures []FieldError
	for _, f := range rf.Fields {
		val, present := fields[normalizeKey(f.Name)]
		if present && !isAbsent(val) {
			converted, err := convertField(val, f.Type)
			if err == nil {
				out[f.Name] = converted
				continue
			}
			if !f.Optional {
				failures = append(failures, FieldError{Field: f.Name, Reason: err.Error()})
				continue
			}
		} else if !f.Optional {
			failures = append(failures, FieldError{Field: f.Name, Reason: "missing"})
			continue
		}
		out[f.Name] = Unknown
	}
	if len(failures) > 0 {
		return nil, &CoercionError{Format: rf.Name, Fields: failures}
	}
	return out, nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

// extractJSONObject finds the first decodable JSON object in raw.
func extractJSONObject(raw string) (map[string]any, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		body = strings.TrimPrefix(body, "json")
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		if m, ok := decodeObject(body); ok {
			return m, true
		}
	}
	if m, ok := decodeObject(s); ok {
		return m, true
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return decodeObject(s[start : end+1])
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(s))))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[normalizeKey(k)] = v
	}
	return out, true
}

// extractKeyValues reads "key: value" lines. It only succeeds if at least
// one key names a field of rf.
func extractKeyValues(raw string, rf *ResponseFormat) (map[string]any, bool) {
	known := make(map[string]bool, len(rf.Fields))
	for _, f := range rf.Fields {
		known[normalizeKey(f.Name)] = true
	}
	out := make(map[string]any)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-*• ")
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = normalizeKey(strings.Trim(key, "*_ "))
		if known[key] {
			out[key] = strings.Trim(strings.TrimSpace(val), "*_")
		}
	}
	return out, len(out) > 0
}

// extractPositional maps separated values onto fields in declared order.
// Surplus values are joined into the last field when it is a string.
func extractPositional(raw string, rf *ResponseFormat) map[string]any {
	var parts []string
	for _, p := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "."))
		if p != "" {
			parts = append(parts, p)
		}
	}
	out := make(map[string]any, len(rf.Fields))
	for i, f := range rf.Fields {
		if i >= len(parts) {
			break
		}
		if i == len(rf.Fields)-1 && f.Type == FieldString && len(parts) > len(rf.Fields) {
			out[normalizeKey(f.Name)] = strings.Join(parts[i:], ", ")
			break
		}
		out[normalizeKey(f.Name)] = parts[i]
	}
	return out
}

func isAbsent(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "", "unknown", "null", "none", "n/a", "not specified", "not provided":
			return true
		}
	}
	return false
}

func convertField(v any, t FieldType) (any, error) {
	switch t {
	case FieldString:
		switch x := v.(type) {
		case string:
			return strings.TrimSpace(x), nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
		return nil, fmt.Errorf("expected string, got %s", jsonTypeName(v))
	case FieldInteger:
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("expected integer: %w", err)
		}
		if math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		if f < math.MinInt || f >= math.MaxInt {
			return nil, fmt.Errorf("integer %v out of range", f)
		}
		return int(f), nil
	case FieldNumber:
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("expected number: %w", err)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("expected finite number, got %v", f)
		}
		return f, nil
	case FieldBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "yes", "y":
				return true, nil
			case "false", "no", "n":
				return false, nil
			}
		}
		return nil, fmt.Errorf("expected boolean, got %v", v)
	}
	return nil, fmt.Errorf("unsupported type %q", t)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case string:
		s := strings.TrimSpace(x)
		if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' }); i > 0 {
			// "34 years old"
			s = s[:i]
		}
		return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	}
	return 0, fmt.Errorf("got %s", jsonTypeName(v))
}
