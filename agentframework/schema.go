// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// GenerateSchema derives a JSON Schema from T, normally a struct. Field
// names follow json tags. A jsonschema tag adds description=..., enum=a|b
// and required.
func GenerateSchema[T any]() json.RawMessage {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Interface {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	b, _ := json.Marshal(schemaForType(t))
	return b
}

func schemaForType(t reflect.Type) map[string]any {
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{
			"type":  "array",
			"items": schemaForType(t.Elem()),
		}
	case reflect.Pointer:
		return schemaForType(t.Elem())
	case reflect.Struct:
		return schemaForStruct(t)
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return map[string]any{
				"type":                 "object",
				"additionalProperties": schemaForType(t.Elem()),
			}
		}
		return map[string]any{"type": "object"}
	default:
		return map[string]any{"type": "string"}
	}
}

func schemaForStruct(t reflect.Type) map[string]any {
	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		if n, _, _ := strings.Cut(jsonTag, ","); n != "" {
			name = n
		}

		prop := schemaForType(field.Type)

		for _, part := range strings.Split(field.Tag.Get("jsonschema"), ",") {
			key, val, _ := strings.Cut(part, "=")
			key, val = strings.TrimSpace(key), strings.TrimSpace(val)
			switch key {
			case "description":
				prop["description"] = val
			case "required":
				required = append(required, name)
			case "enum":
				enumVals := strings.Split(val, "|")
				anyVals := make([]any, len(enumVals))
				for j, ev := range enumVals {
					anyVals[j] = strings.TrimSpace(ev)
				}
				prop["enum"] = anyVals
			}
		}

		properties[name] = prop
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// validateArguments checks tool-call arguments against a parameter schema.
// It understands the subset of JSON Schema that [GenerateSchema] and
// [ResponseFormat.JSONSchema] emit: type (single or list), properties,
// required, enum, items and additionalProperties. An empty schema accepts
// anything; empty arguments are treated as {}.
func validateArguments(schema, args json.RawMessage) []string {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}
	var s map[string]any
	if err := json.Unmarshal(schema, &s); err != nil {
		return []string{"parameter schema is not valid JSON: " + err.Error()}
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return []string{"arguments are not valid JSON: " + err.Error()}
	}

	var problems []string
	validateValue(s, v, "$", &problems)
	return problems
}

func validateValue(s map[string]any, v any, path string, problems *[]string) {
	if types := schemaTypes(s); len(types) > 0 {
		matched := false
		for _, typ := range types {
			if matchesType(typ, v) {
				matched = true
				break
			}
		}
		if !matched {
			*problems = append(*problems, fmt.Sprintf("%s: expected %s, got %s", path, strings.Join(types, " or "), jsonTypeName(v)))
			return
		}
	}

	if enum, ok := s["enum"].([]any); ok && len(enum) > 0 {
		found := false
		for _, e := range enum {
			if fmt.Sprint(e) == fmt.Sprint(v) {
				found = true
				break
			}
		}
		if !found {
			*problems = append(*problems, fmt.Sprintf("%s: %v is not one of %v", path, v, enum))
		}
	}

	switch val := v.(type) {
	case map[string]any:
		props, _ := s["properties"].(map[string]any)
		if req, ok := s["required"].([]any); ok {
			for _, r := range req {
				name, _ := r.(string)
				if _, present := val[name]; !present {
					*problems = append(*problems, fmt.Sprintf("%s: missing required field %q", path, name))
				}
			}
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if ps, ok := props[k].(map[string]any); ok {
				validateValue(ps, val[k], path+"."+k, problems)
				continue
			}
			switch extra := s["additionalProperties"].(type) {
			case bool:
				if !extra {
					*problems = append(*problems, fmt.Sprintf("%s: unexpected field %q", path, k))
				}
			case map[string]any:
				validateValue(extra, val[k], path+"."+k, problems)
			}
		}
	case []any:
		if items, ok := s["items"].(map[string]any); ok {
			for i, item := range val {
				validateValue(items, item, fmt.Sprintf("%s[%d]", path, i), problems)
			}
		}
	}
}

func schemaTypes(s map[string]any) []string {
	switch t := s["type"].(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if str, ok := x.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "null":
		return v == nil
	case "number":
		_, ok := v.(json.Number)
		return ok
	case "integer":
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Int64(); err == nil {
			return true
		}
		f, err := n.Float64()
		return err == nil && f == float64(int64(f))
	}
	return true
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
