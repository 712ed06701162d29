// Package dsl holds the JSON plumbing shared by the query and aggregation
// parsers: key-ordered objects and loose scalar coercion.
package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Object is a decoded JSON object that remembers the order its keys appeared
// in. Aggregation results depend on that order.
type Object struct {
	Keys   []string
	Fields map[string]json.RawMessage
}

// ParseObject decodes raw as a JSON object. A null or empty input yields an
// empty object.
func ParseObject(raw []byte) (*Object, error) {
	obj := &Object{Fields: map[string]json.RawMessage{}}
	if IsNull(raw) {
		return obj, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected json object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", key, err)
		}
		if _, seen := obj.Fields[key]; !seen {
			obj.Keys = append(obj.Keys, key)
		}
		obj.Fields[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return obj, nil
}

func (o *Object) Get(key string) (json.RawMessage, bool) {
	v, ok := o.Fields[key]
	return v, ok
}

func (o *Object) Len() int {
	return len(o.Keys)
}

// Single returns the only key/value pair of a one-field object such as
// {"status": "ok"}.
func (o *Object) Single() (string, json.RawMessage, error) {
	if len(o.Keys) != 1 {
		return "", nil, fmt.Errorf("expected exactly one field, got %d", len(o.Keys))
	}
	return o.Keys[0], o.Fields[o.Keys[0]], nil
}

// IsNull reports whether raw is absent, blank or the JSON null literal.
func IsNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsObject reports whether raw holds a JSON object.
func IsObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Decode unmarshals raw keeping numbers as json.Number.
func Decode(raw []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(target)
}

// Value decodes raw into a generic value.
func Value(raw []byte) (any, error) {
	if IsNull(raw) {
		return nil, nil
	}
	var v any
	if err := Decode(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// String decodes a scalar as its textual form. Numbers keep their literal
// spelling so 10.50 stays "10.50".
func String(raw []byte) (string, error) {
	v, err := Value(raw)
	if err != nil {
		return "", err
	}
	switch value := v.(type) {
	case string:
		return value, nil
	case json.Number:
		return value.String(), nil
	case bool:
		return strconv.FormatBool(value), nil
	case nil:
		return "", errors.New("expected scalar, got null")
	default:
		return "", fmt.Errorf("expected scalar, got %T", v)
	}
}

// Strings decodes either a single scalar or an array of scalars.
func Strings(raw []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if IsNull(trimmed) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		s, err := String(trimmed)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := String(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ToInt coerces loosely typed JSON values to int.
func ToInt(value any, fallback int) int {
	switch v := value.(type) {
	case json.Number:
		if number, err := v.Int64(); err == nil {
			return int(number)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

// ToFloat coerces numeric values, including numeric strings, to float64.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
