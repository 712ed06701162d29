package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ilvar/espg/internal/dsl"
	"github.com/ilvar/espg/internal/eserr"
)

// Field is one flattened mapping entry. Nested properties use dotted names.
type Field struct {
	Type   string
	Name   string
	Kind   string
	Format string
}

// ParseMappings reads the "mappings" section of a create-index body. Both the
// typeless {"properties": {...}} form and the legacy {"<type>": {"properties":
// {...}}} form are accepted.
func ParseMappings(raw json.RawMessage) ([]Field, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("mappings: %v", err)
	}
	if props, ok := obj.Get("properties"); ok {
		return flattenProperties(DefaultType, "", props)
	}
	var out []Field
	for _, typeName := range obj.Keys {
		typeObj, err := dsl.ParseObject(obj.Fields[typeName])
		if err != nil {
			return nil, eserr.Parsing("mappings [%s]: %v", typeName, err)
		}
		props, ok := typeObj.Get("properties")
		if !ok {
			continue
		}
		fields, err := flattenProperties(typeName, "", props)
		if err != nil {
			return nil, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

func flattenProperties(typeName, prefix string, raw json.RawMessage) ([]Field, error) {
	props, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("properties: %v", err)
	}
	var out []Field
	for _, name := range props.Keys {
		var def struct {
			Type       string          `json:"type"`
			Format     string          `json:"format"`
			Properties json.RawMessage `json:"properties"`
		}
		if err := dsl.Decode(props.Fields[name], &def); err != nil {
			return nil, eserr.Parsing("mapping for [%s]: %v", prefix+name, err)
		}
		if len(def.Properties) > 0 {
			nested, err := flattenProperties(typeName, prefix+name+".", def.Properties)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		if def.Type == "" {
			return nil, eserr.Parsing("no type specified for field [%s]", prefix+name)
		}
		out = append(out, Field{Type: typeName, Name: prefix + name, Kind: def.Type, Format: def.Format})
	}
	return out, nil
}

// InferFields derives mappings for a document the way dynamic mapping does:
// integers map to long, decimals to double, RFC 3339 strings to date.
func InferFields(typeName string, source map[string]any) []Field {
	var out []Field
	inferInto(&out, typeName, "", source)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func inferInto(out *[]Field, typeName, prefix string, source map[string]any) {
	for name, value := range source {
		if nested, ok := value.(map[string]any); ok {
			inferInto(out, typeName, prefix+name+".", nested)
			continue
		}
		if kind := inferKind(value); kind != "" {
			*out = append(*out, Field{Type: typeName, Name: prefix + name, Kind: kind})
		}
	}
}

func inferKind(value any) string {
	switch v := value.(type) {
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			return "double"
		}
		return "long"
	case float64:
		return "double"
	case int, int64:
		return "long"
	case bool:
		return "boolean"
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return "date"
		}
		if _, err := time.Parse(time.DateOnly, v); err == nil {
			return "date"
		}
		return "text"
	case []any:
		for _, item := range v {
			if kind := inferKind(item); kind != "" {
				return kind
			}
		}
	}
	return ""
}

// PutFields records mappings for index. Explicit mappings replace existing
// entries; inferred ones never override what is already there.
func (c *Catalog) PutFields(ctx context.Context, index string, fields []Field, explicit bool) error {
	if len(fields) == 0 {
		return nil
	}
	conflict := "DO NOTHING"
	if explicit {
		conflict = "DO UPDATE SET field_type = EXCLUDED.field_type, field_format = EXCLUDED.field_format"
	}
	values := make([]any, 0, len(fields)*5)
	placeholders := make([]string, 0, len(fields))
	for i, f := range fields {
		var format any
		if f.Format != "" {
			format = f.Format
		}
		values = append(values, index, f.Type, f.Name, f.Kind, format)
		base := i*5 + 1
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4))
	}
	sql := fmt.Sprintf(`
		INSERT INTO es_mappings (index_name, type_name, field, field_type, field_format)
		VALUES %s
		ON CONFLICT (index_name, type_name, field) %s
	`, strings.Join(placeholders, ", "), conflict)
	if _, err := c.db.Exec(ctx, sql, values...); err != nil {
		return fmt.Errorf("put mappings for %s: %w", index, err)
	}
	c.cache.Purge()
	return nil
}

// Fields returns every mapping entry of index ordered by type and field.
func (c *Catalog) Fields(ctx context.Context, index string) ([]Field, error) {
	rows, err := c.db.Query(ctx, `
		SELECT type_name, field, field_type, COALESCE(field_format, '')
		FROM es_mappings
		WHERE index_name = $1
		ORDER BY type_name, field
	`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.Type, &f.Name, &f.Kind, &f.Format); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func objectNode(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	props, ok := m["properties"].(map[string]any)
	return props, ok
}

// objectProperties returns the properties of the object field name under
// node, creating it or replacing a leaf definition of the same name.
func objectProperties(node map[string]any, name string) map[string]any {
	if props, ok := objectNode(node[name]); ok {
		return props
	}
	props := map[string]any{}
	node[name] = map[string]any{"properties": props}
	return props
}

// MappingBody renders fields back into the nested "properties" shape. Entries
// of the default type are returned typeless.
func MappingBody(fields []Field) map[string]any {
	byType := map[string]map[string]any{}
	for _, f := range fields {
		props, ok := byType[f.Type]
		if !ok {
			props = map[string]any{}
			byType[f.Type] = props
		}
		parts := strings.Split(f.Name, ".")
		node := props
		for _, part := range parts[:len(parts)-1] {
			node = objectProperties(node, part)
		}
		leaf := parts[len(parts)-1]
		if _, isObject := objectNode(node[leaf]); isObject {
			// A field that also holds sub-fields is rendered as an object.
			continue
		}
		def := map[string]any{"type": f.Kind}
		if f.Format != "" {
			def["format"] = f.Format
		}
		node[leaf] = def
	}

	if len(byType) == 0 {
		return map[string]any{"properties": map[string]any{}}
	}
	if props, ok := byType[DefaultType]; ok && len(byType) == 1 {
		return map[string]any{"properties": props}
	}
	out := map[string]any{}
	for typeName, props := range byType {
		out[typeName] = map[string]any{"properties": props}
	}
	return out
}
