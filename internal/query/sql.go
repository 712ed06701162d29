package query

import (
	"strings"
)

// Columns every stored document carries next to its JSON payload.
const (
	ColumnIndex  = "_index"
	ColumnType   = "_type"
	ColumnID     = "_id"
	ColumnSource = "_source"
)

func isMetaField(field string) bool {
	switch field {
	case ColumnIndex, ColumnType, ColumnID:
		return true
	}
	return false
}

// Literal renders s as a SQL string literal. Values are interpolated, not
// bound, so embedded quotes are doubled.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Ident quotes a relation or column name.
func Ident(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func pathLiteral(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, `"`, `\"`)
		if strings.ContainsAny(parts[i], `,{} `) {
			parts[i] = `"` + parts[i] + `"`
		}
	}
	return Literal("{" + strings.Join(parts, ",") + "}")
}

// TextField is the SQL expression reading field as text. Dotted names walk
// nested objects.
func TextField(field string) string {
	if isMetaField(field) {
		return field
	}
	if strings.Contains(field, ".") {
		return ColumnSource + "#>>" + pathLiteral(field)
	}
	return ColumnSource + "->>" + Literal(field)
}

// NumericField is the SQL expression reading field as a number.
func NumericField(field string) string {
	return "(" + TextField(field) + ")::numeric"
}

// TimestampField reads field as a timestamp. Numeric mappings hold epoch
// milliseconds.
func TimestampField(field string, numeric bool) string {
	if numeric {
		return "to_timestamp((" + TextField(field) + ")::float8 / 1000)"
	}
	return "(" + TextField(field) + ")::timestamptz"
}

// JSONField is the SQL expression reading field as jsonb.
func JSONField(field string) string {
	if isMetaField(field) {
		return "to_jsonb(" + field + ")"
	}
	if strings.Contains(field, ".") {
		return ColumnSource + "#>" + pathLiteral(field)
	}
	return ColumnSource + "->" + Literal(field)
}

func wrap(clauses []string) []string {
	out := make([]string, len(clauses))
	for i, c := range clauses {
		out[i] = "(" + c + ")"
	}
	return out
}

// sqlFalse renders a predicate that matches nothing.
const sqlFalse = "FALSE"

// wildcardToLike translates * and ? wildcards to LIKE syntax.
func wildcardToLike(pattern string) string {
	r := strings.NewReplacer("*", "%", "?", "_")
	return r.Replace(pattern)
}

// regexpToSimilar translates .* and . to SIMILAR TO syntax.
func regexpToSimilar(pattern string) string {
	out := strings.ReplaceAll(pattern, ".*", "%")
	return strings.ReplaceAll(out, ".", "_")
}
