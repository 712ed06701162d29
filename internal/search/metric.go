package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ilvar/espg/internal/query"
)

func textField(field string) string {
	return query.TextField(field)
}

func floatField(field string) string {
	return "(" + query.TextField(field) + ")::float8"
}

// scalar runs one aggregate expression over comp. An empty result is nil.
func (x *AggregationExec) scalar(ctx context.Context, comp QueryComponents, expr string) (any, error) {
	return x.Session.QueryScalar(ctx, comp.Select(expr))
}

func (x *AggregationExec) count(ctx context.Context, comp QueryComponents, expr string) (any, error) {
	v, err := x.scalar(ctx, comp, expr)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": toInt64(v)}, nil
}

// isDateField reports whether field is mapped as a date in the targeted
// indices. Date metrics are computed in epoch milliseconds.
func (x *AggregationExec) isDateField(ctx context.Context, field string) (bool, error) {
	if x.Mappings == nil {
		return false, nil
	}
	typ, ok, err := x.Mappings.FirstFieldType(ctx, x.Indices, x.Types, field)
	if err != nil {
		return false, err
	}
	return ok && typ == "date", nil
}

func epochMillis(field string) string {
	return "(EXTRACT(EPOCH FROM " + query.TimestampField(field, false) + ") * 1000)::float8"
}

func (x *AggregationExec) singleValue(ctx context.Context, comp QueryComponents, field, fn string) (any, error) {
	valueExpr := floatField(field)
	isDate := false
	if fn == "MIN" || fn == "MAX" {
		var err error
		if isDate, err = x.isDateField(ctx, field); err != nil {
			return nil, err
		}
		if isDate {
			valueExpr = epochMillis(field)
		}
	}

	expr := fn + "(" + valueExpr + ")"
	if fn == "SUM" {
		expr = "COALESCE(" + expr + ", 0)"
	}
	v, err := x.scalar(ctx, comp, expr+"::float8")
	if err != nil {
		return nil, err
	}
	out := map[string]any{"value": toFloat(v)}
	if f, ok := out["value"].(float64); ok && isDate {
		out["value_as_string"] = time.UnixMilli(int64(f)).UTC().Format(defaultDateLayout)
	}
	return out, nil
}

func (x *AggregationExec) stats(ctx context.Context, comp QueryComponents, field string) (any, error) {
	parts := []struct {
		key  string
		expr string
	}{
		{"count", "COUNT(" + textField(field) + ")"},
		{"min", "MIN(" + floatField(field) + ")"},
		{"max", "MAX(" + floatField(field) + ")"},
		{"avg", "AVG(" + floatField(field) + ")"},
		{"sum", "COALESCE(SUM(" + floatField(field) + "), 0)"},
	}
	out := make(map[string]any, len(parts))
	for _, p := range parts {
		v, err := x.scalar(ctx, comp, p.expr)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", p.key, err)
		}
		if p.key == "count" {
			out[p.key] = toInt64(v)
			continue
		}
		out[p.key] = toFloat(v)
	}
	return out, nil
}

func percentKey(p float64) string {
	s := strconv.FormatFloat(p, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func (x *AggregationExec) percentiles(ctx context.Context, comp QueryComponents, field string, percents []float64) (any, error) {
	exprs := make([]string, len(percents))
	for i, p := range percents {
		exprs[i] = fmt.Sprintf("percentile_cont(%s / 100.0) WITHIN GROUP (ORDER BY %s)",
			strconv.FormatFloat(p, 'f', -1, 64), floatField(field))
	}

	values := make(map[string]any, len(percents))
	for _, p := range percents {
		values[percentKey(p)] = nil
	}
	err := x.Session.QueryRows(ctx, comp.Select(strings.Join(exprs, ", ")), func(rows pgx.Rows) error {
		if !rows.Next() {
			return nil
		}
		row, err := rows.Values()
		if err != nil {
			return err
		}
		for i, p := range percents {
			if i < len(row) {
				values[percentKey(p)] = toFloat(row[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"values": values}, nil
}

func toFloat(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	}
	return nil
}
