package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ilvar/espg/internal/aggregation"
	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/query"
)

// bucketColumn is the date_trunc result added to materialized histograms.
const bucketColumn = "es_bucket"

// DateHistogramFieldTypes are the mapping types a date histogram accepts.
var DateHistogramFieldTypes = []string{"date", "long", "integer", "short", "byte", "double", "float"}

func boundLiteral(b *aggregation.RangeBound) string {
	return strconv.FormatFloat(b.Value, 'f', -1, 64)
}

// rangePredicate selects from <= field < to. Open ends are omitted.
func rangePredicate(field string, spec aggregation.RangeSpec) string {
	var parts []string
	if spec.From != nil {
		parts = append(parts, query.NumericField(field)+" >= "+boundLiteral(spec.From))
	}
	if spec.To != nil {
		parts = append(parts, query.NumericField(field)+" < "+boundLiteral(spec.To))
	}
	if len(parts) == 0 {
		return query.TextField(field) + " IS NOT NULL"
	}
	return strings.Join(parts, " AND ")
}

func (e *Engine) rangeBuckets(ctx context.Context, x *AggregationExec, a *aggregation.Range, comp QueryComponents) (any, error) {
	buckets := make([]map[string]any, 0, len(a.Ranges))
	for _, spec := range a.Ranges {
		bucket := map[string]any{"key": spec.Key}
		if spec.From != nil {
			bucket["from"] = spec.From.Number()
		}
		if spec.To != nil {
			bucket["to"] = spec.To.Number()
		}

		scoped := comp.And(rangePredicate(a.Field, spec))
		if len(a.Children) == 0 {
			n, err := x.scalar(ctx, scoped, "COUNT(*)")
			if err != nil {
				return nil, fmt.Errorf("range [%s] bucket %s: %w", a.Name(), spec.Key, err)
			}
			bucket["doc_count"] = toInt64(n)
			buckets = append(buckets, bucket)
			continue
		}

		inner, err := x.materialize(ctx, scoped, "*")
		if err != nil {
			return nil, err
		}
		n, err := x.scalar(ctx, inner, "COUNT(*)")
		if err != nil {
			return nil, err
		}
		bucket["doc_count"] = toInt64(n)
		children, err := e.evalLevel(ctx, x, a.Children, inner)
		if err != nil {
			return nil, err
		}
		for name, result := range children {
			bucket[name] = result
		}
		buckets = append(buckets, bucket)
	}

	if !a.Keyed {
		return map[string]any{"buckets": buckets}, nil
	}
	keyed := make(map[string]any, len(buckets))
	for _, b := range buckets {
		key := b["key"].(string)
		delete(b, "key")
		keyed[key] = b
	}
	return map[string]any{"buckets": keyed}, nil
}

func (e *Engine) dateHistogram(ctx context.Context, x *AggregationExec, a *aggregation.DateHistogram, comp QueryComponents) (any, error) {
	if x.Mappings == nil {
		return nil, eserr.NoSuchMapping(a.Field)
	}
	typ, ok, err := x.Mappings.FirstFieldType(ctx, x.Indices, x.Types, a.Field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eserr.NoSuchMapping(a.Field)
	}
	allowed := false
	for _, t := range DateHistogramFieldTypes {
		if t == typ {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, eserr.InvalidAggregationFieldType(DateHistogramFieldTypes, typ)
	}

	format := a.Format
	if format == "" {
		if f, ok, err := x.Mappings.FirstFieldFormat(ctx, x.Indices, x.Types, a.Field); err != nil {
			return nil, err
		} else if ok {
			format = f
		}
	}

	truncated := fmt.Sprintf("date_trunc(%s, %s)", query.Literal(a.Unit()), query.TimestampField(a.Field, typ != "date"))
	present := query.TextField(a.Field) + " IS NOT NULL"

	type bucket struct {
		key   time.Time
		count int64
		aggs  map[string]any
	}
	var found []*bucket

	if len(a.Children) == 0 {
		grouped := comp.And(present)
		grouped.GroupBy = "1"
		grouped.OrderBy = "1"
		err := x.Session.QueryRows(ctx, grouped.Select(truncated+", COUNT(*)"), func(rows pgx.Rows) error {
			for rows.Next() {
				b := &bucket{}
				if err := rows.Scan(&b.key, &b.count); err != nil {
					return err
				}
				found = append(found, b)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("date_histogram [%s]: %w", a.Name(), err)
		}
	} else {
		hist, err := x.materialize(ctx, comp.And(present), "*, "+truncated+" AS "+bucketColumn)
		if err != nil {
			return nil, err
		}
		distinct := hist
		distinct.OrderBy = bucketColumn
		err = x.Session.QueryRows(ctx, distinct.Select("DISTINCT "+bucketColumn), func(rows pgx.Rows) error {
			for rows.Next() {
				b := &bucket{}
				if err := rows.Scan(&b.key); err != nil {
					return err
				}
				found = append(found, b)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("date_histogram [%s]: %w", a.Name(), err)
		}

		for _, b := range found {
			literal := query.Literal(b.key.Format(time.RFC3339Nano)) + "::timestamptz"
			inner, err := x.materialize(ctx, hist.And(bucketColumn+" = "+literal), "*")
			if err != nil {
				return nil, err
			}
			n, err := x.scalar(ctx, inner, "COUNT(*)")
			if err != nil {
				return nil, err
			}
			b.count = toInt64(n)
			if b.aggs, err = e.evalLevel(ctx, x, a.Children, inner); err != nil {
				return nil, err
			}
		}
	}

	buckets := make([]map[string]any, 0, len(found))
	for _, b := range found {
		if b.count < int64(a.MinDocCount) {
			continue
		}
		out := map[string]any{
			"key":           b.key.UnixMilli(),
			"key_as_string": FormatDate(b.key, format),
			"doc_count":     b.count,
		}
		for name, result := range b.aggs {
			out[name] = result
		}
		buckets = append(buckets, out)
	}
	return map[string]any{"buckets": buckets}, nil
}
