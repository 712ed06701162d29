package aggregation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ilvar/espg/internal/dsl"
	"github.com/ilvar/espg/internal/eserr"
)

type parseFunc func(name string, body json.RawMessage) (Aggregation, error)

var registry = map[string]parseFunc{
	"avg":            metricParser(func(m metric) Aggregation { return Avg{m} }),
	"cardinality":    metricParser(func(m metric) Aggregation { return Cardinality{m} }),
	"min":            metricParser(func(m metric) Aggregation { return Min{m} }),
	"max":            metricParser(func(m metric) Aggregation { return Max{m} }),
	"stats":          metricParser(func(m metric) Aggregation { return Stats{m} }),
	"sum":            metricParser(func(m metric) Aggregation { return Sum{m} }),
	"value_count":    metricParser(func(m metric) Aggregation { return ValueCount{m} }),
	"percentiles":    parsePercentiles,
	"range":          parseRange,
	"date_histogram": parseDateHistogram,
}

// Parse builds the aggregation tree from the value of a request's aggs (or
// aggregations) key. Children keep the order they were written in.
func Parse(raw []byte) (*Root, error) {
	children, err := parseChildren(raw)
	if err != nil {
		return nil, err
	}
	return &Root{Children: children}, nil
}

func parseChildren(raw []byte) ([]Aggregation, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("malformed aggregations: %v", err)
	}
	children := make([]Aggregation, 0, obj.Len())
	for _, name := range obj.Keys {
		agg, err := parseOne(name, obj.Fields[name])
		if err != nil {
			return nil, err
		}
		children = append(children, agg)
	}
	return children, nil
}

func parseOne(name string, raw json.RawMessage) (Aggregation, error) {
	body, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("[%s] malformed aggregation: %v", name, err)
	}

	var agg Aggregation
	for _, key := range body.Keys {
		fn, ok := registry[key]
		if !ok {
			continue
		}
		if agg, err = fn(name, body.Fields[key]); err != nil {
			return nil, err
		}
		break
	}
	if agg == nil {
		return nil, eserr.UnsupportedAggregationType(name)
	}

	sub, ok := body.Get("aggs")
	if !ok {
		sub, ok = body.Get("aggregations")
	}
	if !ok {
		return agg, nil
	}

	children, err := parseChildren(sub)
	if err != nil {
		return nil, err
	}
	switch node := agg.(type) {
	case *Range:
		node.Children = children
	case *DateHistogram:
		node.Children = children
	default:
		if len(children) > 0 {
			return nil, eserr.Parsing("[%s] metric aggregations cannot accept sub-aggregations", name)
		}
	}
	return agg, nil
}

type fieldBody struct {
	Field string `json:"field"`
}

func decodeField(name string, raw json.RawMessage) (string, error) {
	var body fieldBody
	if err := dsl.Decode(raw, &body); err != nil {
		return "", eserr.Parsing("[%s] malformed aggregation body: %v", name, err)
	}
	if body.Field == "" {
		return "", eserr.Parsing("[%s] field is required", name)
	}
	return body.Field, nil
}

func metricParser(build func(metric) Aggregation) parseFunc {
	return func(name string, raw json.RawMessage) (Aggregation, error) {
		field, err := decodeField(name, raw)
		if err != nil {
			return nil, err
		}
		return build(metric{AggName: name, Field: field}), nil
	}
}

func parsePercentiles(name string, raw json.RawMessage) (Aggregation, error) {
	var body struct {
		Field    string    `json:"field"`
		Percents []float64 `json:"percents"`
	}
	if err := dsl.Decode(raw, &body); err != nil {
		return nil, eserr.Parsing("[%s] malformed percentiles: %v", name, err)
	}
	if body.Field == "" {
		return nil, eserr.Parsing("[%s] field is required", name)
	}
	percents := body.Percents
	if len(percents) == 0 {
		percents = append([]float64(nil), DefaultPercents...)
	}
	for _, p := range percents {
		if p < 0 || p > 100 {
			return nil, eserr.Parsing("[%s] percent %v out of range [0, 100]", name, p)
		}
	}
	return Percentiles{metric: metric{AggName: name, Field: body.Field}, Percents: percents}, nil
}

func parseRange(name string, raw json.RawMessage) (Aggregation, error) {
	var body struct {
		Field  string            `json:"field"`
		Keyed  bool              `json:"keyed"`
		Ranges []json.RawMessage `json:"ranges"`
	}
	if err := dsl.Decode(raw, &body); err != nil {
		return nil, eserr.Parsing("[%s] malformed range: %v", name, err)
	}
	if body.Field == "" {
		return nil, eserr.Parsing("[%s] field is required", name)
	}
	if len(body.Ranges) == 0 {
		return nil, eserr.Parsing("[%s] no ranges specified", name)
	}

	agg := &Range{AggName: name, Field: body.Field, Keyed: body.Keyed}
	for i, r := range body.Ranges {
		obj, err := dsl.ParseObject(r)
		if err != nil {
			return nil, eserr.Parsing("[%s] range %d: %v", name, i, err)
		}
		var spec RangeSpec
		if v, ok := obj.Get("key"); ok {
			spec.Key, _ = dsl.String(v)
		}
		if spec.From, err = parseRangeBound(obj, "from"); err != nil {
			return nil, eserr.Parsing("[%s] range %d: %v", name, i, err)
		}
		if spec.To, err = parseRangeBound(obj, "to"); err != nil {
			return nil, eserr.Parsing("[%s] range %d: %v", name, i, err)
		}
		if spec.Key == "" {
			spec.Key = rangeKey(spec)
		}
		agg.Ranges = append(agg.Ranges, spec)
	}
	return agg, nil
}

func parseRangeBound(obj *dsl.Object, key string) (*RangeBound, error) {
	raw, ok := obj.Get(key)
	if !ok || dsl.IsNull(raw) {
		return nil, nil
	}
	literal, err := dsl.String(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	value, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", key, literal)
	}
	return &RangeBound{Value: value, Double: strings.ContainsAny(literal, ".eE")}, nil
}

func formatBound(b *RangeBound) string {
	if b == nil {
		return "*"
	}
	if b.Double {
		return strconv.FormatFloat(b.Value, 'f', -1, 64)
	}
	return strconv.FormatInt(int64(b.Value), 10)
}

func rangeKey(spec RangeSpec) string {
	return formatBound(spec.From) + "-" + formatBound(spec.To)
}

func parseDateHistogram(name string, raw json.RawMessage) (Aggregation, error) {
	var body struct {
		Field            string `json:"field"`
		Interval         string `json:"interval"`
		CalendarInterval string `json:"calendar_interval"`
		FixedInterval    string `json:"fixed_interval"`
		Format           string `json:"format"`
		MinDocCount      *int   `json:"min_doc_count"`
	}
	if err := dsl.Decode(raw, &body); err != nil {
		return nil, eserr.Parsing("[%s] malformed date_histogram: %v", name, err)
	}
	if body.Field == "" {
		return nil, eserr.Parsing("[%s] field is required", name)
	}
	interval := body.Interval
	if body.CalendarInterval != "" {
		interval = body.CalendarInterval
	}
	if body.FixedInterval != "" {
		interval = body.FixedInterval
	}
	if interval == "" {
		return nil, eserr.Parsing("[%s] interval is required", name)
	}
	agg := &DateHistogram{
		AggName:     name,
		Field:       body.Field,
		Interval:    interval,
		Format:      body.Format,
		MinDocCount: 1,
	}
	if body.MinDocCount != nil {
		agg.MinDocCount = *body.MinDocCount
	}
	return agg, nil
}
