package aggregation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvar/espg/internal/eserr"
)

func TestParseMetrics(t *testing.T) {
	root, err := Parse([]byte(`{
		"a": {"avg": {"field": "price"}},
		"b": {"min": {"field": "price"}},
		"c": {"max": {"field": "price"}},
		"d": {"sum": {"field": "price"}},
		"e": {"stats": {"field": "price"}},
		"f": {"cardinality": {"field": "user"}},
		"g": {"value_count": {"field": "user"}},
		"h": {"percentiles": {"field": "latency", "percents": [50, 99.9]}}
	}`))
	require.NoError(t, err)
	require.Len(t, root.Children, 8)

	names := make([]string, len(root.Children))
	for i, c := range root.Children {
		names[i] = c.Name()
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, names)

	assert.IsType(t, Avg{}, root.Children[0])
	assert.IsType(t, Min{}, root.Children[1])
	assert.IsType(t, Max{}, root.Children[2])
	assert.IsType(t, Sum{}, root.Children[3])
	assert.IsType(t, Stats{}, root.Children[4])
	assert.IsType(t, Cardinality{}, root.Children[5])
	assert.IsType(t, ValueCount{}, root.Children[6])
	assert.Equal(t, "price", root.Children[0].(Avg).Field)

	p := root.Children[7].(Percentiles)
	assert.Equal(t, []float64{50, 99.9}, p.Percents)
}

func TestParsePercentilesDefaults(t *testing.T) {
	root, err := Parse([]byte(`{"p": {"percentiles": {"field": "x"}}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultPercents, root.Children[0].(Percentiles).Percents)

	_, err = Parse([]byte(`{"p": {"percentiles": {"field": "x", "percents": [101]}}}`))
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	root, err := Parse([]byte(`{"prices": {"range": {"field": "price", "ranges": [
		{"to": 50},
		{"from": 50, "to": 100.5},
		{"from": 100.5, "key": "expensive"}
	]}}}`))
	require.NoError(t, err)
	r := root.Children[0].(*Range)
	require.Len(t, r.Ranges, 3)

	assert.Nil(t, r.Ranges[0].From)
	assert.Equal(t, int64(50), r.Ranges[0].To.Number())
	assert.Equal(t, "*-50", r.Ranges[0].Key)

	assert.Equal(t, int64(50), r.Ranges[1].From.Number())
	assert.Equal(t, 100.5, r.Ranges[1].To.Number())
	assert.Equal(t, "50-100.5", r.Ranges[1].Key)

	assert.Equal(t, "expensive", r.Ranges[2].Key)
	assert.Nil(t, r.Ranges[2].To)
}

func TestParseRangeRequiresRanges(t *testing.T) {
	_, err := Parse([]byte(`{"r": {"range": {"field": "price"}}}`))
	assert.True(t, errors.Is(err, eserr.ErrParsing))
}

func TestParseDateHistogramWithChildren(t *testing.T) {
	root, err := Parse([]byte(`{"per_month": {
		"date_histogram": {"field": "ts", "calendar_interval": "month", "min_doc_count": 0},
		"aggregations": {
			"z_total": {"sum": {"field": "amount"}},
			"a_split": {"range": {"field": "amount", "ranges": [{"to": 10}]},
				"aggs": {"avg_amount": {"avg": {"field": "amount"}}}}
		}
	}}`))
	require.NoError(t, err)
	h := root.Children[0].(*DateHistogram)
	assert.Equal(t, "month", h.Interval)
	assert.Equal(t, 0, h.MinDocCount)
	require.Len(t, h.Children, 2)
	assert.Equal(t, "z_total", h.Children[0].Name())
	assert.Equal(t, "a_split", h.Children[1].Name())
	assert.Len(t, h.Children[1].(*Range).Children, 1)
}

func TestParseDateHistogramDefaults(t *testing.T) {
	root, err := Parse([]byte(`{"h": {"date_histogram": {"field": "ts", "interval": "1d"}}}`))
	require.NoError(t, err)
	h := root.Children[0].(*DateHistogram)
	assert.Equal(t, 1, h.MinDocCount)
	assert.Equal(t, "day", h.Unit())

	_, err = Parse([]byte(`{"h": {"date_histogram": {"field": "ts"}}}`))
	assert.Error(t, err)
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse([]byte(`{"by_tag": {"terms": {"field": "tag"}}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, eserr.ErrUnsupportedAggregationType))
	assert.Contains(t, err.Error(), "by_tag")
}

func TestParseMetricRejectsChildren(t *testing.T) {
	_, err := Parse([]byte(`{"a": {"avg": {"field": "x"}, "aggs": {"b": {"max": {"field": "y"}}}}}`))
	assert.Error(t, err)
}

func TestParseMetricRequiresField(t *testing.T) {
	_, err := Parse([]byte(`{"a": {"avg": {}}}`))
	assert.Error(t, err)
}

func TestDuplicateNamesKeepLastDefinition(t *testing.T) {
	root, err := Parse([]byte(`{"x": {"avg": {"field": "a"}}, "x": {"max": {"field": "b"}}}`))
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.IsType(t, Max{}, root.Children[0])
}

func TestEmptyRoot(t *testing.T) {
	root, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, root.Empty())

	var nilRoot *Root
	assert.True(t, nilRoot.Empty())
}

func TestTruncUnit(t *testing.T) {
	cases := map[string]string{
		"year":    "year",
		"Quarter": "quarter",
		"month":   "month",
		"1M":      "month",
		"1m":      "minute",
		"90m":     "minute",
		"1w":      "week",
		"7d":      "day",
		"12h":     "hour",
		"30s":     "second",
		"1q":      "quarter",
		"2y":      "year",
		"500ms":   "second",
		"bogus":   "second",
		"":        "second",
	}
	for in, want := range cases {
		assert.Equal(t, want, TruncUnit(in), in)
	}
}
