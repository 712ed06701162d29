// Package aggregation models the aggs section of a search request as a tree
// of metric leaves and bucket nodes.
package aggregation

import "strings"

// Aggregation is a node of the aggregation tree. The set of implementations
// is closed.
type Aggregation interface {
	Name() string
	sealed()
}

// Bucket is implemented by nodes that own sub-aggregations.
type Bucket interface {
	Aggregation
	SubAggregations() []Aggregation
}

type metric struct {
	AggName string
	Field   string
}

func (m metric) Name() string { return m.AggName }
func (metric) sealed()        {}

type Avg struct{ metric }
type Min struct{ metric }
type Max struct{ metric }
type Sum struct{ metric }
type Stats struct{ metric }
type Cardinality struct{ metric }
type ValueCount struct{ metric }

// DefaultPercents are reported when a percentiles aggregation names none.
var DefaultPercents = []float64{1, 5, 25, 50, 75, 95, 99}

type Percentiles struct {
	metric
	Percents []float64
}

// RangeBound is one end of a range bucket. Double records whether the
// literal was written with a decimal point.
type RangeBound struct {
	Value  float64
	Double bool
}

// Number returns the bound typed the way it was written.
func (b *RangeBound) Number() any {
	if b.Double {
		return b.Value
	}
	return int64(b.Value)
}

type RangeSpec struct {
	Key  string
	From *RangeBound
	To   *RangeBound
}

type Range struct {
	AggName  string
	Field    string
	Ranges   []RangeSpec
	Keyed    bool
	Children []Aggregation
}

func (a *Range) Name() string                   { return a.AggName }
func (a *Range) SubAggregations() []Aggregation { return a.Children }
func (*Range) sealed()                          {}

type DateHistogram struct {
	AggName     string
	Field       string
	Interval    string
	Format      string
	MinDocCount int
	Children    []Aggregation
}

func (a *DateHistogram) Name() string                   { return a.AggName }
func (a *DateHistogram) SubAggregations() []Aggregation { return a.Children }
func (*DateHistogram) sealed()                          {}

// Unit maps the interval to a date_trunc unit. Calendar names are used
// directly; anything else is classified by its trailing unit letter.
func (a *DateHistogram) Unit() string {
	return TruncUnit(a.Interval)
}

// TruncUnit maps an Elasticsearch interval to a date_trunc unit, defaulting to
// seconds.
func TruncUnit(interval string) string {
	switch strings.ToLower(interval) {
	case "year", "quarter", "month", "week", "day", "hour", "minute", "second":
		return strings.ToLower(interval)
	}
	if interval == "" {
		return "second"
	}
	switch interval[len(interval)-1] {
	case 'y':
		return "year"
	case 'q':
		return "quarter"
	case 'M':
		return "month"
	case 'w':
		return "week"
	case 'd':
		return "day"
	case 'h':
		return "hour"
	case 'm':
		return "minute"
	}
	return "second"
}

// Root is the implicit top of the tree; it has no SQL of its own.
type Root struct {
	Children []Aggregation
}

func (*Root) Name() string                       { return "" }
func (r *Root) SubAggregations() []Aggregation { return r.Children }
func (*Root) sealed()                            {}

// Empty reports whether the request asked for no aggregations.
func (r *Root) Empty() bool {
	return r == nil || len(r.Children) == 0
}
