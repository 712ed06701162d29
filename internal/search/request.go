// Package search executes Elasticsearch-style search requests against
// PostgreSQL: it plans the SQL for the hits, runs the aggregation tree and
// assembles the response envelope.
package search

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/ilvar/espg/internal/aggregation"
	"github.com/ilvar/espg/internal/dsl"
	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/query"
)

const (
	DefaultFrom = 0
	DefaultSize = 10
)

// RequestBodySearch is a parsed search request.
type RequestBodySearch struct {
	Source       string
	Hash         uint64
	Query        query.Query
	Aggregations *aggregation.Root
	From         int
	Size         int
}

// Params are the URL parameters that supplement or override the body.
type Params struct {
	Q               string
	DefaultField    string
	DefaultOperator string
	From            *int
	Size            *int
}

// ParseRequest decodes a search body. Keys the engine does not act on, such
// as sort or _source filtering, are ignored.
func ParseRequest(body []byte, params Params) (*RequestBodySearch, error) {
	obj, err := dsl.ParseObject(body)
	if err != nil {
		return nil, eserr.Parsing("failed to parse search source: %v", err)
	}

	req := &RequestBodySearch{
		Source: string(body),
		From:   DefaultFrom,
		Size:   DefaultSize,
	}

	raw, _ := obj.Get("query")
	if req.Query, err = query.Parse(raw); err != nil {
		return nil, err
	}

	aggs, ok := obj.Get("aggs")
	if !ok {
		aggs, _ = obj.Get("aggregations")
	}
	if req.Aggregations, err = aggregation.Parse(aggs); err != nil {
		return nil, err
	}

	if req.From, err = intField(obj, "from", req.From); err != nil {
		return nil, err
	}
	if req.Size, err = intField(obj, "size", req.Size); err != nil {
		return nil, err
	}
	if params.From != nil {
		req.From = *params.From
	}
	if params.Size != nil {
		req.Size = *params.Size
	}
	if req.From < 0 {
		return nil, eserr.Parsing("[from] parameter cannot be negative")
	}
	if req.Size < 0 {
		return nil, eserr.Parsing("[size] parameter cannot be negative")
	}

	if params.Q != "" {
		qs := query.QueryString{
			Query:           params.Q,
			DefaultField:    params.DefaultField,
			DefaultOperator: params.DefaultOperator,
		}
		switch {
		case qs.IsMatchAll():
		case req.Query.IsMatchAll():
			req.Query = qs
		default:
			req.Query = query.Bool{Must: []query.Query{req.Query, qs}, MinimumShouldMatch: query.DefaultMinimumShouldMatch}
		}
	}

	d := xxhash.New()
	_, _ = d.WriteString(req.Source)
	_, _ = d.WriteString("\x00" + params.Q + "\x00" + strconv.Itoa(req.From) + "\x00" + strconv.Itoa(req.Size))
	req.Hash = d.Sum64()
	return req, nil
}

func intField(obj *dsl.Object, key string, fallback int) (int, error) {
	raw, ok := obj.Get(key)
	if !ok || dsl.IsNull(raw) {
		return fallback, nil
	}
	v, err := dsl.Value(raw)
	if err != nil {
		return 0, eserr.Parsing("[%s] %v", key, err)
	}
	const invalid = -1 << 31
	n := dsl.ToInt(v, invalid)
	if n == invalid {
		return 0, eserr.Parsing("[%s] must be an integer", key)
	}
	return n, nil
}
