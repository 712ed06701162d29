package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ilvar/espg/internal/dsl"
	"github.com/ilvar/espg/internal/eserr"
)

type parseFunc func(body json.RawMessage) (Query, error)

var registry map[string]parseFunc

func init() {
	registry = map[string]parseFunc{
		"bool":                parseBool,
		"dis_max":             parseDisMax,
		"exists":              parseExists,
		"filtered":            parseFiltered,
		"ids":                 parseIds,
		"match_all":           parseMatchAll,
		"match_phrase_prefix": parseMatchPhrasePrefix,
		"match_phrase":        parseMatchPhrase,
		"match":               parseMatch,
		"prefix":              parsePrefix,
		"query_string":        parseQueryString,
		"range":               parseRange,
		"regexp":              parseRegexp,
		"term":                parseTerm,
		"type":                parseType,
		"wildcard":            parseWildcard,
	}
}

// Parse builds a query tree from a JSON query clause. A null or empty clause
// is match-all; an unknown clause is an UnsupportedQueryType error.
func Parse(raw []byte) (Query, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("malformed query: %v", err)
	}
	if obj.Len() == 0 {
		return MatchAll{}, nil
	}
	for _, key := range obj.Keys {
		if fn, ok := registry[key]; ok {
			q, err := fn(obj.Fields[key])
			if err != nil {
				return nil, fmt.Errorf("[%s] %w", key, err)
			}
			return q, nil
		}
	}
	if inner, ok := obj.Get("query"); ok {
		return Parse(inner)
	}
	return nil, eserr.UnsupportedQueryType(obj.Keys[0])
}

func parseList(raw json.RawMessage) ([]Query, error) {
	if dsl.IsNull(raw) {
		return nil, nil
	}
	if dsl.IsObject(raw) {
		q, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		return []Query{q}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, eserr.Parsing("expected query or array of queries")
	}
	out := make([]Query, 0, len(items))
	for _, item := range items {
		q, err := Parse(item)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func parseMatchAll(json.RawMessage) (Query, error) {
	return MatchAll{}, nil
}

func parseBool(raw json.RawMessage) (Query, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("malformed bool query: %v", err)
	}
	q := Bool{MinimumShouldMatch: DefaultMinimumShouldMatch, Boost: 1}
	lists := map[string]*[]Query{
		"must":     &q.Must,
		"filter":   &q.Filter,
		"must_not": &q.MustNot,
		"should":   &q.Should,
	}
	for _, key := range obj.Keys {
		value := obj.Fields[key]
		if dst, ok := lists[key]; ok {
			if *dst, err = parseList(value); err != nil {
				return nil, err
			}
			continue
		}
		switch key {
		case "minimum_should_match":
			msm, err := dsl.String(value)
			if err != nil {
				return nil, eserr.Parsing("minimum_should_match: %v", err)
			}
			if _, err := ResolveMinimumShouldMatch(msm, 1); err != nil {
				return nil, eserr.Parsing("%v", err)
			}
			q.MinimumShouldMatch = msm
		case "boost":
			v, _ := dsl.Value(value)
			if f, ok := dsl.ToFloat(v); ok {
				q.Boost = f
			}
		}
	}
	return q, nil
}

func parseDisMax(raw json.RawMessage) (Query, error) {
	var body struct {
		Queries    json.RawMessage `json:"queries"`
		TieBreaker float64         `json:"tie_breaker"`
	}
	if err := dsl.Decode(raw, &body); err != nil {
		return nil, eserr.Parsing("malformed dis_max query: %v", err)
	}
	queries, err := parseList(body.Queries)
	if err != nil {
		return nil, err
	}
	return DisMax{Queries: queries, TieBreaker: body.TieBreaker}, nil
}

func parseFiltered(raw json.RawMessage) (Query, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("malformed filtered query: %v", err)
	}
	q := Filtered{Query: MatchAll{}, Filter: MatchAll{}}
	if inner, ok := obj.Get("query"); ok {
		if q.Query, err = Parse(inner); err != nil {
			return nil, err
		}
	}
	if filter, ok := obj.Get("filter"); ok {
		if q.Filter, err = Parse(filter); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func parseExists(raw json.RawMessage) (Query, error) {
	var body struct {
		Field string `json:"field"`
	}
	if err := dsl.Decode(raw, &body); err != nil || body.Field == "" {
		return nil, eserr.Parsing("exists query requires field")
	}
	return Exists{Field: body.Field}, nil
}

func parseIds(raw json.RawMessage) (Query, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return nil, eserr.Parsing("malformed ids query: %v", err)
	}
	var q Ids
	if values, ok := obj.Get("values"); ok {
		if q.Values, err = dsl.Strings(values); err != nil {
			return nil, eserr.Parsing("ids values: %v", err)
		}
	}
	if types, ok := obj.Get("type"); ok {
		if q.Types, err = dsl.Strings(types); err != nil {
			return nil, eserr.Parsing("ids type: %v", err)
		}
	}
	return q, nil
}

func parseType(raw json.RawMessage) (Query, error) {
	var body struct {
		Value string `json:"value"`
	}
	if err := dsl.Decode(raw, &body); err != nil || body.Value == "" {
		return nil, eserr.Parsing("type query requires value")
	}
	return Type{Value: body.Value}, nil
}

// fieldBody unpacks the {"field": value} and {"field": {...options}} shapes
// shared by the single-field queries.
func fieldBody(raw json.RawMessage) (string, json.RawMessage, error) {
	obj, err := dsl.ParseObject(raw)
	if err != nil {
		return "", nil, eserr.Parsing("malformed query body: %v", err)
	}
	var field string
	var value json.RawMessage
	for _, key := range obj.Keys {
		switch key {
		case "boost", "_name", "rewrite":
			continue
		}
		if field != "" {
			return "", nil, eserr.Parsing("query does not support multiple fields [%s, %s]", field, key)
		}
		field, value = key, obj.Fields[key]
	}
	if field == "" {
		return "", nil, eserr.Parsing("query requires a field")
	}
	return field, value, nil
}

// fieldValue reads a single-field query whose value is either a scalar or an
// object carrying one of keys.
func fieldValue(raw json.RawMessage, keys ...string) (string, string, *dsl.Object, error) {
	field, value, err := fieldBody(raw)
	if err != nil {
		return "", "", nil, err
	}
	if !dsl.IsObject(value) {
		s, err := dsl.String(value)
		if err != nil {
			return "", "", nil, eserr.Parsing("[%s] %v", field, err)
		}
		return field, s, nil, nil
	}
	opts, err := dsl.ParseObject(value)
	if err != nil {
		return "", "", nil, eserr.Parsing("[%s] %v", field, err)
	}
	for _, key := range keys {
		if v, ok := opts.Get(key); ok {
			s, err := dsl.String(v)
			if err != nil {
				return "", "", nil, eserr.Parsing("[%s] %s: %v", field, key, err)
			}
			return field, s, opts, nil
		}
	}
	return "", "", nil, eserr.Parsing("[%s] requires one of [%s]", field, strings.Join(keys, ", "))
}

func parseTerm(raw json.RawMessage) (Query, error) {
	field, value, _, err := fieldValue(raw, "value", "term")
	if err != nil {
		return nil, err
	}
	return Term{Field: field, Value: value}, nil
}

func parsePrefix(raw json.RawMessage) (Query, error) {
	field, value, _, err := fieldValue(raw, "value", "prefix")
	if err != nil {
		return nil, err
	}
	return Prefix{Field: field, Value: value}, nil
}

func parseWildcard(raw json.RawMessage) (Query, error) {
	field, value, _, err := fieldValue(raw, "value", "wildcard")
	if err != nil {
		return nil, err
	}
	return Wildcard{Field: field, Pattern: value}, nil
}

func parseRegexp(raw json.RawMessage) (Query, error) {
	field, value, _, err := fieldValue(raw, "value")
	if err != nil {
		return nil, err
	}
	return Regexp{Field: field, Pattern: value}, nil
}

func parseMatch(raw json.RawMessage) (Query, error) {
	field, text, opts, err := fieldValue(raw, "query")
	if err != nil {
		return nil, err
	}
	q := Match{Field: field, Text: text, Operator: "OR"}
	if opts == nil {
		return q, nil
	}
	if v, ok := opts.Get("operator"); ok {
		op, err := dsl.String(v)
		if err != nil || (!strings.EqualFold(op, "and") && !strings.EqualFold(op, "or")) {
			return nil, eserr.Parsing("[%s] operator must be AND or OR", field)
		}
		q.Operator = strings.ToUpper(op)
	}
	if v, ok := opts.Get("type"); ok {
		typ, _ := dsl.String(v)
		switch typ {
		case "phrase":
			q.Mode = MatchPhraseMode
		case "phrase_prefix":
			q.Mode = MatchPhrasePrefixMode
		case "boolean", "":
		default:
			return nil, eserr.Parsing("[%s] unknown match type [%s]", field, typ)
		}
	}
	return q, nil
}

func parseMatchPhrase(raw json.RawMessage) (Query, error) {
	field, text, _, err := fieldValue(raw, "query")
	if err != nil {
		return nil, err
	}
	return MatchPhrase{Field: field, Phrase: text}, nil
}

func parseMatchPhrasePrefix(raw json.RawMessage) (Query, error) {
	field, text, _, err := fieldValue(raw, "query")
	if err != nil {
		return nil, err
	}
	return MatchPhrasePrefix{Field: field, Phrase: text}, nil
}

func parseRange(raw json.RawMessage) (Query, error) {
	field, value, err := fieldBody(raw)
	if err != nil {
		return nil, err
	}
	opts, err := dsl.ParseObject(value)
	if err != nil {
		return nil, eserr.Parsing("[%s] range requires an object", field)
	}
	q := Range{Field: field}
	bounds := map[string]**Bound{
		"gte": &q.GTE,
		"gt":  &q.GT,
		"lte": &q.LTE,
		"lt":  &q.LT,
	}
	for _, key := range opts.Keys {
		dst, ok := bounds[key]
		if !ok {
			continue
		}
		b, err := parseBound(opts.Fields[key])
		if err != nil {
			return nil, eserr.Parsing("[%s] %s: %v", field, key, err)
		}
		*dst = b
	}

	// Legacy from/to with include_lower/include_upper.
	includeLower, includeUpper := true, true
	if v, ok := opts.Get("include_lower"); ok {
		s, _ := dsl.String(v)
		includeLower = s != "false"
	}
	if v, ok := opts.Get("include_upper"); ok {
		s, _ := dsl.String(v)
		includeUpper = s != "false"
	}
	if v, ok := opts.Get("from"); ok && q.GT == nil && q.GTE == nil {
		b, err := parseBound(v)
		if err != nil {
			return nil, eserr.Parsing("[%s] from: %v", field, err)
		}
		if includeLower {
			q.GTE = b
		} else {
			q.GT = b
		}
	}
	if v, ok := opts.Get("to"); ok && q.LT == nil && q.LTE == nil {
		b, err := parseBound(v)
		if err != nil {
			return nil, eserr.Parsing("[%s] to: %v", field, err)
		}
		if includeUpper {
			q.LTE = b
		} else {
			q.LT = b
		}
	}
	return q, nil
}

func parseBound(raw json.RawMessage) (*Bound, error) {
	if dsl.IsNull(raw) {
		return nil, nil
	}
	v, err := dsl.Value(raw)
	if err != nil {
		return nil, err
	}
	switch value := v.(type) {
	case json.Number:
		return &Bound{Value: value.String(), Numeric: true}, nil
	case string:
		return &Bound{Value: value}, nil
	default:
		return nil, fmt.Errorf("unsupported bound %T", v)
	}
}

func parseQueryString(raw json.RawMessage) (Query, error) {
	var body struct {
		Query           string   `json:"query"`
		DefaultField    string   `json:"default_field"`
		Fields          []string `json:"fields"`
		DefaultOperator string   `json:"default_operator"`
	}
	if err := dsl.Decode(raw, &body); err != nil {
		return nil, eserr.Parsing("malformed query_string query: %v", err)
	}
	return QueryString{
		Query:           body.Query,
		DefaultField:    body.DefaultField,
		Fields:          body.Fields,
		DefaultOperator: body.DefaultOperator,
	}, nil
}
