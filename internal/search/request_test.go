package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/query"
)

func intPtr(n int) *int { return &n }

func TestParseRequestDefaults(t *testing.T) {
	req, err := ParseRequest(nil, Params{})
	require.NoError(t, err)
	assert.True(t, req.Query.IsMatchAll())
	assert.True(t, req.Aggregations.Empty())
	assert.Equal(t, DefaultFrom, req.From)
	assert.Equal(t, DefaultSize, req.Size)
}

func TestParseRequestBody(t *testing.T) {
	body := `{"query": {"term": {"status": "ok"}}, "from": 5, "size": "20",
		"aggregations": {"avg_price": {"avg": {"field": "price"}}}, "sort": ["_doc"]}`
	req, err := ParseRequest([]byte(body), Params{})
	require.NoError(t, err)
	assert.Equal(t, query.Term{Field: "status", Value: "ok"}, req.Query)
	assert.Equal(t, 5, req.From)
	assert.Equal(t, 20, req.Size)
	require.Len(t, req.Aggregations.Children, 1)
	assert.Equal(t, "avg_price", req.Aggregations.Children[0].Name())
	assert.Equal(t, body, req.Source)
}

func TestParseRequestURLOverrides(t *testing.T) {
	req, err := ParseRequest([]byte(`{"from": 5, "size": 20}`), Params{From: intPtr(1), Size: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, req.From)
	assert.Equal(t, 0, req.Size)
}

func TestParseRequestQueryParameter(t *testing.T) {
	req, err := ParseRequest(nil, Params{Q: "title:go", DefaultOperator: "and"})
	require.NoError(t, err)
	assert.Equal(t, query.QueryString{Query: "title:go", DefaultOperator: "and"}, req.Query)

	req, err = ParseRequest([]byte(`{"query": {"term": {"a": "b"}}}`), Params{Q: "go"})
	require.NoError(t, err)
	b, ok := req.Query.(query.Bool)
	require.True(t, ok)
	assert.Len(t, b.Must, 2)

	req, err = ParseRequest([]byte(`{"query": {"term": {"a": "b"}}}`), Params{Q: "*"})
	require.NoError(t, err)
	assert.Equal(t, query.Term{Field: "a", Value: "b"}, req.Query)
}

func TestParseRequestRejectsBadInput(t *testing.T) {
	_, err := ParseRequest([]byte(`{"size": -1}`), Params{})
	assert.ErrorIs(t, err, eserr.ErrParsing)

	_, err = ParseRequest([]byte(`{"from": "abc"}`), Params{})
	assert.ErrorIs(t, err, eserr.ErrParsing)

	_, err = ParseRequest([]byte(`[1]`), Params{})
	assert.ErrorIs(t, err, eserr.ErrParsing)

	_, err = ParseRequest([]byte(`{"query": {"multi_match": {}}}`), Params{})
	assert.ErrorIs(t, err, eserr.ErrUnsupportedQueryType)

	_, err = ParseRequest([]byte(`{"aggs": {"x": {"terms": {"field": "a"}}}}`), Params{})
	assert.ErrorIs(t, err, eserr.ErrUnsupportedAggregationType)
}

func TestRequestHash(t *testing.T) {
	a, err := ParseRequest([]byte(`{"size": 1}`), Params{})
	require.NoError(t, err)
	b, err := ParseRequest([]byte(`{"size": 1}`), Params{})
	require.NoError(t, err)
	c, err := ParseRequest([]byte(`{"size": 2}`), Params{})
	require.NoError(t, err)
	d, err := ParseRequest([]byte(`{"size": 1}`), Params{From: intPtr(3)})
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
	assert.NotEqual(t, a.Hash, d.Hash)
}
