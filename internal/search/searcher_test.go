package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/metrics"
)

func newSearcher(t *testing.T, sc *scripted, indices ...catalog.Index) (*Searcher, *fakeSessions) {
	t.Helper()
	sessions := &fakeSessions{conn: sc.conn()}
	resolver := &fakeResolver{indices: indices, mappings: map[string]fieldMapping{"ts": {typ: "date"}}}
	return NewSearcher(resolver, sessions, newEngine(t, 4)), sessions
}

func TestSearchMatchAllUsesDirectPagination(t *testing.T) {
	sc := newScripted()
	sc.rows["SELECT _index, _type, _id, _source FROM data WHERE _index IN ('logs') ORDER BY _index, _id OFFSET 1 LIMIT 2"] = [][]any{
		{"logs", "_doc", "2", []byte(`{"n": 2}`)},
		{"logs", "_doc", "3", []byte(`{"n": 3, "tags": ["a"]}`)},
	}
	s, sessions := newSearcher(t, sc, catalog.Index{Name: "logs"})

	resp, err := s.Search(context.Background(), Request{IndexPattern: "logs", Body: []byte(`{"from": 1, "size": 2}`)})
	require.NoError(t, err)

	assert.Equal(t, int64(2), resp.Hits.Total)
	assert.Equal(t, 1.0, resp.Hits.MaxScore)
	require.Len(t, resp.Hits.Hits, 2)
	assert.Equal(t, Hit{Index: "logs", Type: "_doc", ID: "2", Score: 1.0, Source: map[string]any{"n": json.Number("2")}}, resp.Hits.Hits[0])
	assert.Equal(t, Shards{Total: 1, Successful: 1}, resp.Shards)
	assert.Nil(t, resp.Aggregations)
	assert.True(t, sessions.released)
	assert.False(t, sessions.broken)
}

func TestSearchMaterializedCursorSkipsRows(t *testing.T) {
	sc := newScripted()
	var rows [][]any
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		rows = append(rows, []any{"logs", "_doc", id, []byte(`{}`)})
	}
	sc.rows["SELECT _index, _type, _id, _source FROM tmp_*"] = rows
	s, sessions := newSearcher(t, sc, catalog.Index{Name: "logs"})

	before := testutil.ToFloat64(metrics.TempRelationsActive)
	resp, err := s.Search(context.Background(), Request{
		IndexPattern: "logs",
		Body:         []byte(`{"query": {"term": {"a": "b"}}, "from": 1, "size": 2}`),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), resp.Hits.Total)
	require.Len(t, resp.Hits.Hits, 2)
	assert.Equal(t, "2", resp.Hits.Hits[0].ID)
	assert.Equal(t, "3", resp.Hits.Hits[1].ID)

	stmts := sessions.conn.Statements()
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TEMP TABLE tmp_"))
	assert.True(t, strings.HasPrefix(stmts[len(stmts)-1], "DROP TABLE IF EXISTS tmp_"))
	assert.Equal(t, before, testutil.ToFloat64(metrics.TempRelationsActive))
}

func TestSearchCountOnlyWithAggregations(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := newScripted()
	sc.scalars["SELECT COUNT(*) FROM data WHERE _index IN ('a', 'b')"] = int64(42)
	sc.rows["SELECT date_trunc('day', (_source->>'ts')::timestamptz), COUNT(*) FROM data WHERE (_index IN ('a', 'b')) AND (_source->>'ts' IS NOT NULL) GROUP BY 1 ORDER BY 1"] =
		[][]any{{jan, int64(42)}}
	s, _ := newSearcher(t, sc, catalog.Index{Name: "a"}, catalog.Index{Name: "b"})

	resp, err := s.Search(context.Background(), Request{
		IndexPattern: "*",
		Body:         []byte(`{"size": 0, "aggs": {"h": {"date_histogram": {"field": "ts", "interval": "day"}}}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.Hits.Total)
	assert.Empty(t, resp.Hits.Hits)
	assert.NotNil(t, resp.Hits.Hits)
	assert.Equal(t, map[string]any{"h": map[string]any{"buckets": []map[string]any{
		{"key": jan.UnixMilli(), "key_as_string": "2024-01-01T00:00:00.000Z", "doc_count": int64(42)},
	}}}, resp.Aggregations)
}

func TestSearchIndexNotFound(t *testing.T) {
	s, sessions := newSearcher(t, newScripted(), catalog.Index{Name: "logs"})
	_, err := s.Search(context.Background(), Request{IndexPattern: "missing-*"})
	var e *eserr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 404, e.Status)
	assert.Equal(t, "index_not_found_exception", e.Type)
	assert.False(t, sessions.released)
}

func TestSearchReleasesSessionOnAggregationError(t *testing.T) {
	s, sessions := newSearcher(t, newScripted(), catalog.Index{Name: "logs"})
	_, err := s.Search(context.Background(), Request{
		IndexPattern: "logs",
		Body:         []byte(`{"query": {"term": {"a": "b"}}, "aggs": {"h": {"date_histogram": {"field": "missing", "interval": "day"}}}}`),
	})
	assert.ErrorIs(t, err, eserr.ErrNoSuchMapping)
	assert.True(t, sessions.released)
	assert.Contains(t, sessions.conn.Statements()[len(sessions.conn.Statements())-1], "DROP TABLE IF EXISTS")
}

func TestSearchWrapsStoreFailures(t *testing.T) {
	sc := newScripted()
	sessions := &fakeSessions{conn: sc.conn()}
	sessions.conn.ExecFn = func(sql string, _ []any) error {
		if strings.HasPrefix(sql, "CREATE") {
			return errors.New("relation does not exist")
		}
		return nil
	}
	resolver := &fakeResolver{indices: []catalog.Index{{Name: "logs", Distributed: true}}}
	s := NewSearcher(resolver, sessions, newEngine(t, 0))

	_, err := s.Search(context.Background(), Request{IndexPattern: "logs"})
	var e *eserr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 500, e.Status)
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestExplain(t *testing.T) {
	s, _ := newSearcher(t, newScripted(), catalog.Index{Name: "logs", Distributed: true})
	stmts, err := s.Explain(context.Background(), Request{IndexPattern: "logs", Body: []byte(`{"size": 0}`)})
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TEMP TABLE espg_tmp_"))
	assert.True(t, strings.HasSuffix(stmts[1], "AS hit_results"))
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 123e6, time.UTC)
	tests := []struct {
		format string
		want   string
	}{
		{"", "2024-03-05T14:07:09.123Z"},
		{"epoch_millis", "1709647629123"},
		{"epoch_second", "1709647629"},
		{"date", "2024-03-05"},
		{"yyyy-MM-dd HH:mm", "2024-03-05 14:07"},
		{"dd/MM/yyyy||epoch_millis", "05/03/2024"},
		{"yyyy-MM-dd'T'HH:mm:ss.SSS'Z'", "2024-03-05T14:07:09.123Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDate(ts, tt.format), tt.format)
	}
}
