package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvar/espg/internal/catalog"
)

func fixedName(uint64) string { return "tmp_req" }

func mustRequest(t *testing.T, body string) *RequestBodySearch {
	t.Helper()
	req, err := ParseRequest([]byte(body), Params{})
	require.NoError(t, err)
	return req
}

func partitioned(names ...string) Target {
	var t Target
	for _, n := range names {
		t.Indices = append(t.Indices, catalog.Index{Name: n})
	}
	return t
}

func distributed(names ...string) Target {
	var t Target
	for _, n := range names {
		t.Indices = append(t.Indices, catalog.Index{Name: n, Distributed: true})
	}
	return t
}

func TestBuilderFor(t *testing.T) {
	assert.IsType(t, PartitionedBuilder{}, BuilderFor(partitioned("a")))
	assert.IsType(t, DistributedBuilder{}, BuilderFor(distributed("a")))

	mixed := partitioned("a")
	mixed.Indices = append(mixed.Indices, catalog.Index{Name: "b", Distributed: true})
	assert.IsType(t, DistributedBuilder{}, BuilderFor(mixed))
}

func TestPartitionedMatchAllQueriesDataDirectly(t *testing.T) {
	plan := PartitionedBuilder{}.Build(mustRequest(t, `{}`), partitioned("a", "b"), fixedName)

	assert.Empty(t, plan.Temps)
	assert.False(t, plan.Cursor)
	assert.Equal(t, []string{
		"SELECT _index, _type, _id, _source FROM data WHERE _index IN ('a', 'b') ORDER BY _index, _id LIMIT 10",
	}, plan.Statements())
	assert.Equal(t, "SELECT COUNT(*) FROM data WHERE _index IN ('a', 'b')", plan.Base.Count())
}

func TestPartitionedMatchAllPagination(t *testing.T) {
	target := partitioned("a")
	target.Types = []string{"event"}
	plan := PartitionedBuilder{}.Build(mustRequest(t, `{"from": 5, "size": 3}`), target, fixedName)

	assert.Equal(t,
		"SELECT _index, _type, _id, _source FROM data WHERE _index IN ('a') AND _type IN ('event') ORDER BY _index, _id OFFSET 5 LIMIT 3",
		plan.Hits.Select(hitColumns))
}

func TestPartitionedCountOnly(t *testing.T) {
	plan := PartitionedBuilder{}.Build(mustRequest(t, `{"size": 0}`), partitioned("a"), fixedName)
	assert.True(t, plan.CountOnly)
	assert.Equal(t, []string{"SELECT COUNT(*) FROM data WHERE _index IN ('a')"}, plan.Statements())
}

func TestPartitionedQueryMaterializes(t *testing.T) {
	target := partitioned("a")
	target.Types = []string{"t"}
	plan := PartitionedBuilder{}.Build(mustRequest(t, `{"query": {"term": {"status": "ok"}}}`), target, fixedName)

	require.Len(t, plan.Temps, 1)
	assert.True(t, plan.Cursor)
	assert.Equal(t, []string{
		"CREATE TEMP TABLE tmp_req AS SELECT * FROM data WHERE _index IN ('a') AND (_source->>'status' = 'ok') AND _type IN ('t')",
		"SELECT _index, _type, _id, _source FROM tmp_req ORDER BY _index, _id",
	}, plan.Statements())
	assert.Equal(t, QueryComponents{From: "tmp_req", TempTables: []string{"tmp_req"}}, plan.Base)
}

func TestDistributedUnion(t *testing.T) {
	plan := DistributedBuilder{}.Build(mustRequest(t, `{"query": {"term": {"status": "ok"}}, "from": 2, "size": 3}`), distributed("a", "b"), fixedName)

	member := func(rel string) string {
		return "(SELECT _index, _type, _id, _source FROM " + rel + " WHERE (_source->>'status' = 'ok') ORDER BY _id LIMIT 5)"
	}
	assert.Equal(t, []string{
		"CREATE TEMP TABLE tmp_req AS SELECT * FROM (" + member(`"idx_a"`) + " UNION ALL " + member(`"idx_b"`) + ") AS hit_results",
		"SELECT _index, _type, _id, _source FROM tmp_req AS hit_results ORDER BY _index, _id",
	}, plan.Statements())
	assert.True(t, plan.Cursor)
	assert.Equal(t, "tmp_req AS hit_results", plan.Base.From)
}

func TestDistributedWithAggregationsKeepsAllRows(t *testing.T) {
	req := mustRequest(t, `{"aggs": {"n": {"value_count": {"field": "x"}}}}`)
	plan := DistributedBuilder{}.Build(req, distributed("a"), fixedName)
	assert.Equal(t,
		"SELECT * FROM ((SELECT _index, _type, _id, _source FROM \"idx_a\")) AS hit_results",
		plan.Temps[0].Select)
}

func TestDistributedCountOnly(t *testing.T) {
	plan := DistributedBuilder{}.Build(mustRequest(t, `{"size": 0}`), distributed("a"), fixedName)
	assert.Equal(t, []string{
		`CREATE TEMP TABLE tmp_req AS SELECT * FROM ((SELECT _index, _type, _id, _source FROM "idx_a")) AS hit_results`,
		"SELECT COUNT(*) FROM tmp_req AS hit_results",
	}, plan.Statements())
}

func TestQueryComponentsAnd(t *testing.T) {
	c := QueryComponents{From: "t", OrderBy: "x", Limit: "LIMIT 1"}
	assert.Equal(t, "SELECT * FROM t WHERE a", c.And("a").Select("*"))
	assert.Equal(t, "SELECT * FROM t WHERE (a) AND (b)", c.And("a").And("b").Select("*"))
	assert.Equal(t, "SELECT * FROM t", c.And("").Select("*"))
}
