//go:build integration

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/gateway"
	"github.com/ilvar/espg/internal/metrics"
	"github.com/ilvar/espg/internal/search"
)

func requireDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	return url
}

func setupLiveApp(t *testing.T, distributed bool) *fiber.App {
	t.Helper()
	ctx := context.Background()
	pool, err := gateway.NewPool(ctx, requireDatabaseURL(t), "espg_it")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cat, err := catalog.New(pool.Querier(), distributed, 64)
	require.NoError(t, err)
	require.NoError(t, cat.EnsureSchema(ctx))

	engine, err := search.NewEngine(4)
	require.NoError(t, err)
	t.Cleanup(engine.Release)

	srv := newServer(cat, search.NewSearcher(cat, pool, engine))
	srv.ping = pool.Ping
	return srv.app()
}

func TestIntegrationIndexLifecycle(t *testing.T) {
	for _, distributed := range []bool{false, true} {
		t.Run(fmt.Sprintf("distributed=%v", distributed), func(t *testing.T) {
			app := setupLiveApp(t, distributed)
			index := fmt.Sprintf("books_%d", time.Now().UnixNano())

			resp, _ := do(t, app, http.MethodPut, "/"+index, `{"mappings":{"properties":{"published":{"type":"date"}}}}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			t.Cleanup(func() { do(t, app, http.MethodDelete, "/"+index, "") })

			resp, _ = do(t, app, http.MethodHead, "/"+index, "")
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			resp, _ = do(t, app, http.MethodPut, "/"+index+"/_doc/1", `{"title":"Hello","status":"published","published":"2024-01-01T00:00:00Z"}`)
			require.Equal(t, http.StatusCreated, resp.StatusCode)

			resp, payload := do(t, app, http.MethodGet, "/"+index+"/_doc/1", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "Hello", payload["_source"].(map[string]any)["title"])

			resp, payload = do(t, app, http.MethodPost, "/"+index+"/_search", `{"query":{"term":{"status":"published"}}}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, float64(1), payload["hits"].(map[string]any)["total"])

			resp, payload = do(t, app, http.MethodGet, "/"+index, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			mappings := payload[index].(map[string]any)["mappings"].(map[string]any)
			props := mappings["properties"].(map[string]any)
			assert.Equal(t, "date", props["published"].(map[string]any)["type"])
			assert.Equal(t, "text", props["title"].(map[string]any)["type"])
		})
	}
}

func TestIntegrationBulkAndAggregations(t *testing.T) {
	app := setupLiveApp(t, false)
	index := fmt.Sprintf("orders_%d", time.Now().UnixNano())

	resp, _ := do(t, app, http.MethodPut, "/"+index, `{"mappings":{"properties":{"created_at":{"type":"date"},"count":{"type":"long"}}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() { do(t, app, http.MethodDelete, "/"+index, "") })

	bulk := `{"index":{"_id":"1"}}` + "\n" +
		`{"status":"new","count":5,"category":"alpha","created_at":"2024-01-01T00:00:00Z"}` + "\n" +
		`{"index":{"_id":"2"}}` + "\n" +
		`{"status":"processing","count":15,"category":"beta","created_at":"2024-01-02T00:00:00Z"}` + "\n" +
		`{"index":{"_id":"3"}}` + "\n" +
		`{"status":"new","count":25,"category":"alpha","created_at":"2024-01-03T00:00:00Z"}` + "\n"
	resp, payload := do(t, app, http.MethodPost, "/"+index+"/_bulk", bulk)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, payload["errors"])

	before := testutil.ToFloat64(metrics.TempRelationsActive)
	resp, payload = do(t, app, http.MethodPost, "/"+index+"/_search", `{
		"size": 0,
		"query": {"range": {"count": {"gte": 10}}},
		"aggs": {
			"by_day": {
				"date_histogram": {"field": "created_at", "interval": "day"},
				"aggs": {"total": {"sum": {"field": "count"}}}
			},
			"ranges": {"range": {"field": "count", "ranges": [{"to": 20}, {"from": 20}]}},
			"stats": {"stats": {"field": "count"}}
		}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, before, testutil.ToFloat64(metrics.TempRelationsActive))
	assert.Equal(t, float64(2), payload["hits"].(map[string]any)["total"])

	aggs := payload["aggregations"].(map[string]any)
	days := aggs["by_day"].(map[string]any)["buckets"].([]any)
	require.Len(t, days, 2)
	first := days[0].(map[string]any)
	assert.Equal(t, "2024-01-02T00:00:00.000Z", first["key_as_string"])
	assert.Equal(t, float64(15), first["total"].(map[string]any)["value"])

	ranges := aggs["ranges"].(map[string]any)["buckets"].([]any)
	require.Len(t, ranges, 2)
	assert.Equal(t, float64(1), ranges[0].(map[string]any)["doc_count"])
	assert.Equal(t, float64(2), aggs["stats"].(map[string]any)["count"])

	resp, payload = do(t, app, http.MethodPost, "/"+index+"/_delete_by_query", `{"query":{"term":{"status":"new"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), payload["deleted"])

	resp, payload = do(t, app, http.MethodGet, "/"+index+"/_search?q=status:processing", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), payload["hits"].(map[string]any)["total"])
}
