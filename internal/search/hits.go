package search

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ilvar/espg/internal/dsl"
	"github.com/ilvar/espg/internal/gateway"
)

// Hit is one returned document.
type Hit struct {
	Index  string  `json:"_index"`
	Type   string  `json:"_type"`
	ID     string  `json:"_id"`
	Score  float64 `json:"_score"`
	Source any     `json:"_source"`
}

const constantScore = 1.0

// fetchHits runs the plan's hits query. Materialized plans skip and collect
// rows client side; direct plans rely on OFFSET/LIMIT. Either way the total is
// the number of rows the cursor yields, or COUNT(*) for size 0 requests.
func fetchHits(ctx context.Context, s *gateway.Session, plan *Plan, from, size int) (int64, []Hit, error) {
	if plan.CountOnly {
		v, err := s.QueryScalar(ctx, plan.Hits.Count())
		if err != nil {
			return 0, nil, fmt.Errorf("count hits: %w", err)
		}
		return toInt64(v), []Hit{}, nil
	}

	skip := 0
	if plan.Cursor {
		skip = from
	}
	hits := []Hit{}
	var total int64
	err := s.QueryRows(ctx, plan.Hits.Select(hitColumns), func(rows pgx.Rows) error {
		for rows.Next() {
			total++
			if skip > 0 {
				skip--
				continue
			}
			if len(hits) >= size {
				continue
			}
			hit, err := scanHit(rows)
			if err != nil {
				return err
			}
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("fetch hits: %w", err)
	}
	return total, hits, nil
}

func scanHit(rows pgx.Rows) (Hit, error) {
	hit := Hit{Score: constantScore}
	var source []byte
	if err := rows.Scan(&hit.Index, &hit.Type, &hit.ID, &source); err != nil {
		return Hit{}, err
	}
	doc, err := dsl.Value(source)
	if err != nil {
		return Hit{}, fmt.Errorf("decode _source of %s: %w", hit.ID, err)
	}
	hit.Source = doc
	return hit, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
