// Package catalog tracks which indices exist, how each one is stored and the
// field mappings the search engine consults.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"

	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/gateway"
	"github.com/ilvar/espg/internal/query"
)

// DataTable is the shared relation partitioned by index.
const DataTable = "data"

// DefaultType is the mapping type of typeless documents.
const DefaultType = "_doc"

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]*$`)

// Index is a concrete index and its storage topology.
type Index struct {
	Name        string
	Distributed bool
}

// Relation is the table holding the index's documents.
func (i Index) Relation() string {
	if i.Distributed {
		return query.Ident("idx_" + i.Name)
	}
	return query.Ident(DataTable + "_" + i.Name)
}

// ValidateIndexName rejects names that cannot be used as an index.
func ValidateIndexName(name string) error {
	if !indexNamePattern.MatchString(name) || len(name) > 55 {
		return eserr.InvalidIndexName(name)
	}
	return nil
}

type fieldMapping struct {
	Type   string
	Format string
	Found  bool
}

// Catalog resolves index patterns and field mappings.
type Catalog struct {
	db          gateway.Querier
	distributed bool
	cache       *lru.Cache[string, fieldMapping]
}

func New(db gateway.Querier, distributed bool, cacheSize int) (*Catalog, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, fieldMapping](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("mapping cache: %w", err)
	}
	return &Catalog{db: db, distributed: distributed, cache: cache}, nil
}

// Distributed reports whether new indices get their own relation.
func (c *Catalog) Distributed() bool {
	return c.distributed
}

// List returns every index, ordered by name.
func (c *Catalog) List(ctx context.Context) ([]Index, error) {
	rows, err := c.db.Query(ctx, "SELECT name, distributed FROM es_indices ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Distributed); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// Get returns one index by exact name.
func (c *Catalog) Get(ctx context.Context, name string) (Index, bool, error) {
	idx := Index{Name: name}
	err := c.db.QueryRow(ctx, "SELECT distributed FROM es_indices WHERE name = $1", name).Scan(&idx.Distributed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Index{}, false, nil
	}
	if err != nil {
		return Index{}, false, err
	}
	return idx, true, nil
}

// Resolve expands an index pattern such as "logs-*,metrics,-logs-old" into
// concrete indices. An empty pattern, "_all" and "*" select everything.
func (c *Catalog) Resolve(ctx context.Context, pattern string) ([]Index, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve index pattern: %w", err)
	}
	return MatchPattern(all, pattern), nil
}

// MatchPattern filters indices by an index pattern, keeping name order.
func MatchPattern(indices []Index, pattern string) []Index {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "_all" {
		pattern = "*"
	}
	selected := map[string]bool{}
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exclude := strings.HasPrefix(part, "-")
		if exclude {
			part = part[1:]
		}
		for _, idx := range indices {
			if ok, _ := path.Match(part, idx.Name); ok {
				selected[idx.Name] = !exclude
			}
		}
	}
	var out []Index
	for _, idx := range indices {
		if selected[idx.Name] {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the index names.
func Names(indices []Index) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = idx.Name
	}
	return out
}

func cacheKey(indices []string, types []string, field string) string {
	return strings.Join(indices, ",") + "|" + strings.Join(types, ",") + "|" + field
}

func (c *Catalog) lookup(ctx context.Context, indices []string, types []string, field string) (fieldMapping, error) {
	key := cacheKey(indices, types, field)
	if m, ok := c.cache.Get(key); ok {
		return m, nil
	}

	var m fieldMapping
	var format *string
	err := c.db.QueryRow(ctx, `
		SELECT field_type, field_format
		FROM es_mappings
		WHERE index_name = ANY($1)
		  AND (cardinality($2::text[]) = 0 OR type_name = ANY($2))
		  AND field = $3
		ORDER BY index_name, type_name
		LIMIT 1
	`, indices, nonNil(types), field).Scan(&m.Type, &format)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fieldMapping{}, fmt.Errorf("lookup mapping for %s: %w", field, err)
	default:
		m.Found = true
		if format != nil {
			m.Format = *format
		}
	}
	c.cache.Add(key, m)
	return m, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FirstFieldType returns the mapped type of field in the first matching index
// and type.
func (c *Catalog) FirstFieldType(ctx context.Context, indices []string, types []string, field string) (string, bool, error) {
	m, err := c.lookup(ctx, indices, types, field)
	if err != nil {
		return "", false, err
	}
	return m.Type, m.Found, nil
}

// FirstFieldFormat returns the mapped date format of field, if any.
func (c *Catalog) FirstFieldFormat(ctx context.Context, indices []string, types []string, field string) (string, bool, error) {
	m, err := c.lookup(ctx, indices, types, field)
	if err != nil {
		return "", false, err
	}
	return m.Format, m.Found && m.Format != "", nil
}
