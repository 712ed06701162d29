package catalog

import (
	"context"
	"fmt"

	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/query"
)

// CreateIndex provisions storage for name and records its mappings. With the
// partitioned topology the index becomes a partition of the shared data
// relation; otherwise it gets a relation of its own.
func (c *Catalog) CreateIndex(ctx context.Context, name string, fields []Field) (Index, error) {
	if err := ValidateIndexName(name); err != nil {
		return Index{}, err
	}
	if _, exists, err := c.Get(ctx, name); err != nil {
		return Index{}, err
	} else if exists {
		return Index{}, eserr.ResourceAlreadyExists(name)
	}

	idx := Index{Name: name, Distributed: c.distributed}
	var ddl string
	if idx.Distributed {
		ddl = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				_index TEXT NOT NULL DEFAULT %s,
				_type TEXT NOT NULL,
				_id TEXT PRIMARY KEY,
				_source JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, idx.Relation(), query.Literal(name))
	} else {
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN (%s)",
			idx.Relation(), DataTable, query.Literal(name))
	}
	if _, err := c.db.Exec(ctx, ddl); err != nil {
		return Index{}, fmt.Errorf("create index %s: %w", name, err)
	}
	if _, err := c.db.Exec(ctx,
		"INSERT INTO es_indices (name, distributed) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		name, idx.Distributed,
	); err != nil {
		return Index{}, fmt.Errorf("register index %s: %w", name, err)
	}
	if err := c.PutFields(ctx, name, fields, true); err != nil {
		return Index{}, err
	}
	return idx, nil
}

// DeleteIndex drops the index storage and its catalog entries.
func (c *Catalog) DeleteIndex(ctx context.Context, name string) error {
	idx, exists, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return eserr.IndexNotFound(name)
	}
	statements := []struct {
		sql  string
		args []any
	}{
		{sql: "DROP TABLE IF EXISTS " + idx.Relation()},
		{sql: "DELETE FROM es_mappings WHERE index_name = $1", args: []any{name}},
		{sql: "DELETE FROM es_indices WHERE name = $1", args: []any{name}},
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			return fmt.Errorf("delete index %s: %w", name, err)
		}
	}
	c.cache.Purge()
	return nil
}
