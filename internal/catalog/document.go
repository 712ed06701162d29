package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ilvar/espg/internal/query"
)

// Document is one stored source document.
type Document struct {
	Index  string
	Type   string
	ID     string
	Source map[string]any
}

// Ensure returns the named index, creating it with dynamic mappings when it
// does not exist yet.
func (c *Catalog) Ensure(ctx context.Context, name string) (Index, error) {
	idx, exists, err := c.Get(ctx, name)
	if err != nil {
		return Index{}, err
	}
	if exists {
		return idx, nil
	}
	return c.CreateIndex(ctx, name, nil)
}

func conflictTarget(idx Index) string {
	if idx.Distributed {
		return "(_id)"
	}
	return "(_index, _id)"
}

// Upsert writes doc into idx and reports whether it was newly created. An
// empty ID gets a generated one.
func (c *Catalog) Upsert(ctx context.Context, idx Index, doc *Document) (bool, error) {
	results, err := c.Bulk(ctx, idx, []*Document{doc})
	if err != nil {
		return false, err
	}
	return results[doc.ID], nil
}

// Bulk writes docs into idx in one statement. The result maps each ID to true
// when the document was created and false when it replaced an existing one.
// When the same ID appears more than once the last document wins.
func (c *Catalog) Bulk(ctx context.Context, idx Index, docs []*Document) (map[string]bool, error) {
	results := map[string]bool{}
	if len(docs) == 0 {
		return results, nil
	}

	latest := map[string]*Document{}
	var order []string
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if doc.Type == "" {
			doc.Type = DefaultType
		}
		doc.Index = idx.Name
		if _, seen := latest[doc.ID]; !seen {
			order = append(order, doc.ID)
		}
		latest[doc.ID] = doc
	}

	values := make([]any, 0, len(order)*4)
	placeholders := make([]string, 0, len(order))
	var fields []Field
	for i, id := range order {
		doc := latest[id]
		values = append(values, doc.Index, doc.Type, doc.ID, doc.Source)
		base := i*4 + 1
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d)", base, base+1, base+2, base+3))
		fields = append(fields, InferFields(doc.Type, doc.Source)...)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (_index, _type, _id, _source)
		VALUES %s
		ON CONFLICT %s DO UPDATE SET _type = EXCLUDED._type, _source = EXCLUDED._source
		RETURNING _id, (xmax = 0)
	`, idx.Relation(), strings.Join(placeholders, ", "), conflictTarget(idx))

	rows, err := c.db.Query(ctx, sql, values...)
	if err != nil {
		return nil, fmt.Errorf("index documents into %s: %w", idx.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var inserted bool
		if err := rows.Scan(&id, &inserted); err != nil {
			return nil, err
		}
		results[id] = inserted
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index documents into %s: %w", idx.Name, err)
	}

	if err := c.PutFields(ctx, idx.Name, fields, false); err != nil {
		return nil, err
	}
	return results, nil
}

// GetDocument fetches one document by ID.
func (c *Catalog) GetDocument(ctx context.Context, idx Index, id string) (*Document, bool, error) {
	doc := &Document{Index: idx.Name, ID: id}
	sql := fmt.Sprintf("SELECT _type, _source FROM %s WHERE _id = $1", idx.Relation())
	err := c.db.QueryRow(ctx, sql, id).Scan(&doc.Type, &doc.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get document %s/%s: %w", idx.Name, id, err)
	}
	return doc, true, nil
}

// DeleteDocument removes one document and reports whether it existed.
func (c *Catalog) DeleteDocument(ctx context.Context, idx Index, id string) (bool, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE _id = $1", idx.Relation())
	tag, err := c.db.Exec(ctx, sql, id)
	if err != nil {
		return false, fmt.Errorf("delete document %s/%s: %w", idx.Name, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByQuery removes every document of idx matched by q.
func (c *Catalog) DeleteByQuery(ctx context.Context, idx Index, q query.Query) (int64, error) {
	sql := "DELETE FROM " + idx.Relation()
	if !q.IsMatchAll() {
		sql += " WHERE " + q.SQL()
	}
	tag, err := c.db.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("delete by query on %s: %w", idx.Name, err)
	}
	return tag.RowsAffected(), nil
}
