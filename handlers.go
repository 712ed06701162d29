package main

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/dsl"
	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/query"
	"github.com/ilvar/espg/internal/search"
)

func (s *server) handleRoot(c *fiber.Ctx) error {
	return writeJSON(c, fiber.StatusOK, map[string]any{
		"name":         "espg",
		"cluster_name": "espg",
		"version": map[string]any{
			"number":         "6.8.0",
			"build_flavor":   "default",
			"build_type":     "docker",
			"build_snapshot": false,
		},
		"tagline": "You Know, for Search",
	})
}

func (s *server) handleClusterHealth(c *fiber.Ctx) error {
	status := "green"
	if s.ping != nil {
		if err := s.ping(c.UserContext()); err != nil {
			status = "red"
		}
	}
	indices, err := s.catalog.List(c.UserContext())
	if err != nil {
		status = "red"
	}
	return writeJSON(c, fiber.StatusOK, map[string]any{
		"cluster_name":                     "espg",
		"status":                           status,
		"number_of_nodes":                  1,
		"number_of_data_nodes":             1,
		"active_primary_shards":            len(indices),
		"active_shards":                    len(indices),
		"relocating_shards":                0,
		"initializing_shards":              0,
		"unassigned_shards":                0,
		"delayed_unassigned_shards":        0,
		"number_of_pending_tasks":          0,
		"number_of_in_flight_fetch":        0,
		"task_max_waiting_in_queue_millis": 0,
		"active_shards_percent_as_number":  100,
	})
}

// index looks up the index named in the path. A missing index is reported
// as index_not_found_exception.
func (s *server) index(c *fiber.Ctx) (catalog.Index, error) {
	name := c.Params("index")
	idx, ok, err := s.catalog.Get(c.UserContext(), name)
	if err != nil {
		return catalog.Index{}, err
	}
	if !ok {
		return catalog.Index{}, eserr.IndexNotFound(name)
	}
	return idx, nil
}

func (s *server) handleHeadIndex(c *fiber.Ctx) error {
	_, ok, err := s.catalog.Get(c.UserContext(), c.Params("index"))
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (s *server) handleGetIndex(c *fiber.Ctx) error {
	idx, err := s.index(c)
	if err != nil {
		return writeError(c, err)
	}
	fields, err := s.catalog.Fields(c.UserContext(), idx.Name)
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, map[string]any{
		idx.Name: map[string]any{
			"aliases":  map[string]any{},
			"mappings": catalog.MappingBody(fields),
			"settings": map[string]any{
				"index": map[string]any{
					"number_of_shards":   "1",
					"number_of_replicas": "0",
					"provided_name":      idx.Name,
					"distributed":        strconv.FormatBool(idx.Distributed),
				},
			},
		},
	})
}

type createIndexBody struct {
	Mappings json.RawMessage `json:"mappings"`
}

func (s *server) handleCreateIndex(c *fiber.Ctx) error {
	name := c.Params("index")
	var body createIndexBody
	if len(c.Body()) > 0 {
		if err := dsl.Decode(c.Body(), &body); err != nil {
			return writeError(c, eserr.Parsing("invalid json body: %v", err))
		}
	}
	fields, err := catalog.ParseMappings(body.Mappings)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := s.catalog.CreateIndex(c.UserContext(), name, fields); err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, map[string]any{
		"acknowledged":        true,
		"shards_acknowledged": true,
		"index":               name,
	})
}

func (s *server) handleDeleteIndex(c *fiber.Ctx) error {
	if err := s.catalog.DeleteIndex(c.UserContext(), c.Params("index")); err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, map[string]any{"acknowledged": true})
}

func parseDocumentBody(c *fiber.Ctx) (map[string]any, error) {
	if len(c.Body()) == 0 {
		return nil, eserr.Parsing("document body required")
	}
	var document map[string]any
	if err := dsl.Decode(c.Body(), &document); err != nil {
		return nil, eserr.Parsing("invalid json body")
	}
	if document == nil {
		return nil, eserr.Parsing("document body required")
	}
	return document, nil
}

func (s *server) handleCreateDocument(c *fiber.Ctx) error {
	return s.writeDocument(c, "")
}

func (s *server) handleUpsertDocument(c *fiber.Ctx) error {
	return s.writeDocument(c, c.Params("id"))
}

// writeDocument stores the request body under id, creating the index on first
// write. An empty id gets a generated one.
func (s *server) writeDocument(c *fiber.Ctx, id string) error {
	source, err := parseDocumentBody(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.UserContext()
	idx, err := s.catalog.Ensure(ctx, c.Params("index"))
	if err != nil {
		return writeError(c, err)
	}
	doc := &catalog.Document{ID: id, Source: source}
	created, err := s.catalog.Upsert(ctx, idx, doc)
	if err != nil {
		return writeError(c, err)
	}

	status, result := fiber.StatusOK, "updated"
	if created {
		status, result = fiber.StatusCreated, "created"
	}
	return writeJSON(c, status, map[string]any{
		"_index":   idx.Name,
		"_type":    doc.Type,
		"_id":      doc.ID,
		"_version": 1,
		"result":   result,
	})
}

func (s *server) handleGetDocument(c *fiber.Ctx) error {
	idx, err := s.index(c)
	if err != nil {
		return writeError(c, err)
	}
	id := c.Params("id")
	doc, found, err := s.catalog.GetDocument(c.UserContext(), idx, id)
	if err != nil {
		return writeError(c, err)
	}
	if !found {
		return writeJSON(c, fiber.StatusNotFound, map[string]any{
			"_index": idx.Name,
			"_type":  catalog.DefaultType,
			"_id":    id,
			"found":  false,
		})
	}
	return writeJSON(c, fiber.StatusOK, map[string]any{
		"_index":  idx.Name,
		"_type":   doc.Type,
		"_id":     doc.ID,
		"found":   true,
		"_source": doc.Source,
	})
}

func (s *server) handleDeleteDocument(c *fiber.Ctx) error {
	idx, err := s.index(c)
	if err != nil {
		return writeError(c, err)
	}
	id := c.Params("id")
	deleted, err := s.catalog.DeleteDocument(c.UserContext(), idx, id)
	if err != nil {
		return writeError(c, err)
	}
	status, result := fiber.StatusOK, "deleted"
	if !deleted {
		status, result = fiber.StatusNotFound, "not_found"
	}
	return writeJSON(c, status, map[string]any{
		"_index": idx.Name,
		"_id":    id,
		"result": result,
	})
}

func (s *server) handleDeleteByQuery(c *fiber.Ctx) error {
	start := time.Now()
	idx, err := s.index(c)
	if err != nil {
		return writeError(c, err)
	}

	var q query.Query = query.MatchAll{}
	if len(c.Body()) > 0 {
		obj, err := dsl.ParseObject(c.Body())
		if err != nil {
			return writeError(c, eserr.Parsing("invalid json body: %v", err))
		}
		if raw, ok := obj.Get("query"); ok {
			if q, err = query.Parse(raw); err != nil {
				return writeError(c, err)
			}
		}
	}

	deleted, err := s.catalog.DeleteByQuery(c.UserContext(), idx, q)
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, map[string]any{
		"took":      time.Since(start).Milliseconds(),
		"timed_out": false,
		"total":     deleted,
		"deleted":   deleted,
		"failures":  []any{},
	})
}

func (s *server) handleBulk(c *fiber.Ctx) error {
	start := time.Now()
	ops, err := catalog.ParseBulk(c.Body(), c.Params("index"))
	if err != nil {
		return writeError(c, eserr.Parsing("%v", err))
	}

	ctx := c.UserContext()
	items := make([]map[string]any, 0, len(ops))

	// Consecutive writes to the same index go out as one statement.
	var batch []*catalog.BulkOperation
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		idx, err := s.catalog.Ensure(ctx, batch[0].Index)
		if err != nil {
			return err
		}
		docs := make([]*catalog.Document, len(batch))
		for i, op := range batch {
			docs[i] = &op.Document
		}
		results, err := s.catalog.Bulk(ctx, idx, docs)
		if err != nil {
			return err
		}
		for _, op := range batch {
			if results[op.ID] {
				items = append(items, op.Item(fiber.StatusCreated, "created"))
			} else {
				items = append(items, op.Item(fiber.StatusOK, "updated"))
			}
		}
		batch = batch[:0]
		return nil
	}

	for i := range ops {
		op := &ops[i]
		if op.Action != "delete" {
			if len(batch) > 0 && batch[0].Index != op.Index {
				if err := flush(); err != nil {
					return writeError(c, err)
				}
			}
			batch = append(batch, op)
			continue
		}

		if err := flush(); err != nil {
			return writeError(c, err)
		}
		if op.Type == "" {
			op.Type = catalog.DefaultType
		}
		idx, ok, err := s.catalog.Get(ctx, op.Index)
		if err != nil {
			return writeError(c, err)
		}
		deleted := false
		if ok {
			if deleted, err = s.catalog.DeleteDocument(ctx, idx, op.ID); err != nil {
				return writeError(c, err)
			}
		}
		if deleted {
			items = append(items, op.Item(fiber.StatusOK, "deleted"))
		} else {
			items = append(items, op.Item(fiber.StatusNotFound, "not_found"))
		}
	}
	if err := flush(); err != nil {
		return writeError(c, err)
	}

	return writeJSON(c, fiber.StatusOK, map[string]any{
		"took":   time.Since(start).Milliseconds(),
		"errors": false,
		"items":  items,
	})
}

// searchParams reads the URL parameters that override the request body.
func searchParams(c *fiber.Ctx) (search.Params, error) {
	p := search.Params{
		Q:               c.Query("q"),
		DefaultField:    c.Query("df"),
		DefaultOperator: c.Query("default_operator"),
	}
	for name, dst := range map[string]**int{"from": &p.From, "size": &p.Size} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return search.Params{}, eserr.Parsing("failed to parse [%s] parameter [%s]", name, raw)
		}
		*dst = &n
	}
	return p, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *server) handleSearch(c *fiber.Ctx) error {
	start := time.Now()
	resp, err := s.search(c)
	observe(c, start, err)
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, resp)
}

func (s *server) search(c *fiber.Ctx) (*search.Response, error) {
	params, err := searchParams(c)
	if err != nil {
		return nil, err
	}
	ctx, log := requestLogger(c)
	req := search.Request{
		IndexPattern: c.Params("index"),
		Types:        splitList(c.Params("type")),
		Body:         c.Body(),
		Params:       params,
	}
	log.Debug("search request", "index", req.IndexPattern, "types", req.Types)
	return s.searcher.Search(ctx, req)
}
