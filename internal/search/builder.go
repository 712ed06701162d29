package search

import (
	"fmt"
	"strings"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/query"
)

// hitsAlias names the materialized union of per-index relations.
const hitsAlias = "hit_results"

// QueryComponents are the pieces of a SELECT over the documents matched so
// far. Where has no WHERE keyword; Limit holds the OFFSET/LIMIT tail.
type QueryComponents struct {
	From       string
	Where      string
	GroupBy    string
	OrderBy    string
	Limit      string
	TempTables []string
}

// Select renders the components with the given projection.
func (c QueryComponents) Select(projection string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(projection)
	b.WriteString(" FROM ")
	b.WriteString(c.From)
	if c.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(c.Where)
	}
	if c.GroupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(c.GroupBy)
	}
	if c.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(c.OrderBy)
	}
	if c.Limit != "" {
		b.WriteString(" ")
		b.WriteString(c.Limit)
	}
	return b.String()
}

// Count renders SELECT COUNT(*) over the components, ignoring ordering and
// pagination.
func (c QueryComponents) Count() string {
	return QueryComponents{From: c.From, Where: c.Where}.Select("COUNT(*)")
}

// And narrows the components by an extra predicate. Ordering and pagination
// are dropped.
func (c QueryComponents) And(predicate string) QueryComponents {
	out := QueryComponents{From: c.From, Where: c.Where, TempTables: c.TempTables}
	switch {
	case predicate == "":
	case out.Where == "":
		out.Where = predicate
	default:
		out.Where = "(" + out.Where + ") AND (" + predicate + ")"
	}
	return out
}

// TempRelation is a relation the plan materializes before anything else runs.
type TempRelation struct {
	Name   string
	Select string
}

// Plan is the builder's output: relations to create, the SELECT that produces
// hits and the components aggregations start from.
type Plan struct {
	Temps []TempRelation
	Hits  QueryComponents
	Base  QueryComponents
	// Cursor means hits come from a materialized relation and pagination is
	// applied while reading rows.
	Cursor bool
	// CountOnly is set for size 0 requests.
	CountOnly bool
}

// Statements lists the SQL the plan issues, in order.
func (p *Plan) Statements() []string {
	var out []string
	for _, t := range p.Temps {
		out = append(out, "CREATE TEMP TABLE "+t.Name+" AS "+t.Select)
	}
	if p.CountOnly {
		out = append(out, p.Hits.Count())
	} else {
		out = append(out, p.Hits.Select(hitColumns))
	}
	return out
}

// Target is the concrete set of indices and types a search runs over.
type Target struct {
	Indices []catalog.Index
	Types   []string
}

// Names returns the index names of the target.
func (t Target) Names() []string {
	return catalog.Names(t.Indices)
}

// Distributed reports whether any targeted index lives in its own relation.
func (t Target) Distributed() bool {
	for _, idx := range t.Indices {
		if idx.Distributed {
			return true
		}
	}
	return false
}

// NameFunc hands out temp relation names.
type NameFunc func(hash uint64) string

// Builder turns a request into a Plan for one storage topology.
type Builder interface {
	Build(req *RequestBodySearch, target Target, name NameFunc) *Plan
}

// BuilderFor picks the strategy matching the target's topology.
func BuilderFor(target Target) Builder {
	if target.Distributed() {
		return DistributedBuilder{}
	}
	return PartitionedBuilder{}
}

const hitColumns = "_index, _type, _id, _source"

func inList(column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = query.Literal(v)
	}
	return column + " IN (" + strings.Join(quoted, ", ") + ")"
}

func typeFilter(types []string) string {
	if len(types) == 0 {
		return ""
	}
	return inList(query.ColumnType, types)
}

func pagination(from, size int) string {
	var parts []string
	if from > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", from))
	}
	if size > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", size))
	}
	return strings.Join(parts, " ")
}

func joinAnd(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) <= 1 {
		return strings.Join(kept, "")
	}
	return strings.Join(kept, " AND ")
}

func paren(s string) string {
	if s == "" {
		return ""
	}
	return "(" + s + ")"
}

// PartitionedBuilder plans searches over the shared data relation.
type PartitionedBuilder struct{}

func (PartitionedBuilder) Build(req *RequestBodySearch, target Target, name NameFunc) *Plan {
	scope := joinAnd(inList(query.ColumnIndex, target.Names()), typeFilter(target.Types))
	plan := &Plan{CountOnly: req.Size == 0}

	if req.Query.IsMatchAll() {
		plan.Base = QueryComponents{From: catalog.DataTable, Where: scope}
		plan.Hits = plan.Base
		plan.Hits.OrderBy = "_index, _id"
		plan.Hits.Limit = pagination(req.From, req.Size)
		return plan
	}

	temp := TempRelation{
		Name: name(req.Hash),
		Select: QueryComponents{
			From:  catalog.DataTable,
			Where: joinAnd(inList(query.ColumnIndex, target.Names()), paren(req.Query.SQL()), typeFilter(target.Types)),
		}.Select("*"),
	}
	plan.Temps = []TempRelation{temp}
	plan.Base = QueryComponents{From: temp.Name, TempTables: []string{temp.Name}}
	plan.Hits = plan.Base
	plan.Hits.OrderBy = "_index, _id"
	plan.Cursor = true
	return plan
}

// DistributedBuilder plans searches over per-index relations by materializing
// their UNION ALL.
type DistributedBuilder struct{}

func (DistributedBuilder) Build(req *RequestBodySearch, target Target, name NameFunc) *Plan {
	where := joinAnd(paren(req.Query.SQL()), typeFilter(target.Types))
	limit := ""
	if req.Aggregations.Empty() && req.Size > 0 {
		limit = pagination(0, req.From+req.Size)
	}

	members := make([]string, len(target.Indices))
	for i, idx := range target.Indices {
		member := QueryComponents{From: idx.Relation(), Where: where, Limit: limit}
		if limit != "" {
			member.OrderBy = "_id"
		}
		members[i] = "(" + member.Select(hitColumns) + ")"
	}

	temp := TempRelation{
		Name:   name(req.Hash),
		Select: "SELECT * FROM (" + strings.Join(members, " UNION ALL ") + ") AS " + hitsAlias,
	}
	from := temp.Name + " AS " + hitsAlias
	plan := &Plan{
		Temps:     []TempRelation{temp},
		Base:      QueryComponents{From: from, TempTables: []string{temp.Name}},
		Cursor:    true,
		CountOnly: req.Size == 0,
	}
	plan.Hits = plan.Base
	plan.Hits.OrderBy = "_index, _id"
	return plan
}
