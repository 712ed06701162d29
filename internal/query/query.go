// Package query parses the Elasticsearch query DSL into a tree of predicate
// nodes and renders that tree as a PostgreSQL boolean expression over the
// _source JSONB column.
package query

import (
	"fmt"
	"strings"
)

// Query is a node of the query tree. The set of implementations is closed.
type Query interface {
	// IsMatchAll reports whether the node accepts every document.
	IsMatchAll() bool
	// SQL renders the node as a WHERE-clause expression. Match-all nodes
	// render as the empty string.
	SQL() string

	sealed()
}

type MatchAll struct{}

func (MatchAll) IsMatchAll() bool { return true }
func (MatchAll) SQL() string      { return "" }
func (MatchAll) sealed()          {}

// Term is exact equality on a field.
type Term struct {
	Field string
	Value string
}

func (Term) IsMatchAll() bool { return false }
func (q Term) SQL() string {
	return TextField(q.Field) + " = " + Literal(q.Value)
}
func (Term) sealed() {}

// MatchMode selects how Match interprets its text.
type MatchMode int

const (
	MatchTerms MatchMode = iota
	MatchPhraseMode
	MatchPhrasePrefixMode
)

// Match is full-text matching approximated with ILIKE.
type Match struct {
	Field    string
	Text     string
	Operator string // AND or OR
	Mode     MatchMode
}

func (Match) IsMatchAll() bool { return false }
func (q Match) SQL() string {
	switch q.Mode {
	case MatchPhraseMode:
		return MatchPhrase{Field: q.Field, Phrase: q.Text}.SQL()
	case MatchPhrasePrefixMode:
		return MatchPhrasePrefix{Field: q.Field, Phrase: q.Text}.SQL()
	}

	terms := strings.Fields(q.Text)
	if len(terms) == 0 {
		return sqlFalse
	}
	field := TextField(q.Field)
	clauses := make([]string, len(terms))
	for i, term := range terms {
		clauses[i] = field + " ILIKE " + Literal("%"+term+"%")
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	op := " OR "
	if strings.EqualFold(q.Operator, "and") {
		op = " AND "
	}
	return "(" + strings.Join(clauses, op) + ")"
}
func (Match) sealed() {}

type MatchPhrase struct {
	Field  string
	Phrase string
}

func (MatchPhrase) IsMatchAll() bool { return false }
func (q MatchPhrase) SQL() string {
	return TextField(q.Field) + " ILIKE " + Literal("%"+q.Phrase+"%")
}
func (MatchPhrase) sealed() {}

type MatchPhrasePrefix struct {
	Field  string
	Phrase string
}

func (MatchPhrasePrefix) IsMatchAll() bool { return false }
func (q MatchPhrasePrefix) SQL() string {
	return TextField(q.Field) + " ILIKE " + Literal(q.Phrase+"%")
}
func (MatchPhrasePrefix) sealed() {}

type Prefix struct {
	Field string
	Value string
}

func (Prefix) IsMatchAll() bool { return false }
func (q Prefix) SQL() string {
	return TextField(q.Field) + " LIKE " + Literal(q.Value+"%")
}
func (Prefix) sealed() {}

type Wildcard struct {
	Field   string
	Pattern string
}

func (Wildcard) IsMatchAll() bool { return false }
func (q Wildcard) SQL() string {
	return TextField(q.Field) + " LIKE " + Literal(wildcardToLike(q.Pattern))
}
func (Wildcard) sealed() {}

type Regexp struct {
	Field   string
	Pattern string
}

func (Regexp) IsMatchAll() bool { return false }
func (q Regexp) SQL() string {
	return TextField(q.Field) + " SIMILAR TO " + Literal(regexpToSimilar(q.Pattern))
}
func (Regexp) sealed() {}

// Bound is one side of a range. Numeric bounds compare as numbers, the rest
// as text.
type Bound struct {
	Value   string
	Numeric bool
}

func (b *Bound) literal() string {
	if b.Numeric {
		return b.Value
	}
	return Literal(b.Value)
}

type Range struct {
	Field string
	GT    *Bound
	GTE   *Bound
	LT    *Bound
	LTE   *Bound
}

func (Range) IsMatchAll() bool { return false }
func (q Range) SQL() string {
	var clauses []string
	add := func(b *Bound, op string) {
		if b == nil {
			return
		}
		field := TextField(q.Field)
		if b.Numeric {
			field = NumericField(q.Field)
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s", field, op, b.literal()))
	}
	add(q.GTE, ">=")
	add(q.GT, ">")
	add(q.LTE, "<=")
	add(q.LT, "<")
	if len(clauses) == 0 {
		return Exists{Field: q.Field}.SQL()
	}
	return strings.Join(clauses, " AND ")
}
func (Range) sealed() {}

type Exists struct {
	Field string
}

func (Exists) IsMatchAll() bool { return false }
func (q Exists) SQL() string {
	if isMetaField(q.Field) {
		return q.Field + " IS NOT NULL"
	}
	if strings.Contains(q.Field, ".") {
		return JSONField(q.Field) + " IS NOT NULL"
	}
	return ColumnSource + " ? " + Literal(q.Field)
}
func (Exists) sealed() {}

type Ids struct {
	Types  []string
	Values []string
}

func (Ids) IsMatchAll() bool { return false }
func (q Ids) SQL() string {
	if len(q.Values) == 0 {
		return sqlFalse
	}
	ids := make([]string, len(q.Values))
	for i, v := range q.Values {
		ids[i] = ColumnID + " = " + Literal(v)
	}
	clause := "(" + strings.Join(ids, " OR ") + ")"
	if len(q.Types) == 0 {
		return clause
	}
	types := make([]string, len(q.Types))
	for i, t := range q.Types {
		types[i] = ColumnType + " = " + Literal(t)
	}
	return clause + " AND (" + strings.Join(types, " OR ") + ")"
}
func (Ids) sealed() {}

// Type restricts documents to one mapping type.
type Type struct {
	Value string
}

func (Type) IsMatchAll() bool { return false }
func (q Type) SQL() string {
	return ColumnType + " = " + Literal(q.Value)
}
func (Type) sealed() {}

// DisMax matches documents accepted by any sub-query. Scoring is not
// computed, so the tie breaker only round-trips.
type DisMax struct {
	Queries    []Query
	TieBreaker float64
}

func (q DisMax) IsMatchAll() bool {
	if len(q.Queries) == 0 {
		return true
	}
	for _, sub := range q.Queries {
		if sub.IsMatchAll() {
			return true
		}
	}
	return false
}

func (q DisMax) SQL() string {
	if q.IsMatchAll() {
		return ""
	}
	clauses := make([]string, len(q.Queries))
	for i, sub := range q.Queries {
		clauses[i] = sub.SQL()
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return strings.Join(wrap(clauses), " OR ")
}
func (DisMax) sealed() {}

// Filtered is the pre-5.x filtered query: both parts must hold.
type Filtered struct {
	Query  Query
	Filter Query
}

func (q Filtered) IsMatchAll() bool {
	return q.Query.IsMatchAll() && q.Filter.IsMatchAll()
}

func (q Filtered) SQL() string {
	switch {
	case q.Query.IsMatchAll():
		return q.Filter.SQL()
	case q.Filter.IsMatchAll():
		return q.Query.SQL()
	}
	return "(" + q.Query.SQL() + ") AND (" + q.Filter.SQL() + ")"
}
func (Filtered) sealed() {}
