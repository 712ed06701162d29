package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultMinimumShouldMatch applies when a bool query does not set one.
const DefaultMinimumShouldMatch = "1"

// Bool combines sub-queries. Match-all members are never rendered.
type Bool struct {
	Must               []Query
	Filter             []Query
	MustNot            []Query
	Should             []Query
	MinimumShouldMatch string
	Boost              float64
}

func (q Bool) IsMatchAll() bool {
	return len(q.clauses()) == 0
}

func (q Bool) SQL() string {
	clauses := q.clauses()
	if len(clauses) == 0 {
		return ""
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return strings.Join(clauses, " AND ")
}

func (Bool) sealed() {}

func withoutMatchAll(queries []Query) (rest []Query, matchAll int) {
	for _, q := range queries {
		if q.IsMatchAll() {
			matchAll++
			continue
		}
		rest = append(rest, q)
	}
	return rest, matchAll
}

func render(queries []Query) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.SQL()
	}
	return out
}

func (q Bool) clauses() []string {
	var clauses []string

	required, _ := withoutMatchAll(append(append([]Query{}, q.Must...), q.Filter...))
	if len(required) > 0 {
		clauses = append(clauses, "("+strings.Join(wrap(render(required)), " AND ")+")")
	}

	excluded, excludesAll := withoutMatchAll(q.MustNot)
	if excludesAll > 0 {
		return []string{sqlFalse}
	}
	if len(excluded) > 0 {
		clauses = append(clauses, "NOT ("+strings.Join(wrap(render(excluded)), " OR ")+")")
	}

	if len(q.Should) > 0 {
		msm := q.MinimumShouldMatch
		if msm == "" {
			msm = DefaultMinimumShouldMatch
		}
		threshold, err := ResolveMinimumShouldMatch(msm, len(q.Should))
		if err != nil {
			threshold = 1
		}
		optional, satisfied := withoutMatchAll(q.Should)
		if clause := atLeast(render(optional), threshold-satisfied); clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return clauses
}

// atLeast renders "at least k of clauses hold".
func atLeast(clauses []string, k int) string {
	switch {
	case k <= 0:
		return ""
	case k > len(clauses):
		return sqlFalse
	case k == 1:
		return "(" + strings.Join(wrap(clauses), " OR ") + ")"
	case k == len(clauses):
		return "(" + strings.Join(wrap(clauses), " AND ") + ")"
	}
	terms := make([]string, len(clauses))
	for i, c := range clauses {
		terms[i] = "(CASE WHEN " + c + " THEN 1 ELSE 0 END)"
	}
	return "(" + strings.Join(terms, " + ") + ") >= " + strconv.Itoa(k)
}

// ResolveMinimumShouldMatch turns a minimum_should_match specifier into a
// clause count for n should clauses. Percentages round to the nearest
// integer; negative values count the clauses that may be missing.
func ResolveMinimumShouldMatch(spec string, n int) (int, error) {
	spec = strings.TrimSpace(spec)
	var k int
	if pct, ok := strings.CutSuffix(spec, "%"); ok {
		p, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid minimum_should_match %q", spec)
		}
		if p < 0 {
			p = 100 + p
		}
		k = int(math.Round(p / 100 * float64(n)))
	} else {
		v, err := strconv.Atoi(spec)
		if err != nil {
			return 0, fmt.Errorf("invalid minimum_should_match %q", spec)
		}
		k = v
		if k < 0 {
			k = n + k
		}
	}
	if k < 0 {
		k = 0
	}
	return k, nil
}
