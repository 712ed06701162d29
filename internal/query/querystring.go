package query

import (
	"strings"
	"unicode"
)

// AllField searches the whole document text.
const AllField = "_all"

// QueryString is the Lucene-like query_string query. Each term becomes an
// ILIKE substring test; operators and grouping pass through to SQL.
type QueryString struct {
	Query           string
	DefaultField    string
	Fields          []string
	DefaultOperator string
}

// IsMatchAll reports whether the query constrains nothing: empty, a bare
// wildcard, or only operators and empty groups.
func (q QueryString) IsMatchAll() bool {
	s := strings.TrimSpace(q.Query)
	if s == "" || s == "*" || s == "*:*" {
		return true
	}
	return len(normalize(tokenize(q.Query))) == 0
}

func (q QueryString) SQL() string {
	if q.IsMatchAll() {
		return ""
	}
	tokens := normalize(tokenize(q.Query))
	op := "OR"
	if strings.EqualFold(q.DefaultOperator, "and") {
		op = "AND"
	}

	fields := q.Fields
	if len(fields) == 0 {
		field := q.DefaultField
		if field == "" || field == "*" {
			field = AllField
		}
		fields = []string{field}
	}
	if len(fields) == 1 {
		return renderTokens(tokens, fields[0], op)
	}
	fragments := make([]string, len(fields))
	for i, field := range fields {
		fragments[i] = renderTokens(tokens, field, op)
	}
	return strings.Join(wrap(fragments), " OR ")
}

func (QueryString) sealed() {}

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type qsToken struct {
	kind   tokenKind
	text   string
	field  string
	phrase bool
}

func tokenize(input string) []qsToken {
	var tokens []qsToken
	runes := []rune(input)
	pendingField := ""
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, qsToken{kind: tokLParen, field: pendingField})
			pendingField = ""
			i++
		case r == ')':
			tokens = append(tokens, qsToken{kind: tokRParen})
			i++
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			tokens = append(tokens, qsToken{kind: tokTerm, text: string(runes[i+1 : min(j, len(runes))]), field: pendingField, phrase: true})
			pendingField = ""
			i = j + 1
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			tokens = append(tokens, qsToken{kind: tokAnd})
			i += 2
		case r == '|' && i+1 < len(runes) && runes[i+1] == '|':
			tokens = append(tokens, qsToken{kind: tokOr})
			i += 2
		case r == '!' || (r == '-' && pendingField == ""):
			tokens = append(tokens, qsToken{kind: tokNot})
			i++
		case r == '+':
			i++
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) && !strings.ContainsRune(`()"`, runes[j]) {
				if runes[j] == '\\' && j+1 < len(runes) {
					j++
				}
				j++
			}
			word := string(runes[i:j])
			i = j
			if field, rest, ok := cutField(word); ok {
				if rest == "" {
					pendingField = field
					continue
				}
				word = rest
				pendingField = field
			}
			switch word {
			case "AND":
				tokens = append(tokens, qsToken{kind: tokAnd})
			case "OR":
				tokens = append(tokens, qsToken{kind: tokOr})
			case "NOT":
				tokens = append(tokens, qsToken{kind: tokNot})
			default:
				tokens = append(tokens, qsToken{kind: tokTerm, text: unescape(word), field: pendingField})
			}
			pendingField = ""
		}
	}
	return tokens
}

// cutField splits "field:value" on the first unescaped colon.
func cutField(word string) (field, rest string, ok bool) {
	for i := 0; i < len(word); i++ {
		switch word[i] {
		case '\\':
			i++
		case ':':
			if i == 0 {
				return "", word, false
			}
			return word[:i], word[i+1:], true
		}
	}
	return "", word, false
}

func unescape(word string) string {
	if !strings.Contains(word, `\`) {
		return word
	}
	var b strings.Builder
	for i := 0; i < len(word); i++ {
		if word[i] == '\\' && i+1 < len(word) {
			i++
		}
		b.WriteByte(word[i])
	}
	return b.String()
}

// normalize drops operators that have nothing to join and balances
// parentheses so the rendered SQL is always well formed.
func normalize(tokens []qsToken) []qsToken {
	var out []qsToken
	depth := 0
	operand := false
	for _, tok := range tokens {
		switch tok.kind {
		case tokTerm:
			out = append(out, tok)
			operand = true
		case tokAnd, tokOr:
			if operand {
				out = append(out, tok)
				operand = false
			}
		case tokNot:
			out = append(out, tok)
			operand = false
		case tokLParen:
			out = append(out, tok)
			depth++
			operand = false
		case tokRParen:
			if depth == 0 {
				continue
			}
			out, operand = closeGroup(out)
			depth--
		}
	}
	for ; depth > 0; depth-- {
		out, _ = closeGroup(out)
	}
	return trimDangling(out)
}

// closeGroup ends the innermost open group. A group left with nothing in it
// is removed together with its opening parenthesis. operand reports whether
// the output now ends in something an operator can follow.
func closeGroup(out []qsToken) ([]qsToken, bool) {
	out = trimDangling(out)
	if last := len(out) - 1; last >= 0 && out[last].kind == tokLParen {
		out = out[:last]
		return out, last > 0 && (out[last-1].kind == tokTerm || out[last-1].kind == tokRParen)
	}
	return append(out, qsToken{kind: tokRParen}), true
}

func trimDangling(tokens []qsToken) []qsToken {
	for len(tokens) > 0 {
		switch tokens[len(tokens)-1].kind {
		case tokAnd, tokOr, tokNot:
			tokens = tokens[:len(tokens)-1]
		default:
			return tokens
		}
	}
	return tokens
}

func termSQL(tok qsToken, field string) string {
	pattern := tok.text
	if !tok.phrase {
		pattern = wildcardToLike(pattern)
	}
	target := TextField(field)
	if field == AllField {
		target = ColumnSource + "::text"
	}
	return target + " ILIKE " + Literal("%"+pattern+"%")
}

func renderTokens(tokens []qsToken, defaultField, op string) string {
	var b strings.Builder
	fields := []string{defaultField}
	operand := false
	joinIfNeeded := func() {
		if operand {
			b.WriteString(" " + op + " ")
		}
	}
	for _, tok := range tokens {
		switch tok.kind {
		case tokTerm:
			joinIfNeeded()
			field := fields[len(fields)-1]
			if tok.field != "" {
				field = tok.field
			}
			b.WriteString(termSQL(tok, field))
			operand = true
		case tokAnd:
			b.WriteString(" AND ")
			operand = false
		case tokOr:
			b.WriteString(" OR ")
			operand = false
		case tokNot:
			joinIfNeeded()
			b.WriteString("NOT ")
			operand = false
		case tokLParen:
			joinIfNeeded()
			b.WriteString("(")
			scope := fields[len(fields)-1]
			if tok.field != "" {
				scope = tok.field
			}
			fields = append(fields, scope)
			operand = false
		case tokRParen:
			b.WriteString(")")
			if len(fields) > 1 {
				fields = fields[:len(fields)-1]
			}
			operand = true
		}
	}
	return b.String()
}
