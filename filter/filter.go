// Package filter parses the two matcher grammars accepted by the command
// surface's FILTER argument: a basic label=value grammar
// with no regex support, and a Prometheus-style `metric{lbl op val}`
// grammar, compiling either into label.Matcher-shaped selector groups
// (OR-of-AND-groups).
package filter

import (
	"fmt"
	"strings"

	"github.com/flashts/flashts/index"
)

// Groups is an OR-of-AND matcher selection: the outer slice is OR'd
// (selector groups, e.g. multiple FILTER arguments or a brace-level `or`),
// the inner slice is AND'd within one group.
type Groups [][]*index.Matcher

// ParseBasic parses one basic-grammar token: `label=value`, `label!=value`,
// `label=(v1,v2,...)`, or `label!=(v1,v2,...)`. The list form compiles to a
// single posting-union matcher (a regexp alternation of the escaped
// literals)
func ParseBasic(token string) (*index.Matcher, error) {
	neg := false
	op := "="
	idx := strings.Index(token, "!=")
	if idx >= 0 {
		neg = true
		op = "!="
	} else {
		idx = strings.Index(token, "=")
		if idx < 0 {
			return nil, fmt.Errorf("filter: basic matcher %q missing = or !=", token)
		}
	}

	name := strings.TrimSpace(token[:idx])
	valuePart := strings.TrimSpace(token[idx+len(op):])
	if name == "" {
		return nil, fmt.Errorf("filter: basic matcher %q missing label name", token)
	}

	if strings.HasPrefix(valuePart, "(") && strings.HasSuffix(valuePart, ")") {
		inner := valuePart[1 : len(valuePart)-1]
		items := splitTopLevel(inner, ',')
		for i := range items {
			items[i] = regexpEscape(strings.TrimSpace(items[i]))
		}
		pattern := strings.Join(items, "|")
		mt := index.MatchRegexp
		if neg {
			mt = index.MatchNotRegexp
		}
		return index.NewMatcher(mt, name, pattern)
	}

	mt := index.MatchEqual
	if neg {
		mt = index.MatchNotEqual
	}
	return index.NewMatcher(mt, name, unquote(valuePart))
}

// ParseBasicAll parses a sequence of basic-grammar tokens (e.g. the
// space-separated arguments a command adapter splits a single FILTER
// argument into) as a single AND group.
func ParseBasicAll(tokens []string) ([]*index.Matcher, error) {
	out := make([]*index.Matcher, 0, len(tokens))
	for _, tok := range tokens {
		m, err := ParseBasic(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func regexpEscape(s string) string {
	special := `.+*?()|[]{}^$\`
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitTopLevel splits s on sep, ignoring separators inside single,
// double, or backtick quotes.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

// unquote strips a matching pair of ", ', or ` quotes and resolves
// C-style escapes inside Unquoted input passes through
// unchanged.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	if (q != '"' && q != '\'' && q != '`') || s[len(s)-1] != q {
		return s
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '"', '\'', '`':
				b.WriteByte(inner[i])
			default:
				b.WriteByte('\\')
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ParseMulti OR's the parse of each basic-grammar FILTER argument into a
// Groups selector: `MGET FILTER f1 FILTER f2` becomes `f1 OR f2`, where
// each fN is itself an AND of its own matchers
func ParseMulti(filters [][]string) (Groups, error) {
	groups := make(Groups, 0, len(filters))
	for _, tokens := range filters {
		g, err := ParseBasicAll(tokens)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
