// Package index implements the process-wide inverted label index: postings
// from (label, value) to series-id bitmaps, regex/boolean matcher
// evaluation, and cardinality statistics. Grounded on
// prometheus-prometheus/tsdb/index/postings.go's MemPostings shape.
package index

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchType identifies a single matcher's comparison operator, mirroring
// prometheus-prometheus/model/labels' MatchType.
type MatchType uint8

const (
	MatchEqual MatchType = iota
	MatchNotEqual
	MatchRegexp
	MatchNotRegexp
)

func (t MatchType) String() string {
	switch t {
	case MatchEqual:
		return "="
	case MatchNotEqual:
		return "!="
	case MatchRegexp:
		return "=~"
	case MatchNotRegexp:
		return "!~"
	default:
		return "?"
	}
}

// Matcher is a single label-name/operator/value predicate. Regex matchers
// carry a precompiled, anchored *regexp.Regexp
type Matcher struct {
	Type  MatchType
	Name  string
	Value string

	re *regexp.Regexp
}

// NewMatcher builds a Matcher, compiling and anchoring the pattern for
// regex match types.
func NewMatcher(t MatchType, name, value string) (*Matcher, error) {
	m := &Matcher{Type: t, Name: name, Value: value}
	if t == MatchRegexp || t == MatchNotRegexp {
		re, err := regexp.Compile("^(?:" + value + ")$")
		if err != nil {
			return nil, fmt.Errorf("index: invalid regexp %q: %w", value, err)
		}
		m.re = re
	}
	return m, nil
}

// Matches reports whether v satisfies this matcher in isolation, ignoring
// the absent-label semantics that only the index's Select can apply (since
// "absent" requires knowledge of the full label space, not just a value).
func (m *Matcher) Matches(v string) bool {
	switch m.Type {
	case MatchEqual:
		return v == m.Value
	case MatchNotEqual:
		return v != m.Value
	case MatchRegexp:
		return m.re.MatchString(v)
	case MatchNotRegexp:
		return !m.re.MatchString(v)
	default:
		return false
	}
}

// matchesEmpty reports whether this matcher's regex accepts the empty
// string, used to decide whether absent-label series belong in a regexp
// matcher's result.
func (m *Matcher) matchesEmpty() bool {
	if m.re == nil {
		return false
	}
	return m.re.MatchString("")
}

// literalAlternatives returns the value set for a regexp matcher whose
// pattern is a plain `a|b|c` alternation of literal strings (no other
// metacharacters), and whether the pattern qualifies for that fast path.
func literalAlternatives(pattern string) ([]string, bool) {
	if strings.ContainsAny(pattern, `.*+?()[]{}^$\|`) {
		// `|` is allowed (it's the alternation separator itself); every
		// other metacharacter disqualifies the fast path.
		parts := strings.Split(pattern, "|")
		for _, p := range parts {
			if strings.ContainsAny(p, `.*+?()[]{}^$\`) {
				return nil, false
			}
		}
		return parts, true
	}
	return []string{pattern}, true
}
