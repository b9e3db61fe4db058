package filter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
)

// ParsePromSelector parses one Prometheus-style selector: `metric`,
// `metric{lbl op val, ...}`, or `{lbl op val, ...}`. A top-level `or`
// inside the braces splits the result into multiple OR'd selector groups,
//
func ParsePromSelector(s string) (Groups, error) {
	p := &selectorParser{src: s}
	groups, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("filter: %w (in %q)", err, s)
	}
	return groups, nil
}

type selectorParser struct {
	src string
	pos int
}

func (p *selectorParser) parse() (Groups, error) {
	p.skipSpace()
	metricName := p.readIdentifier()
	p.skipSpace()

	var bodyGroups Groups
	if p.pos < len(p.src) && p.src[p.pos] == '{' {
		var err error
		bodyGroups, err = p.parseBraces()
		if err != nil {
			return nil, err
		}
	} else {
		bodyGroups = Groups{{}}
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", p.pos)
	}

	if metricName == "" {
		if len(bodyGroups) == 0 {
			return nil, fmt.Errorf("empty selector")
		}
		return bodyGroups, nil
	}

	nameMatcher, err := index.NewMatcher(index.MatchEqual, labelset.MetricName, metricName)
	if err != nil {
		return nil, err
	}
	out := make(Groups, len(bodyGroups))
	for i, g := range bodyGroups {
		out[i] = append([]*index.Matcher{nameMatcher}, g...)
	}
	return out, nil
}

// parseBraces parses `{ term (',' term)* ('or' term...)* }`, splitting on
// top-level `or` into separate AND groups.
func (p *selectorParser) parseBraces() (Groups, error) {
	if p.src[p.pos] != '{' {
		return nil, fmt.Errorf("expected '{'")
	}
	p.pos++

	var groups Groups
	var current []*index.Matcher

	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("unterminated '{'")
		}
		if p.src[p.pos] == '}' {
			p.pos++
			groups = append(groups, current)
			return groups, nil
		}
		if p.peekKeyword("or") {
			p.pos += 2
			groups = append(groups, current)
			current = nil
			continue
		}

		m, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		current = append(current, m)

		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *selectorParser) peekKeyword(kw string) bool {
	if p.pos+len(kw) > len(p.src) {
		return false
	}
	if p.src[p.pos:p.pos+len(kw)] != kw {
		return false
	}
	after := p.pos + len(kw)
	return after == len(p.src) || !isIdentByte(p.src[after])
}

// parseTerm parses `name op value`.
func (p *selectorParser) parseTerm() (*index.Matcher, error) {
	p.skipSpace()
	name := p.readIdentifier()
	if name == "" {
		return nil, fmt.Errorf("expected label name at offset %d", p.pos)
	}
	p.skipSpace()

	mt, err := p.readOp()
	if err != nil {
		return nil, err
	}
	p.skipSpace()

	value, err := p.readValue()
	if err != nil {
		return nil, err
	}
	return index.NewMatcher(mt, name, value)
}

func (p *selectorParser) readOp() (index.MatchType, error) {
	rest := p.src[p.pos:]
	switch {
	case strings.HasPrefix(rest, "!~"):
		p.pos += 2
		return index.MatchNotRegexp, nil
	case strings.HasPrefix(rest, "=~"):
		p.pos += 2
		return index.MatchRegexp, nil
	case strings.HasPrefix(rest, "!="):
		p.pos += 2
		return index.MatchNotEqual, nil
	case strings.HasPrefix(rest, "="):
		p.pos++
		return index.MatchEqual, nil
	default:
		return 0, fmt.Errorf("expected operator at offset %d", p.pos)
	}
}

func (p *selectorParser) readValue() (string, error) {
	if p.pos >= len(p.src) {
		return "", fmt.Errorf("expected value at offset %d", p.pos)
	}
	c := p.src[p.pos]
	if c == '"' || c == '\'' || c == '`' {
		start := p.pos
		p.pos++
		for p.pos < len(p.src) {
			if p.src[p.pos] == '\\' && p.pos+1 < len(p.src) {
				p.pos += 2
				continue
			}
			if p.src[p.pos] == c {
				p.pos++
				return unquote(p.src[start:p.pos]), nil
			}
			p.pos++
		}
		return "", fmt.Errorf("unterminated quote starting at offset %d", start)
	}
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != ',' && p.src[p.pos] != '}' {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos]), nil
}

func (p *selectorParser) readIdentifier() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdentByte(b byte) bool {
	return b == '_' || b == ':' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (p *selectorParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}
