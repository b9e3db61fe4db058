package metricsql

import (
	"fmt"
	"strconv"
	"strings"
)

// precedence table, low to high, mirroring PromQL's operator precedence.
var precedence = map[string]int{
	"or":     1,
	"and":    2,
	"unless": 2,
	"==":     3, "!=": 3, "<": 3, ">": 3, "<=": 3, ">=": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "%": 5,
	"^": 6,
}

var aggOps = map[string]AggOp{
	"sum": AggSum, "avg": AggAvg, "min": AggMin, "max": AggMax,
	"group": AggGroup, "stddev": AggStddev, "stdvar": AggStdvar,
	"count": AggCount, "count_values": AggCountValues,
	"topk": AggTopK, "bottomk": AggBottomK, "quantile": AggQuantile,
}

// Parser consumes a token stream and produces an Expr
type Parser struct {
	toks []Token
	pos  int
}

// Parse lexes and parses src into a single top-level expression.
func Parse(src string) (Expr, error) {
	lex := NewLexer(src)
	toks, err := lex.Lex()
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !p.at(TokEOF) {
		return nil, p.errorf("unexpected trailing token %q", p.cur().Text)
	}
	return expr, nil
}

func (p *Parser) cur() Token  { return p.toks[p.pos] }
func (p *Parser) at(k TokenKind) bool { return p.cur().Kind == k }

func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Offset: p.cur().Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(k TokenKind, what string) (Token, error) {
	if !p.at(k) {
		return Token{}, p.errorf("expected %s, got %q", what, p.cur().Text)
	}
	return p.advance(), nil
}

// parseExpr implements Pratt-precedence binary operator parsing over
// parseUnary's primaries.
func (p *Parser) parseExpr(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		opText, ok := p.peekBinOp()
		if !ok {
			return lhs, nil
		}
		prec, ok := precedence[opText]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		p.advance()

		returnBool := false
		if p.at(TokIdent) && p.cur().Text == "bool" {
			returnBool = true
			p.advance()
		}

		var matching *VectorMatching
		if p.at(TokIdent) && (p.cur().Text == "on" || p.cur().Text == "ignoring") {
			matching, err = p.parseVectorMatching()
			if err != nil {
				return nil, err
			}
		}

		rhs, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: BinaryOp(opText), LHS: lhs, RHS: rhs, Matching: matching, ReturnBool: returnBool}
	}
}

// peekBinOp returns the textual operator at the current position if it's
// a binary operator token (arithmetic/comparison via TokOp, or
// and/or/unless as bare identifiers).
func (p *Parser) peekBinOp() (string, bool) {
	t := p.cur()
	if t.Kind == TokOp {
		return t.Text, true
	}
	if t.Kind == TokIdent {
		switch t.Text {
		case "and", "or", "unless":
			return t.Text, true
		}
	}
	return "", false
}

func (p *Parser) parseVectorMatching() (*VectorMatching, error) {
	vm := &VectorMatching{On: p.cur().Text == "on"}
	p.advance() // on|ignoring
	labels, err := p.parseLabelList()
	if err != nil {
		return nil, err
	}
	vm.MatchLabels = labels

	if p.at(TokIdent) && (p.cur().Text == "group_left" || p.cur().Text == "group_right") {
		vm.GroupLeft = p.cur().Text == "group_left"
		vm.GroupRight = p.cur().Text == "group_right"
		p.advance()
		if p.at(TokLParen) {
			include, err := p.parseLabelList()
			if err != nil {
				return nil, err
			}
			vm.Include = include
		}
	}
	return vm, nil
}

func (p *Parser) parseLabelList() ([]string, error) {
	if _, err := p.expect(TokLParen, "("); err != nil {
		return nil, err
	}
	var out []string
	for !p.at(TokRParen) {
		id, err := p.expect(TokIdent, "label name")
		if err != nil {
			return nil, err
		}
		out = append(out, id.Text)
		if p.at(TokComma) {
			p.advance()
		}
	}
	p.advance() // )
	return out, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.at(TokOp) && (p.cur().Text == "-" || p.cur().Text == "+") {
		op := p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: BinaryOp(op.Text), Expr: inner}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	expr, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	return p.parseModifiers(expr)
}

// parseModifiers attaches a trailing `[window]`, `offset <dur>`, and/or
// `@ <ts>` to a freshly parsed selector or subquery base.
func (p *Parser) parseModifiers(expr Expr) (Expr, error) {
	sel, isSel := expr.(*Selector)

	if p.at(TokLBracket) {
		p.advance()
		winTok, err := p.expect(TokDuration, "duration")
		if err != nil {
			return nil, err
		}
		window, err := ParseDuration(winTok.Text)
		if err != nil {
			return nil, err
		}
		var step *Duration
		if p.at(TokColon) {
			p.advance()
			if !p.at(TokRBracket) {
				stepTok, err := p.expect(TokDuration, "duration")
				if err != nil {
					return nil, err
				}
				st, err := ParseDuration(stepTok.Text)
				if err != nil {
					return nil, err
				}
				step = &st
			}
		}
		if _, err := p.expect(TokRBracket, "]"); err != nil {
			return nil, err
		}

		if isSel && step == nil {
			sel.Window = &window
			expr = sel
		} else {
			expr = &SubqueryExpr{Expr: expr, Window: window, Step: step}
		}
	}

	for {
		switch {
		case p.at(TokIdent) && p.cur().Text == "offset":
			p.advance()
			neg := false
			if p.at(TokOp) && p.cur().Text == "-" {
				neg = true
				p.advance()
			}
			durTok, err := p.expect(TokDuration, "duration")
			if err != nil {
				return nil, err
			}
			d, err := ParseDuration(durTok.Text)
			if err != nil {
				return nil, err
			}
			if neg {
				d = -d
			}
			switch e := expr.(type) {
			case *Selector:
				e.Offset = &d
			case *SubqueryExpr:
				e.Offset = &d
			default:
				return nil, p.errorf("offset applied to non-selector expression")
			}
			continue

		case p.at(TokAt):
			p.advance()
			var ts float64
			if p.at(TokIdent) && p.cur().Text == "start" {
				p.advance()
			} else if p.at(TokIdent) && p.cur().Text == "end" {
				p.advance()
			} else {
				numTok, err := p.expect(TokNumber, "timestamp")
				if err != nil {
					return nil, err
				}
				ts, err = strconv.ParseFloat(numTok.Text, 64)
				if err != nil {
					return nil, err
				}
			}
			switch e := expr.(type) {
			case *Selector:
				e.At = &ts
			case *SubqueryExpr:
				e.At = &ts
			default:
				return nil, p.errorf("@ applied to non-selector expression")
			}
			continue
		}
		break
	}
	return expr, nil
}

func (p *Parser) parseAtom() (Expr, error) {
	switch p.cur().Kind {
	case TokNumber:
		tok := p.advance()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, &ParseError{Offset: tok.Pos, Msg: err.Error()}
		}
		return &NumberLiteral{Value: v}, nil

	case TokString:
		tok := p.advance()
		return &StringLiteral{Value: unquoteMetricsQL(tok.Text)}, nil

	case TokLParen:
		p.advance()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		return &ParenExpr{Expr: inner}, nil

	case TokLBrace:
		return p.parseSelector("")

	case TokIdent:
		return p.parseIdentLed()

	default:
		return nil, p.errorf("unexpected token %q", p.cur().Text)
	}
}

func (p *Parser) parseIdentLed() (Expr, error) {
	name := p.advance().Text

	if agg, ok := aggOps[name]; ok {
		return p.parseAggregation(agg)
	}

	if p.at(TokLParen) {
		return p.parseCall(name)
	}

	if p.at(TokLBrace) {
		return p.parseSelector(name)
	}

	// bare metric name selector
	return p.parseSelector(name)
}

func (p *Parser) parseCall(name string) (Expr, error) {
	p.advance() // (
	var args []Expr
	for !p.at(TokRParen) {
		arg, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.at(TokComma) {
			p.advance()
		}
	}
	p.advance() // )

	fn, known := Functions[name]
	if known {
		if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
			return nil, p.errorf("%s: wrong number of arguments (got %d)", name, len(args))
		}
		if fn.Kind == FuncRollup && len(args) > 0 {
			if args[0].Type() != ValueRangeVector {
				return nil, p.errorf("%s: argument must be a range vector", name)
			}
		}
	}
	return &Call{Name: name, Args: args}, nil
}

func (p *Parser) parseAggregation(op AggOp) (Expr, error) {
	agg := &AggregateExpr{Op: op}

	// `by`/`without` may appear before or after the parenthesized args.
	if p.at(TokIdent) && (p.cur().Text == "by" || p.cur().Text == "without") {
		agg.Without = p.cur().Text == "without"
		p.advance()
		labels, err := p.parseLabelList()
		if err != nil {
			return nil, err
		}
		agg.Grouping = labels
	}

	if _, err := p.expect(TokLParen, "("); err != nil {
		return nil, err
	}
	first, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.at(TokComma) {
		p.advance()
		second, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		agg.Param = first
		agg.Expr = second
	} else {
		agg.Expr = first
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return nil, err
	}

	if agg.Grouping == nil && p.at(TokIdent) && (p.cur().Text == "by" || p.cur().Text == "without") {
		agg.Without = p.cur().Text == "without"
		p.advance()
		labels, err := p.parseLabelList()
		if err != nil {
			return nil, err
		}
		agg.Grouping = labels
	}
	return agg, nil
}

// parseSelector parses `{...}` and/or a metric-name prefix into a
// Selector
func (p *Parser) parseSelector(metricName string) (Expr, error) {
	matchers := []*Matcher{}
	if metricName != "" {
		matchers = append(matchers, &Matcher{Type: MatchEqual, Name: "__name__", Value: metricName})
	}

	if p.at(TokLBrace) {
		p.advance()
		for !p.at(TokRBrace) {
			m, err := p.parseMatcherTerm()
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
			if p.at(TokComma) {
				p.advance()
			}
		}
		p.advance() // }
	}

	if len(matchers) == 0 {
		return nil, p.errorf("empty selector")
	}
	return &Selector{Matchers: matchers}, nil
}

func (p *Parser) parseMatcherTerm() (*Matcher, error) {
	nameTok, err := p.expect(TokIdent, "label name")
	if err != nil {
		return nil, err
	}
	if !p.at(TokOp) {
		return nil, p.errorf("expected matcher operator, got %q", p.cur().Text)
	}
	opText := p.advance().Text
	var mt MatchType
	switch opText {
	case "=":
		mt = MatchEqual
	case "!=":
		mt = MatchNotEqual
	case "=~":
		mt = MatchRegexp
	case "!~":
		mt = MatchNotRegexp
	default:
		return nil, p.errorf("unknown matcher operator %q", opText)
	}

	valTok, err := p.expect(TokString, "quoted value")
	if err != nil {
		return nil, err
	}
	return &Matcher{Type: mt, Name: nameTok.Text, Value: unquoteMetricsQL(valTok.Text)}, nil
}

func unquoteMetricsQL(s string) string {
	if len(s) < 2 {
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
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
