package metricsql

import (
	"fmt"
	"strings"
)

// TokenKind classifies a lexed token.
type TokenKind uint8

const (
	TokEOF TokenKind = iota
	TokIdent
	TokNumber
	TokString
	TokDuration
	TokOp     // +,-,*,/,%,^,==,!=,>,<,>=,<=,=~,!~
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokComma
	TokAt
	TokColon
)

// Token is one lexed unit with its byte offset for error messages.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// Lexer is a hand-written scanner; grounded on
// prometheus-prometheus/promql/parser's token-based lexer split (a
// separate scan pass feeding a Pratt parser), reimplemented directly
// since this component must be built, not delegated.
type Lexer struct {
	src  string
	pos  int
	toks []Token
}

// NewLexer returns a Lexer over src without scanning it; scanning and
// any error (a metricsql.ParseError) happen in Lex, which keeps the
// constructor infallible.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src}
}

// Lex returns every token in src, including a trailing TokEOF.
func (l *Lexer) Lex() ([]Token, error) {
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			l.toks = append(l.toks, Token{Kind: TokEOF, Pos: l.pos})
			return l.toks, nil
		}
		if err := l.lexOne(); err != nil {
			return nil, err
		}
	}
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentCont(b byte) bool {
	return isIdentStart(b) || isDigit(b) || b == '.' || b == ':'
}

func (l *Lexer) lexOne() error {
	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '(':
		l.pos++
		l.emit(TokLParen, start)
	case c == ')':
		l.pos++
		l.emit(TokRParen, start)
	case c == '{':
		l.pos++
		l.emit(TokLBrace, start)
	case c == '}':
		l.pos++
		l.emit(TokRBrace, start)
	case c == '[':
		l.pos++
		l.emit(TokLBracket, start)
	case c == ']':
		l.pos++
		l.emit(TokRBracket, start)
	case c == ',':
		l.pos++
		l.emit(TokComma, start)
	case c == '@':
		l.pos++
		l.emit(TokAt, start)
	case c == ':':
		l.pos++
		l.emit(TokColon, start)
	case c == '"' || c == '\'' || c == '`':
		return l.lexString(c)
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.lexNumberOrDuration()
	case isIdentStart(c):
		l.lexIdent()
	case strings.ContainsRune("+-*/%^=!<>", rune(c)):
		l.lexOperator()
	default:
		return &ParseError{Offset: l.pos, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
	return nil
}

func (l *Lexer) emit(kind TokenKind, start int) {
	l.toks = append(l.toks, Token{Kind: kind, Text: l.src[start:l.pos], Pos: start})
}

func (l *Lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) {
		if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
			l.pos += 2
			continue
		}
		if l.src[l.pos] == quote {
			l.pos++
			l.toks = append(l.toks, Token{Kind: TokString, Text: l.src[start:l.pos], Pos: start})
			return nil
		}
		l.pos++
	}
	return &ParseError{Offset: start, Msg: "unterminated string literal"}
}

// lexNumberOrDuration scans a numeric literal, disambiguating a plain
// number from a duration by whether a known unit suffix immediately
// follows
func (l *Lexer) lexNumberOrDuration() error {
	start := l.pos
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	// chained duration segments like 1h30m: keep consuming unit+digits runs.
	isDur := false
	for l.pos < len(l.src) {
		unitLen, ok := matchDurationUnit(l.src[l.pos:])
		if !ok {
			break
		}
		isDur = true
		l.pos += unitLen
		digitsStart := l.pos
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		if l.pos == digitsStart {
			break
		}
	}
	if isDur {
		l.toks = append(l.toks, Token{Kind: TokDuration, Text: l.src[start:l.pos], Pos: start})
	} else {
		l.toks = append(l.toks, Token{Kind: TokNumber, Text: l.src[start:l.pos], Pos: start})
	}
	return nil
}

func matchDurationUnit(s string) (int, bool) {
	for _, u := range []string{"ms", "s", "m", "h", "d", "w", "y"} {
		if strings.HasPrefix(s, u) {
			// don't swallow the start of a longer identifier, e.g. "m" in "max".
			if len(s) > len(u) && isIdentStart(s[len(u)]) {
				continue
			}
			return len(u), true
		}
	}
	return 0, false
}

func (l *Lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
		l.pos++
	}
	l.toks = append(l.toks, Token{Kind: TokIdent, Text: l.src[start:l.pos], Pos: start})
}

func (l *Lexer) lexOperator() {
	start := l.pos
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", ">=", "<=", "=~", "!~":
		l.pos += 2
	default:
		l.pos++
	}
	l.toks = append(l.toks, Token{Kind: TokOp, Text: l.src[start:l.pos], Pos: start})
}

// ParseError carries the byte offset of a parse/lex failure.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("metricsql: parse error at offset %d: %s", e.Offset, e.Msg)
}
