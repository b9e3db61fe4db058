// Package metricsql implements the lexer, Pratt-precedence parser, and AST
// for the MetricsQL/PromQL subset. Grounded on
// prometheus-prometheus/promql/parser's node catalogue (ast.go), carried
// over as a node-shape reference rather than imported: this component
// must build its own evaluator, so it parses into this package's own
// Expr and Matcher types instead of promql.Expr.
package metricsql

import "fmt"

// ValueType classifies what an expression evaluates to.
type ValueType uint8

const (
	ValueVector ValueType = iota
	ValueRangeVector
	ValueScalar
	ValueString
)

func (t ValueType) String() string {
	switch t {
	case ValueVector:
		return "vector"
	case ValueRangeVector:
		return "range vector"
	case ValueScalar:
		return "scalar"
	case ValueString:
		return "string"
	default:
		return "unknown"
	}
}

// Expr is the common interface for every AST node.
type Expr interface {
	Type() ValueType
	String() string
}

// Matcher is one label predicate inside a selector, mirroring
// index.Matcher's shape without importing the index package (metricsql
// stays dependency-light; callers translate to index.Matcher at
// evaluation time via engine's toIndexMatchers).
type Matcher struct {
	Type  MatchType
	Name  string
	Value string
}

// MatchType mirrors index.MatchType so metricsql doesn't need to import
// index just to name an operator.
type MatchType uint8

const (
	MatchEqual MatchType = iota
	MatchNotEqual
	MatchRegexp
	MatchNotRegexp
)

// Selector is an instant- or range-vector selector: `metric{lbl=val}`,
// optionally windowed (`[5m]`), offset, and/or `@` time-anchored.
type Selector struct {
	Matchers []*Matcher
	Window   *Duration // non-nil => range-vector
	Offset   *Duration
	At       *float64 // unix seconds, set by `@ <timestamp>`
}

func (s *Selector) Type() ValueType {
	if s.Window != nil {
		return ValueRangeVector
	}
	return ValueVector
}

func (s *Selector) String() string {
	out := ""
	for _, m := range s.Matchers {
		if m.Name == "__name__" && m.Type == MatchEqual {
			out = m.Value
		}
	}
	return out + "{...}"
}

// NumberLiteral is a bare scalar constant.
type NumberLiteral struct {
	Value float64
}

func (*NumberLiteral) Type() ValueType  { return ValueScalar }
func (n *NumberLiteral) String() string { return fmt.Sprintf("%g", n.Value) }

// StringLiteral is a bare quoted string constant.
type StringLiteral struct {
	Value string
}

func (*StringLiteral) Type() ValueType  { return ValueString }
func (s *StringLiteral) String() string { return fmt.Sprintf("%q", s.Value) }

// BinaryOp is the operator token for BinaryExpr.
type BinaryOp string

const (
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
	OpMod BinaryOp = "%"
	OpPow BinaryOp = "^"

	OpEQ BinaryOp = "=="
	OpNE BinaryOp = "!="
	OpGT BinaryOp = ">"
	OpLT BinaryOp = "<"
	OpGE BinaryOp = ">="
	OpLE BinaryOp = "<="

	OpAnd    BinaryOp = "and"
	OpOr     BinaryOp = "or"
	OpUnless BinaryOp = "unless"
)

// IsComparison reports whether op is one of ==,!=,>,<,>=,<=.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEQ, OpNE, OpGT, OpLT, OpGE, OpLE:
		return true
	default:
		return false
	}
}

// IsSetOp reports whether op is and/or/unless.
func (op BinaryOp) IsSetOp() bool {
	switch op {
	case OpAnd, OpOr, OpUnless:
		return true
	default:
		return false
	}
}

// VectorMatching carries the `on`/`ignoring` label-matching modifier and
// `group_left`/`group_right` cardinality hint for a BinaryExpr between two
// instant vectors.
type VectorMatching struct {
	On           bool // true: On(labels); false: Ignoring(labels)
	MatchLabels  []string
	GroupLeft    bool
	GroupRight   bool
	Include      []string // labels copied over from the "many" side
}

// BinaryExpr is a binary operator applied between two expressions.
type BinaryExpr struct {
	Op         BinaryOp
	LHS, RHS   Expr
	Matching   *VectorMatching // nil unless both sides are vectors
	ReturnBool bool            // `bool` modifier on a comparison op
}

func (b *BinaryExpr) Type() ValueType {
	if b.LHS.Type() == ValueVector || b.RHS.Type() == ValueVector {
		return ValueVector
	}
	return ValueScalar
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.LHS, b.Op, b.RHS)
}

// AggOp names an aggregation operator.
type AggOp string

const (
	AggSum         AggOp = "sum"
	AggAvg         AggOp = "avg"
	AggMin         AggOp = "min"
	AggMax         AggOp = "max"
	AggGroup       AggOp = "group"
	AggStddev      AggOp = "stddev"
	AggStdvar      AggOp = "stdvar"
	AggCount       AggOp = "count"
	AggCountValues AggOp = "count_values"
	AggTopK        AggOp = "topk"
	AggBottomK     AggOp = "bottomk"
	AggQuantile    AggOp = "quantile"
)

// AggregateExpr aggregates a vector expression, optionally grouped by
// (or without) a set of labels
type AggregateExpr struct {
	Op       AggOp
	Expr     Expr
	Param    Expr // topk/bottomk's k, quantile's q, count_values' label name
	Grouping []string
	Without  bool
}

func (*AggregateExpr) Type() ValueType { return ValueVector }
func (a *AggregateExpr) String() string {
	return fmt.Sprintf("%s(%s)", a.Op, a.Expr)
}

// Call is a function invocation: a rollup function (rate, increase, ...),
// a transform function (abs, ceil, ...), or a label-manipulation function
// (label_replace, ...).
type Call struct {
	Name string
	Args []Expr
}

func (c *Call) Type() ValueType {
	if fn, ok := Functions[c.Name]; ok {
		return fn.ReturnType
	}
	return ValueVector
}

func (c *Call) String() string {
	return fmt.Sprintf("%s(...)", c.Name)
}

// SubqueryExpr evaluates expr repeatedly over a sliding window at its own
// step, producing a range vector.
type SubqueryExpr struct {
	Expr   Expr
	Window Duration
	Step   *Duration
	Offset *Duration
	At     *float64
}

func (*SubqueryExpr) Type() ValueType  { return ValueRangeVector }
func (s *SubqueryExpr) String() string { return fmt.Sprintf("(%s)[%s]", s.Expr, s.Window) }

// ParenExpr preserves explicit parenthesization for precedence that
// re-serialization or Pretty-printing might otherwise lose.
type ParenExpr struct {
	Expr Expr
}

func (p *ParenExpr) Type() ValueType  { return p.Expr.Type() }
func (p *ParenExpr) String() string   { return fmt.Sprintf("(%s)", p.Expr) }

// UnaryExpr is a leading +/- applied to a scalar or vector expression.
type UnaryExpr struct {
	Op   BinaryOp // OpAdd or OpSub
	Expr Expr
}

func (u *UnaryExpr) Type() ValueType { return u.Expr.Type() }
func (u *UnaryExpr) String() string  { return fmt.Sprintf("%s%s", u.Op, u.Expr) }
