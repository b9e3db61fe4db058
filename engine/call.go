package engine

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsql"
)

// evalCall dispatches a function Call to its rollup, transform, or
// label-manipulation implementation. Grounded on
// prometheus-prometheus/promql/functions.go's FunctionCalls dispatch
// table, mirrored here as a Go switch over metricsql.Functions' kind tag.
func (c *evalContext) evalCall(e *metricsql.Call) (value, error) {
	sig, ok := metricsql.Functions[e.Name]
	if !ok {
		return nil, fmt.Errorf("engine: unknown function %q", e.Name)
	}
	switch sig.Kind {
	case metricsql.FuncRollup:
		return c.evalRollupCall(e)
	case metricsql.FuncLabel:
		return c.evalLabelCall(e)
	default:
		return c.evalTransformCall(e)
	}
}

// evalRollupCall evaluates e.Args[0] (a range-vector expression) and
// applies the named rollup function per series, handling counter resets
// for rate/increase.
func (c *evalContext) evalRollupCall(e *metricsql.Call) (value, error) {
	argVal, err := c.eval(e.Args[0])
	if err != nil {
		return nil, err
	}
	rv, ok := argVal.(rangeVectorValue)
	if !ok {
		return nil, typeMismatch("range vector", argVal)
	}

	var quantileArg float64
	// quantile_over_time takes the range vector first and q second; the
	// (q, range vector) order is not accepted.
	if e.Name == "quantile_over_time" {
		qv, err := c.eval(e.Args[1])
		if err != nil {
			return nil, err
		}
		sv, ok := qv.(scalarValue)
		if !ok {
			return nil, fmt.Errorf("engine: quantile_over_time's second argument must be scalar")
		}
		quantileArg = float64(sv)
	}

	out := make(vectorValue, 0, len(rv))
	for _, rs := range rv {
		if len(rs.points) == 0 {
			continue
		}
		v, ok := rollup(e.Name, rs.points, rs.windowMs, quantileArg)
		if !ok {
			continue
		}
		out = append(out, Sample{Labels: rs.labels, TS: c.at, V: v})
	}
	return out, nil
}

// rollup computes one rollup function's value over points, which are in
// ascending timestamp order, and windowMs, the rollup's declared window
// ([w] in rate(s[w]), not the span between the first and last sample
// actually found in it). Grounded on
// prometheus-prometheus/promql/functions.go's extrapolatedRate/instant
// rate helpers, simplified to window-local semantics
// (no extrapolation to the window boundary).
func rollup(name string, points []chunk.Sample, windowMs int64, q float64) (float64, bool) {
	n := len(points)
	if n == 0 {
		return 0, false
	}
	switch name {
	case "rate", "increase":
		if n < 2 {
			return 0, false
		}
		inc := counterIncrease(points)
		if name == "increase" {
			return inc, true
		}
		dur := float64(windowMs) / 1000
		if dur <= 0 {
			return 0, false
		}
		return inc / dur, true
	case "irate", "idelta":
		// Unlike rate, irate is an instant rate: it divides by the gap
		// between the last two samples actually observed, not the
		// declared window, so a sparse series still yields a rate
		// reflecting its most recent two scrapes.
		if n < 2 {
			return 0, false
		}
		last, prev := points[n-1], points[n-2]
		d := last.V - prev.V
		if name == "idelta" {
			return d, true
		}
		if d < 0 {
			d = last.V
		}
		dur := float64(last.TS-prev.TS) / 1000
		if dur <= 0 {
			return 0, false
		}
		return d / dur, true
	case "delta":
		if n < 2 {
			return 0, false
		}
		return points[n-1].V - points[0].V, true
	case "changes":
		var cnt float64
		for i := 1; i < n; i++ {
			if points[i].V != points[i-1].V {
				cnt++
			}
		}
		return cnt, true
	case "resets":
		var cnt float64
		for i := 1; i < n; i++ {
			if points[i].V < points[i-1].V {
				cnt++
			}
		}
		return cnt, true
	case "avg_over_time":
		var sum float64
		for _, p := range points {
			sum += p.V
		}
		return sum / float64(n), true
	case "min_over_time":
		m := points[0].V
		for _, p := range points[1:] {
			if p.V < m {
				m = p.V
			}
		}
		return m, true
	case "max_over_time":
		m := points[0].V
		for _, p := range points[1:] {
			if p.V > m {
				m = p.V
			}
		}
		return m, true
	case "sum_over_time":
		var sum float64
		for _, p := range points {
			sum += p.V
		}
		return sum, true
	case "count_over_time":
		return float64(n), true
	case "last_over_time":
		return points[n-1].V, true
	case "stddev_over_time", "stdvar_over_time":
		var mean float64
		for _, p := range points {
			mean += p.V
		}
		mean /= float64(n)
		var variance float64
		for _, p := range points {
			d := p.V - mean
			variance += d * d
		}
		variance /= float64(n)
		if name == "stdvar_over_time" {
			return variance, true
		}
		return math.Sqrt(variance), true
	case "quantile_over_time":
		vals := make([]float64, n)
		for i, p := range points {
			vals[i] = p.V
		}
		sort.Float64s(vals)
		return quantileOf(vals, q), true
	default:
		return 0, false
	}
}

// counterIncrease sums the counter's total increase across points,
// crediting a reset (a value drop) with the pre-reset value.
func counterIncrease(points []chunk.Sample) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		d := points[i].V - points[i-1].V
		if d < 0 {
			total += points[i].V
		} else {
			total += d
		}
	}
	return total
}

func quantileOf(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q < 0 {
		return math.Inf(-1)
	}
	if q > 1 {
		return math.Inf(1)
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// evalTransformCall implements elementwise transform
// functions over an instant vector (or scalar, for scalar()/vector()).
func (c *evalContext) evalTransformCall(e *metricsql.Call) (value, error) {
	switch e.Name {
	case "scalar":
		v, err := c.eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		vec, ok := v.(vectorValue)
		if !ok {
			if sv, ok := v.(scalarValue); ok {
				return sv, nil
			}
			return nil, typeMismatch("vector", v)
		}
		if len(vec) != 1 {
			return scalarValue(math.NaN()), nil
		}
		return scalarValue(vec[0].V), nil
	case "vector":
		v, err := c.eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		sv, ok := v.(scalarValue)
		if !ok {
			return nil, typeMismatch("scalar", v)
		}
		ls, _ := labelset.NewBuilder().Build()
		return vectorValue{{Labels: ls, TS: c.at, V: float64(sv)}}, nil
	case "absent":
		v, err := c.eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		vec, ok := v.(vectorValue)
		if !ok {
			return nil, typeMismatch("vector", v)
		}
		if len(vec) > 0 {
			return vectorValue{}, nil
		}
		ls, _ := labelset.NewBuilder().Build()
		return vectorValue{{Labels: ls, TS: c.at, V: 1}}, nil
	case "timestamp":
		vec, err := c.evalVectorArg(e.Args[0])
		if err != nil {
			return nil, err
		}
		out := make(vectorValue, len(vec))
		for i, s := range vec {
			out[i] = Sample{Labels: s.Labels, TS: s.TS, V: float64(s.TS) / 1000}
		}
		return out, nil
	case "sort", "sort_desc":
		vec, err := c.evalVectorArg(e.Args[0])
		if err != nil {
			return nil, err
		}
		out := make(vectorValue, len(vec))
		copy(out, vec)
		sort.Slice(out, func(i, j int) bool {
			if e.Name == "sort" {
				return out[i].V < out[j].V
			}
			return out[i].V > out[j].V
		})
		return out, nil
	case "clamp", "clamp_min", "clamp_max":
		return c.evalClamp(e)
	case "round":
		return c.evalRound(e)
	default:
		return c.evalUnaryMathFunc(e)
	}
}

func (c *evalContext) evalVectorArg(expr metricsql.Expr) (vectorValue, error) {
	v, err := c.eval(expr)
	if err != nil {
		return nil, err
	}
	vec, ok := v.(vectorValue)
	if !ok {
		return nil, typeMismatch("vector", v)
	}
	return vec, nil
}

func (c *evalContext) evalScalarArg(expr metricsql.Expr) (float64, error) {
	v, err := c.eval(expr)
	if err != nil {
		return 0, err
	}
	sv, ok := v.(scalarValue)
	if !ok {
		return 0, typeMismatch("scalar", v)
	}
	return float64(sv), nil
}

func (c *evalContext) evalRound(e *metricsql.Call) (value, error) {
	vec, err := c.evalVectorArg(e.Args[0])
	if err != nil {
		return nil, err
	}
	nearest := 1.0
	if len(e.Args) == 2 {
		nearest, err = c.evalScalarArg(e.Args[1])
		if err != nil {
			return nil, err
		}
	}
	out := make(vectorValue, len(vec))
	for i, s := range vec {
		out[i] = Sample{Labels: s.Labels, TS: s.TS, V: math.Round(s.V/nearest) * nearest}
	}
	return out, nil
}

func (c *evalContext) evalClamp(e *metricsql.Call) (value, error) {
	vec, err := c.evalVectorArg(e.Args[0])
	if err != nil {
		return nil, err
	}
	var lo, hi float64
	switch e.Name {
	case "clamp":
		lo, err = c.evalScalarArg(e.Args[1])
		if err != nil {
			return nil, err
		}
		hi, err = c.evalScalarArg(e.Args[2])
		if err != nil {
			return nil, err
		}
	case "clamp_min":
		lo, err = c.evalScalarArg(e.Args[1])
		if err != nil {
			return nil, err
		}
		hi = math.Inf(1)
	case "clamp_max":
		lo = math.Inf(-1)
		hi, err = c.evalScalarArg(e.Args[1])
		if err != nil {
			return nil, err
		}
	}
	out := make(vectorValue, len(vec))
	for i, s := range vec {
		v := s.V
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		out[i] = Sample{Labels: s.Labels, TS: s.TS, V: v}
	}
	return out, nil
}

func (c *evalContext) evalUnaryMathFunc(e *metricsql.Call) (value, error) {
	vec, err := c.evalVectorArg(e.Args[0])
	if err != nil {
		return nil, err
	}
	f, ok := unaryMathFuncs[e.Name]
	if !ok {
		return nil, fmt.Errorf("engine: unsupported function %q", e.Name)
	}
	out := make(vectorValue, len(vec))
	for i, s := range vec {
		out[i] = Sample{Labels: s.Labels, TS: s.TS, V: f(s.V)}
	}
	return out, nil
}

var unaryMathFuncs = map[string]func(float64) float64{
	"abs":   math.Abs,
	"ceil":  math.Ceil,
	"floor": math.Floor,
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"ln":    math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"sgn": func(v float64) float64 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	},
}

// evalLabelCall implements label_replace and label_join, mirroring
// Prometheus's funcLabelReplace/funcLabelJoin.
func (c *evalContext) evalLabelCall(e *metricsql.Call) (value, error) {
	vec, err := c.evalVectorArg(e.Args[0])
	if err != nil {
		return nil, err
	}
	switch e.Name {
	case "label_replace":
		dstLabel, err := stringArg(e.Args[1])
		if err != nil {
			return nil, err
		}
		replacement, err := stringArg(e.Args[2])
		if err != nil {
			return nil, err
		}
		srcLabel, err := stringArg(e.Args[3])
		if err != nil {
			return nil, err
		}
		pattern, err := stringArg(e.Args[4])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("engine: label_replace: %w", err)
		}
		out := make(vectorValue, 0, len(vec))
		for _, s := range vec {
			src, _ := s.Labels.Get(srcLabel)
			m := re.FindStringSubmatchIndex(src)
			if m == nil {
				out = append(out, s)
				continue
			}
			dst := string(re.ExpandString(nil, replacement, src, m))
			b := labelset.NewBuilder()
			s.Labels.Range(func(l labelset.Label) {
				if l.Name != dstLabel {
					b.Add(l.Name, l.Value)
				}
			})
			b.Add(dstLabel, dst)
			ls, err := b.Build()
			if err != nil {
				return nil, fmt.Errorf("engine: label_replace: %w", err)
			}
			out = append(out, Sample{Labels: ls, TS: s.TS, V: s.V})
		}
		return out, nil
	case "label_join":
		dstLabel, err := stringArg(e.Args[1])
		if err != nil {
			return nil, err
		}
		sep, err := stringArg(e.Args[2])
		if err != nil {
			return nil, err
		}
		srcLabels := make([]string, 0, len(e.Args)-3)
		for _, a := range e.Args[3:] {
			s, err := stringArg(a)
			if err != nil {
				return nil, err
			}
			srcLabels = append(srcLabels, s)
		}
		out := make(vectorValue, 0, len(vec))
		for _, s := range vec {
			parts := make([]string, len(srcLabels))
			for i, name := range srcLabels {
				parts[i], _ = s.Labels.Get(name)
			}
			joined := strings.Join(parts, sep)
			b := labelset.NewBuilder()
			s.Labels.Range(func(l labelset.Label) {
				if l.Name != dstLabel {
					b.Add(l.Name, l.Value)
				}
			})
			b.Add(dstLabel, joined)
			ls, err := b.Build()
			if err != nil {
				return nil, fmt.Errorf("engine: label_join: %w", err)
			}
			out = append(out, Sample{Labels: ls, TS: s.TS, V: s.V})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("engine: unsupported label function %q", e.Name)
	}
}

func stringArg(expr metricsql.Expr) (string, error) {
	sl, ok := expr.(*metricsql.StringLiteral)
	if !ok {
		return "", fmt.Errorf("engine: expected string literal argument")
	}
	return sl.Value, nil
}
