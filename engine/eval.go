package engine

import (
	"fmt"
	"sort"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/concurrent"
	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/metricsql"
)

// evalContext carries the per-query evaluation time and lookbehind
// policy One evalContext is created per evaluated
// timestamp (instant query, or one step of a range query).
type evalContext struct {
	engine *Engine
	at     int64 // evaluation timestamp, ms epoch

	// lookbehind is either the fixed window (instant query: DefaultLookbehind,
	// unless overridden) or, when useMedianLookbehind is set, the step size
	// used as a fallback for series with fewer than 20 samples.
	lookbehind          int64
	useMedianLookbehind bool

	deadline *concurrent.Deadline
}

func (c *evalContext) eval(expr metricsql.Expr) (value, error) {
	if c.deadline.Expired() {
		return nil, ErrTimeout
	}
	switch e := expr.(type) {
	case *metricsql.NumberLiteral:
		return scalarValue(e.Value), nil
	case *metricsql.StringLiteral:
		return stringValue(e.Value), nil
	case *metricsql.ParenExpr:
		return c.eval(e.Expr)
	case *metricsql.UnaryExpr:
		return c.evalUnary(e)
	case *metricsql.Selector:
		return c.evalSelector(e)
	case *metricsql.BinaryExpr:
		return c.evalBinary(e)
	case *metricsql.AggregateExpr:
		return c.evalAggregate(e)
	case *metricsql.Call:
		return c.evalCall(e)
	case *metricsql.SubqueryExpr:
		return c.evalSubquery(e)
	default:
		return nil, fmt.Errorf("engine: unsupported expression type %T", expr)
	}
}

func (c *evalContext) evalUnary(e *metricsql.UnaryExpr) (value, error) {
	v, err := c.eval(e.Expr)
	if err != nil {
		return nil, err
	}
	sign := 1.0
	if e.Op == metricsql.OpSub {
		sign = -1.0
	}
	switch vv := v.(type) {
	case scalarValue:
		return scalarValue(float64(vv) * sign), nil
	case vectorValue:
		out := make(vectorValue, len(vv))
		for i, s := range vv {
			out[i] = Sample{Labels: s.Labels, TS: s.TS, V: s.V * sign}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("engine: unary operator applied to non-numeric value")
	}
}

// effectiveTime resolves a selector's @ and offset modifiers against the
// context's evaluation time
func (c *evalContext) effectiveTime(at *float64, offset *metricsql.Duration) int64 {
	t := c.at
	if at != nil {
		t = int64(*at * 1000)
	}
	if offset != nil {
		t -= offset.Milliseconds()
	}
	return t
}

// evalSelector evaluates a bare (instant-vector) selector: the latest
// sample in (t-lookbehind, t] per matching series
func (c *evalContext) evalSelector(sel *metricsql.Selector) (value, error) {
	if sel.Window != nil {
		rv, err := c.evalRangeSelector(sel)
		if err != nil {
			return nil, err
		}
		return rv, nil
	}

	t := c.effectiveTime(sel.At, sel.Offset)
	matchers, err := toIndexMatchers(sel.Matchers)
	if err != nil {
		return nil, err
	}
	ids := c.engine.store.SelectIDs([][]*index.Matcher{matchers})

	out := make(vectorValue, 0, len(ids))
	for _, id := range ids {
		ser, ok := c.engine.store.SeriesByID(id)
		if !ok {
			continue
		}
		lookbehind := c.lookbehind
		if c.useMedianLookbehind {
			lookbehind = perSeriesLookbehind(ser, c.lookbehind)
		}
		samples := ser.Range(t-lookbehind+1, t)
		if len(samples) == 0 {
			continue
		}
		last := samples[len(samples)-1]
		out = append(out, Sample{Labels: ser.Labels, TS: t, V: last.V})
	}
	return out, nil
}

// evalRangeSelector returns every sample in [t-window-offset, t-offset]
// per matching series, the argument shape rollup functions consume.
func (c *evalContext) evalRangeSelector(sel *metricsql.Selector) (rangeVectorValue, error) {
	t := c.effectiveTime(sel.At, sel.Offset)
	window := sel.Window.Milliseconds()

	matchers, err := toIndexMatchers(sel.Matchers)
	if err != nil {
		return nil, err
	}
	ids := c.engine.store.SelectIDs([][]*index.Matcher{matchers})

	out := make(rangeVectorValue, 0, len(ids))
	for _, id := range ids {
		ser, ok := c.engine.store.SeriesByID(id)
		if !ok {
			continue
		}
		samples := ser.Range(t-window, t)
		out = append(out, rangeSeries{labels: ser.Labels, points: toChunkSamples(samples), windowMs: window})
	}
	return out, nil
}

func toChunkSamples(in []chunk.Sample) []chunk.Sample {
	out := make([]chunk.Sample, len(in))
	copy(out, in)
	return out
}

// perSeriesLookbehind computes the median of a series' first 20 sample
// intervals, falling back to fallback (the query step) when fewer than
// 20 samples exist; the result is never below fallback.
func perSeriesLookbehind(ser seriesRanger, fallback int64) int64 {
	first, last, ok := ser.FirstLast()
	if !ok || first == last {
		return fallback
	}
	samples := ser.Range(first, last)
	if len(samples) < 2 {
		return fallback
	}
	n := len(samples)
	if n > 21 {
		n = 21
	}
	intervals := make([]int64, 0, n-1)
	for i := 1; i < n; i++ {
		intervals = append(intervals, samples[i].TS-samples[i-1].TS)
	}
	if len(samples) < 20 {
		return fallback
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })
	mid := len(intervals) / 2
	if len(intervals)%2 == 0 {
		med := (intervals[mid-1] + intervals[mid]) / 2
		if med > fallback {
			return med
		}
		return fallback
	}
	if intervals[mid] > fallback {
		return intervals[mid]
	}
	return fallback
}

// seriesRanger is the minimal Series surface perSeriesLookbehind needs,
// kept narrow so it's trivially mockable in tests.
type seriesRanger interface {
	FirstLast() (first, last int64, ok bool)
	Range(from, to int64) []chunk.Sample
}

func (c *evalContext) evalSubquery(e *metricsql.SubqueryExpr) (value, error) {
	step := e.Window.Milliseconds() / 20
	if e.Step != nil {
		step = e.Step.Milliseconds()
	}
	if step <= 0 {
		step = c.lookbehind
	}
	end := c.effectiveTime(e.At, e.Offset)
	windowMs := e.Window.Milliseconds()
	start := end - windowMs

	bySeries := map[uint64]*rangeSeries{}
	var order []uint64
	for ts := start; ts <= end; ts += step {
		sub := &evalContext{engine: c.engine, at: ts, lookbehind: step, deadline: c.deadline}
		val, err := sub.eval(e.Expr)
		if err != nil {
			return nil, err
		}
		vec, ok := val.(vectorValue)
		if !ok {
			return nil, fmt.Errorf("engine: subquery inner expression must be an instant vector")
		}
		for _, s := range vec {
			fp := s.Labels.Fingerprint()
			rs, ok := bySeries[fp]
			if !ok {
				rs = &rangeSeries{labels: s.Labels, windowMs: windowMs}
				bySeries[fp] = rs
				order = append(order, fp)
			}
			rs.points = append(rs.points, chunk.Sample{TS: s.TS, V: s.V})
		}
	}
	out := make(rangeVectorValue, 0, len(order))
	for _, fp := range order {
		out = append(out, *bySeries[fp])
	}
	return out, nil
}
