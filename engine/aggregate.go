package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsql"
)

// evalAggregate implements aggregation operators, grouped
// by (or without) a label set. Grounded on
// prometheus-prometheus/promql/engine.go's aggregation() function: group
// samples by their grouping-key fingerprint, then fold per group.
func (c *evalContext) evalAggregate(e *metricsql.AggregateExpr) (value, error) {
	inner, err := c.eval(e.Expr)
	if err != nil {
		return nil, err
	}
	vec, ok := inner.(vectorValue)
	if !ok {
		return nil, typeMismatch("vector", inner)
	}

	var param float64
	var paramLabel string
	if e.Param != nil {
		pv, err := c.eval(e.Param)
		if err != nil {
			return nil, err
		}
		switch p := pv.(type) {
		case scalarValue:
			param = float64(p)
		case stringValue:
			paramLabel = string(p)
		default:
			return nil, fmt.Errorf("engine: aggregation parameter must be scalar or string")
		}
	}

	type group struct {
		labels  labelset.LabelSet
		samples []Sample
	}
	groups := make(map[uint64]*group)
	var order []uint64
	for _, s := range vec {
		key, gl := groupKey(s.Labels, e.Grouping, e.Without)
		g, ok := groups[key]
		if !ok {
			g = &group{labels: gl}
			groups[key] = g
			order = append(order, key)
		}
		g.samples = append(g.samples, s)
	}

	out := make(vectorValue, 0, len(order))
	for _, key := range order {
		g := groups[key]
		switch e.Op {
		case metricsql.AggTopK, metricsql.AggBottomK:
			out = append(out, topBottomK(g.samples, int(param), e.Op == metricsql.AggTopK)...)
			continue
		case metricsql.AggCountValues:
			out = append(out, countValues(g.samples, paramLabel, g.labels)...)
			continue
		}
		v, err := foldGroup(e.Op, g.samples, param)
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{Labels: g.labels, TS: c.at, V: v})
	}
	return out, nil
}

// groupKey computes the grouping fingerprint and the resulting output
// LabelSet (the metric name is always dropped).
func groupKey(ls labelset.LabelSet, grouping []string, without bool) (uint64, labelset.LabelSet) {
	set := make(map[string]struct{}, len(grouping))
	for _, n := range grouping {
		set[n] = struct{}{}
	}
	b := labelset.NewBuilder()
	ls.Range(func(l labelset.Label) {
		if l.Name == labelset.MetricName {
			return
		}
		_, named := set[l.Name]
		var keep bool
		if without {
			keep = !named
		} else {
			keep = named
		}
		if keep {
			b.Add(l.Name, l.Value)
		}
	})
	out, _ := b.Build()
	return out.Fingerprint(), out
}

func foldGroup(op metricsql.AggOp, samples []Sample, param float64) (float64, error) {
	n := len(samples)
	if n == 0 {
		return 0, nil
	}
	switch op {
	case metricsql.AggSum:
		var sum float64
		for _, s := range samples {
			sum += s.V
		}
		return sum, nil
	case metricsql.AggAvg:
		var sum float64
		for _, s := range samples {
			sum += s.V
		}
		return sum / float64(n), nil
	case metricsql.AggMin:
		m := samples[0].V
		for _, s := range samples[1:] {
			if s.V < m {
				m = s.V
			}
		}
		return m, nil
	case metricsql.AggMax:
		m := samples[0].V
		for _, s := range samples[1:] {
			if s.V > m {
				m = s.V
			}
		}
		return m, nil
	case metricsql.AggGroup:
		return 1, nil
	case metricsql.AggCount:
		return float64(n), nil
	case metricsql.AggStddev, metricsql.AggStdvar:
		mean := 0.0
		for _, s := range samples {
			mean += s.V
		}
		mean /= float64(n)
		var variance float64
		for _, s := range samples {
			d := s.V - mean
			variance += d * d
		}
		variance /= float64(n)
		if op == metricsql.AggStdvar {
			return variance, nil
		}
		return math.Sqrt(variance), nil
	case metricsql.AggQuantile:
		return quantile(samples, param), nil
	default:
		return 0, fmt.Errorf("engine: unsupported aggregation operator %q", op)
	}
}

func quantile(samples []Sample, q float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	if q < 0 {
		return math.Inf(-1)
	}
	if q > 1 {
		return math.Inf(1)
	}
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = s.V
	}
	sort.Float64s(vals)
	if len(vals) == 1 {
		return vals[0]
	}
	rank := q * float64(len(vals)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return vals[lo]
	}
	frac := rank - float64(lo)
	return vals[lo]*(1-frac) + vals[hi]*frac
}

// topBottomK implements topk/bottomk: the k samples with
// largest (or smallest) value, ties broken by fingerprint for determinism.
func topBottomK(samples []Sample, k int, top bool) []Sample {
	if k <= 0 {
		return nil
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	sort.Slice(out, func(i, j int) bool {
		if out[i].V != out[j].V {
			if top {
				return out[i].V > out[j].V
			}
			return out[i].V < out[j].V
		}
		return out[i].Labels.Fingerprint() < out[j].Labels.Fingerprint()
	})
	if k > len(out) {
		k = len(out)
	}
	return out[:k]
}

// countValues implements count_values: groups samples by
// their numeric value, emitting one result per distinct value labeled
// with label=<value>.
func countValues(samples []Sample, label string, base labelset.LabelSet) []Sample {
	counts := make(map[float64]int64)
	var order []float64
	for _, s := range samples {
		if _, ok := counts[s.V]; !ok {
			order = append(order, s.V)
		}
		counts[s.V]++
	}
	sort.Float64s(order)
	out := make([]Sample, 0, len(order))
	for _, v := range order {
		b := labelset.NewBuilder()
		base.Range(func(l labelset.Label) { b.Add(l.Name, l.Value) })
		b.Add(label, fmt.Sprintf("%g", v))
		ls, err := b.Build()
		if err != nil {
			continue
		}
		out = append(out, Sample{Labels: ls, V: float64(counts[v])})
	}
	return out
}
