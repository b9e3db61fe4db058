package engine

import (
	"fmt"
	"math"

	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsql"
)

func (c *evalContext) evalBinary(e *metricsql.BinaryExpr) (value, error) {
	lhs, err := c.eval(e.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := c.eval(e.RHS)
	if err != nil {
		return nil, err
	}

	ls, lok := lhs.(scalarValue)
	rs, rok := rhs.(scalarValue)
	if lok && rok {
		v, keep := applyOp(e.Op, float64(ls), float64(rs), e.ReturnBool)
		if !keep {
			return scalarValue(math.NaN()), nil
		}
		return scalarValue(v), nil
	}

	lv, lIsVec := lhs.(vectorValue)
	rv, rIsVec := rhs.(vectorValue)

	if lIsVec && rok {
		return scalarBroadcast(lv, float64(rs), e.Op, e.ReturnBool, false), nil
	}
	if rIsVec && lok {
		return scalarBroadcast(rv, float64(ls), e.Op, e.ReturnBool, true), nil
	}
	if lIsVec && rIsVec {
		return vectorMatch(lv, rv, e)
	}
	return nil, fmt.Errorf("engine: unsupported binary operand types")
}

// applyOp applies a scalar binary op, returning (result, keep). keep is
// false when op is a comparison without the bool modifier and the
// comparison fails (the sample should be dropped from vector-vector
// matching).
func applyOp(op metricsql.BinaryOp, l, r float64, returnBool bool) (float64, bool) {
	switch op {
	case metricsql.OpAdd:
		return l + r, true
	case metricsql.OpSub:
		return l - r, true
	case metricsql.OpMul:
		return l * r, true
	case metricsql.OpDiv:
		return l / r, true
	case metricsql.OpMod:
		return math.Mod(l, r), true
	case metricsql.OpPow:
		return math.Pow(l, r), true
	case metricsql.OpEQ:
		return cmpResult(l == r, returnBool)
	case metricsql.OpNE:
		return cmpResult(l != r, returnBool)
	case metricsql.OpGT:
		return cmpResult(l > r, returnBool)
	case metricsql.OpLT:
		return cmpResult(l < r, returnBool)
	case metricsql.OpGE:
		return cmpResult(l >= r, returnBool)
	case metricsql.OpLE:
		return cmpResult(l <= r, returnBool)
	default:
		return 0, false
	}
}

func cmpResult(passed, returnBool bool) (float64, bool) {
	if returnBool {
		if passed {
			return 1, true
		}
		return 0, true
	}
	return 0, passed
}

func scalarBroadcast(vec vectorValue, scalar float64, op metricsql.BinaryOp, returnBool, scalarOnLeft bool) vectorValue {
	out := make(vectorValue, 0, len(vec))
	for _, s := range vec {
		l, r := s.V, scalar
		if scalarOnLeft {
			l, r = scalar, s.V
		}
		v, keep := applyOp(op, l, r, returnBool)
		if !keep {
			continue
		}
		out = append(out, Sample{Labels: s.Labels, TS: s.TS, V: v})
	}
	return out
}

// vectorMatch implements binary vector matching: strip the
// metric name from both sides, group by the effective label set (honoring
// on/ignoring and group_left/group_right), and apply op per matched pair.
func vectorMatch(lhs, rhs vectorValue, e *metricsql.BinaryExpr) (value, error) {
	if e.Op.IsSetOp() {
		return setOp(lhs, rhs, e.Op), nil
	}

	vm := e.Matching
	on := vm != nil && vm.On
	var matchLabels []string
	if vm != nil {
		matchLabels = vm.MatchLabels
	}

	rhsIndex := make(map[uint64][]Sample, len(rhs))
	for _, s := range rhs {
		key := matchKey(s.Labels, on, matchLabels)
		rhsIndex[key] = append(rhsIndex[key], s)
	}

	groupLeft := vm != nil && vm.GroupLeft
	groupRight := vm != nil && vm.GroupRight

	out := make(vectorValue, 0, len(lhs))
	for _, l := range lhs {
		key := matchKey(l.Labels, on, matchLabels)
		candidates := rhsIndex[key]
		if len(candidates) == 0 {
			continue
		}
		if !groupLeft && !groupRight && len(candidates) > 1 {
			return nil, fmt.Errorf("engine: many-to-many matching not allowed: matching labels must be unique on one side")
		}
		for _, r := range candidates {
			v, keep := applyOp(e.Op, l.V, r.V, e.ReturnBool)
			if !keep {
				continue
			}
			resultLabels := l.Labels
			if groupRight {
				resultLabels = r.Labels
			}
			out = append(out, Sample{Labels: stripMetricName(resultLabels), TS: l.TS, V: v})
		}
	}
	return out, nil
}

// setOp implements and/or/unless.
func setOp(lhs, rhs vectorValue, op metricsql.BinaryOp) vectorValue {
	rhsKeys := make(map[uint64]struct{}, len(rhs))
	for _, s := range rhs {
		rhsKeys[s.Labels.Fingerprint()] = struct{}{}
	}

	out := make(vectorValue, 0, len(lhs))
	switch op {
	case metricsql.OpAnd:
		for _, s := range lhs {
			if _, ok := rhsKeys[s.Labels.Fingerprint()]; ok {
				out = append(out, s)
			}
		}
	case metricsql.OpUnless:
		for _, s := range lhs {
			if _, ok := rhsKeys[s.Labels.Fingerprint()]; !ok {
				out = append(out, s)
			}
		}
	case metricsql.OpOr:
		out = append(out, lhs...)
		for _, s := range rhs {
			found := false
			for _, l := range lhs {
				if l.Labels.Fingerprint() == s.Labels.Fingerprint() {
					found = true
					break
				}
			}
			if !found {
				out = append(out, s)
			}
		}
	}
	return out
}

func stripMetricName(ls labelset.LabelSet) labelset.LabelSet {
	b := labelset.NewBuilder()
	ls.Range(func(l labelset.Label) {
		if l.Name != labelset.MetricName {
			b.Add(l.Name, l.Value)
		}
	})
	out, _ := b.Build()
	return out
}

// matchKey computes a fingerprint over the labels relevant to matching:
// on(labels) keeps only those named; ignoring(labels) drops them (and
// always drops __name__)
func matchKey(ls labelset.LabelSet, on bool, names []string) uint64 {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	b := labelset.NewBuilder()
	ls.Range(func(l labelset.Label) {
		if l.Name == labelset.MetricName {
			return
		}
		_, named := set[l.Name]
		keep := named == on
		if keep {
			b.Add(l.Name, l.Value)
		}
	})
	out, _ := b.Build()
	return out.Fingerprint()
}
