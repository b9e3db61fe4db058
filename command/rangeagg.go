package command

import (
	"math"

	"github.com/flashts/flashts/chunk"
)

// AggAlign selects which edge of the query range bucket indices are
// computed against: the range start, the range end, or an absolute
// timestamp.
type AggAlign uint8

const (
	AlignStart AggAlign = iota
	AlignEnd
	AlignAbsolute
)

// BucketTimestamp selects which edge of a bucket its reported timestamp
// names: the bucket's start, midpoint, or end.
type BucketTimestamp uint8

const (
	BucketStart BucketTimestamp = iota
	BucketMid
	BucketEnd
)

// BucketAggOp names a TS.RANGE AGGREGATION reducer. sum/avg/min/max/count
// are the common reducers; first/last/range/std/var and the
// countif/sumif/share/all/any/none family are RedisTimeSeries-heritage
// additions, gated by the CONDITION clause.
type BucketAggOp string

const (
	BucketSum      BucketAggOp = "sum"
	BucketAvg      BucketAggOp = "avg"
	BucketMin      BucketAggOp = "min"
	BucketMax      BucketAggOp = "max"
	BucketCount    BucketAggOp = "count"
	BucketFirst    BucketAggOp = "first"
	BucketLast     BucketAggOp = "last"
	BucketRange    BucketAggOp = "range"
	BucketStdP     BucketAggOp = "std.p"
	BucketVarP     BucketAggOp = "var.p"
	BucketRate     BucketAggOp = "rate"
	BucketIncrease BucketAggOp = "increase"
	BucketIRate    BucketAggOp = "irate"
	BucketCountIf  BucketAggOp = "countif"
	BucketSumIf    BucketAggOp = "sumif"
	BucketShare    BucketAggOp = "share"
	BucketAll      BucketAggOp = "all"
	BucketAny      BucketAggOp = "any"
	BucketNone     BucketAggOp = "none"
)

// ConditionOp is the comparison operator for a CONDITION clause.
type ConditionOp string

const (
	CondEQ ConditionOp = "=="
	CondNE ConditionOp = "!="
	CondGT ConditionOp = ">"
	CondLT ConditionOp = "<"
	CondGE ConditionOp = ">="
	CondLE ConditionOp = "<="
)

func (op ConditionOp) eval(v, bound float64) bool {
	switch op {
	case CondEQ:
		return v == bound
	case CondNE:
		return v != bound
	case CondGT:
		return v > bound
	case CondLT:
		return v < bound
	case CondGE:
		return v >= bound
	case CondLE:
		return v <= bound
	default:
		return false
	}
}

// Condition gates samples into the countif/sumif/share/all/any/none
// family.
type Condition struct {
	Op    ConditionOp
	Value float64
}

// AggregationSpec configures one TS.RANGE ... AGGREGATION clause.
type AggregationSpec struct {
	Op              BucketAggOp
	BucketMs        int64
	Align           AggAlign
	AlignTS         int64 // used when Align == AlignAbsolute
	Empty           bool
	BucketTimestamp BucketTimestamp
	Condition       *Condition
}

// Bucket is one aggregated output point.
type Bucket struct {
	TS    int64
	Value float64
}

// AggregateRange buckets samples (ascending by TS, as Series.Range returns
// them) into fixed-size buckets and reduces each one with spec.Op.
// Counter-aware ops (rate/increase/irate) apply per-bucket reset detection
// exactly as the plain rollup functions do (engine.counterIncrease), since
// each bucket is evaluated independently.
func AggregateRange(samples []chunk.Sample, from, to int64, spec AggregationSpec) []Bucket {
	if spec.BucketMs <= 0 {
		return nil
	}

	align := alignPoint(from, to, spec)
	firstBucket := floorDiv(from-align, spec.BucketMs)
	lastBucket := floorDiv(to-align, spec.BucketMs)

	byBucket := make(map[int64][]chunk.Sample)
	for _, s := range samples {
		b := floorDiv(s.TS-align, spec.BucketMs)
		byBucket[b] = append(byBucket[b], s)
	}

	var out []Bucket
	for b := firstBucket; b <= lastBucket; b++ {
		pts := byBucket[b]
		if len(pts) == 0 && !spec.Empty {
			continue
		}
		bucketStart := align + b*spec.BucketMs
		v := reduceBucket(spec, pts, float64(spec.BucketMs)/1000)
		out = append(out, Bucket{TS: bucketTimestamp(bucketStart, spec), Value: v})
	}
	return out
}

func alignPoint(from, to int64, spec AggregationSpec) int64 {
	switch spec.Align {
	case AlignEnd:
		return to
	case AlignAbsolute:
		return spec.AlignTS
	default:
		return from
	}
}

func bucketTimestamp(bucketStart int64, spec AggregationSpec) int64 {
	switch spec.BucketTimestamp {
	case BucketMid:
		return bucketStart + spec.BucketMs/2
	case BucketEnd:
		return bucketStart + spec.BucketMs
	default:
		return bucketStart
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func reduceBucket(spec AggregationSpec, pts []chunk.Sample, bucketSeconds float64) float64 {
	switch spec.Op {
	case BucketSum:
		return sumOf(pts)
	case BucketAvg:
		if len(pts) == 0 {
			return math.NaN()
		}
		return sumOf(pts) / float64(len(pts))
	case BucketMin:
		if len(pts) == 0 {
			return math.NaN()
		}
		m := pts[0].V
		for _, p := range pts[1:] {
			if p.V < m {
				m = p.V
			}
		}
		return m
	case BucketMax:
		if len(pts) == 0 {
			return math.NaN()
		}
		m := pts[0].V
		for _, p := range pts[1:] {
			if p.V > m {
				m = p.V
			}
		}
		return m
	case BucketCount:
		return float64(len(pts))
	case BucketFirst:
		if len(pts) == 0 {
			return math.NaN()
		}
		return pts[0].V
	case BucketLast:
		if len(pts) == 0 {
			return math.NaN()
		}
		return pts[len(pts)-1].V
	case BucketRange:
		if len(pts) == 0 {
			return math.NaN()
		}
		lo, hi := pts[0].V, pts[0].V
		for _, p := range pts[1:] {
			if p.V < lo {
				lo = p.V
			}
			if p.V > hi {
				hi = p.V
			}
		}
		return hi - lo
	case BucketStdP, BucketVarP:
		if len(pts) == 0 {
			return math.NaN()
		}
		var mean float64
		for _, p := range pts {
			mean += p.V
		}
		mean /= float64(len(pts))
		var variance float64
		for _, p := range pts {
			d := p.V - mean
			variance += d * d
		}
		variance /= float64(len(pts))
		if spec.Op == BucketVarP {
			return variance
		}
		return math.Sqrt(variance)
	case BucketRate, BucketIncrease, BucketIRate:
		return counterAggregate(spec.Op, pts, bucketSeconds)
	case BucketCountIf:
		return float64(countMatching(pts, spec.Condition))
	case BucketSumIf:
		var sum float64
		for _, p := range pts {
			if spec.Condition == nil || spec.Condition.Op.eval(p.V, spec.Condition.Value) {
				sum += p.V
			}
		}
		return sum
	case BucketShare:
		if len(pts) == 0 {
			return math.NaN()
		}
		return float64(countMatching(pts, spec.Condition)) / float64(len(pts))
	case BucketAll:
		return boolToFloat(countMatching(pts, spec.Condition) == len(pts))
	case BucketAny:
		return boolToFloat(countMatching(pts, spec.Condition) > 0)
	case BucketNone:
		return boolToFloat(countMatching(pts, spec.Condition) == 0)
	default:
		return math.NaN()
	}
}

func countMatching(pts []chunk.Sample, cond *Condition) int {
	if cond == nil {
		return 0
	}
	n := 0
	for _, p := range pts {
		if cond.Op.eval(p.V, cond.Value) {
			n++
		}
	}
	return n
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sumOf(pts []chunk.Sample) float64 {
	var sum float64
	for _, p := range pts {
		sum += p.V
	}
	return sum
}

// counterAggregate applies per-bucket counter-reset-aware rate/increase/
// irate over pts, the samples falling in one bucket. rate divides the
// bucket's total increase by bucketSeconds (the declared bucket width);
// irate, an instant rate, divides by the gap between the bucket's last
// two samples instead.
func counterAggregate(op BucketAggOp, pts []chunk.Sample, bucketSeconds float64) float64 {
	if len(pts) < 2 {
		return math.NaN()
	}
	if op == BucketIRate {
		last, prev := pts[len(pts)-1], pts[len(pts)-2]
		d := last.V - prev.V
		if d < 0 {
			d = last.V
		}
		dur := float64(last.TS-prev.TS) / 1000
		if dur <= 0 {
			return math.NaN()
		}
		return d / dur
	}
	var total float64
	for i := 1; i < len(pts); i++ {
		d := pts[i].V - pts[i-1].V
		if d < 0 {
			total += pts[i].V
		} else {
			total += d
		}
	}
	if op == BucketIncrease {
		return total
	}
	if bucketSeconds <= 0 {
		return math.NaN()
	}
	return total / bucketSeconds
}
