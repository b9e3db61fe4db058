// Package engine implements the instant/range query evaluator over the
// metricsql AST: per-step vector matching,
// rollup windows, bucketed aggregation, and ephemeral-sample lookbehind.
// Grounded on prometheus-prometheus/promql/engine.go's step-iteration
// shape and promql/functions.go's per-function dispatch table.
package engine

import (
	"fmt"
	"sort"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/series"
)

// Sample is one (labels, timestamp, value) point in an instant result.
type Sample struct {
	Labels labelset.LabelSet
	TS     int64
	V      float64
}

// Vector is an instant query result: at most one sample per series.
type Vector []Sample

// SeriesResult is one series' points in a range query result.
type SeriesResult struct {
	Labels labelset.LabelSet
	Points []chunk.Sample
}

// Matrix is a range query result: one SeriesResult per matched series.
type Matrix []SeriesResult

// SortByFingerprint orders m deterministically by each series' label
// fingerprint.
func (m Matrix) SortByFingerprint() {
	sort.Slice(m, func(i, j int) bool {
		return m[i].Labels.Fingerprint() < m[j].Labels.Fingerprint()
	})
}

// SortByFingerprint orders v deterministically by each sample's label
// fingerprint.
func (v Vector) SortByFingerprint() {
	sort.Slice(v, func(i, j int) bool {
		return v[i].Labels.Fingerprint() < v[j].Labels.Fingerprint()
	})
}

// SeriesSource is the subset of metricsdb.Database the evaluator needs:
// resolving matched series ids to their current Series. Series own their
// LabelSet; the index owns bitmaps over series-ids, not series pointers.
type SeriesSource interface {
	SeriesByID(id uint64) (*series.Series, bool)
	SelectIDs(groups [][]*index.Matcher) []uint64
}

// internal instant-evaluation value kinds, mirroring metricsql.ValueType
// but carrying actual data instead of just a type tag.
type valueKind uint8

const (
	kindVector valueKind = iota
	kindRangeVector
	kindScalar
	kindString
)

type value interface {
	kind() valueKind
}

type vectorValue Vector

func (vectorValue) kind() valueKind { return kindVector }

// rangeSeries is one series' windowed samples, the per-series unit a
// rollup function consumes. windowMs is the declared rollup window
// ([w] or a subquery's window), not the span between the first and last
// sample actually found in it — rate divides by windowMs, per spec
// Invariant 5, even when the matched samples don't reach the window edges.
type rangeSeries struct {
	labels   labelset.LabelSet
	points   []chunk.Sample
	windowMs int64
}

type rangeVectorValue []rangeSeries

func (rangeVectorValue) kind() valueKind { return kindRangeVector }

type scalarValue float64

func (scalarValue) kind() valueKind { return kindScalar }

type stringValue string

func (stringValue) kind() valueKind { return kindString }

func typeMismatch(want string, got value) error {
	return fmt.Errorf("engine: expected %s, got value kind %d", want, got.kind())
}
